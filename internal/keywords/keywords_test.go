package keywords

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		keyword string
		snippet string
		wantMsg string
	}{
		{"valid", "addr", "221B Baker Street", ""},
		{"empty keyword", "", "x", "Keyword cannot be empty."},
		{"blank keyword", "   ", "x", "Keyword cannot be empty."},
		{"long keyword", strings.Repeat("k", 101), "x", "Keyword cannot exceed 100 characters."},
		{"max keyword", strings.Repeat("k", 100), "x", ""},
		{"multibyte keyword at limit", strings.Repeat("é", 100), "x", ""},
		{"angle bracket", "<sig>", "x", "Keyword contains invalid characters."},
		{"colon", "a:b", "x", "Keyword contains invalid characters."},
		{"quote", `a"b`, "x", "Keyword contains invalid characters."},
		{"backslash", `a\b`, "x", "Keyword contains invalid characters."},
		{"pipe", "a|b", "x", "Keyword contains invalid characters."},
		{"question mark", "a?", "x", "Keyword contains invalid characters."},
		{"star", "a*", "x", "Keyword contains invalid characters."},
		{"empty snippet", "k", " \n", "Replacement cannot be empty."},
		{"long snippet", "k", strings.Repeat("s", 3501), "Replacement text cannot exceed 3500 characters."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.keyword, tt.snippet)
			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.wantMsg, verr.Message)
		})
	}
}

func TestAddEditDelete(t *testing.T) {
	l := DefaultLimits()

	m, err := l.Add(Map{}, "brb", "be right back")
	require.NoError(t, err)
	assert.Equal(t, Map{"brb": "be right back"}, m)

	_, err = l.Add(m, "brb", "again")
	assert.ErrorIs(t, err, ErrKeywordExists)
	assert.Equal(t, "Keyword already exists.", ErrKeywordExists.Error())

	m, err = l.Add(m, "omw", "on my way")
	require.NoError(t, err)

	// Renaming onto an existing keyword is rejected
	_, err = l.Edit(m, "brb", "omw", "x")
	assert.ErrorIs(t, err, ErrKeywordExists)

	edited, err := l.Edit(m, "brb", "brb2", "be right back!")
	require.NoError(t, err)
	assert.Equal(t, Map{"brb2": "be right back!", "omw": "on my way"}, edited)

	// The input map is never mutated
	assert.Equal(t, "be right back", m["brb"])

	_, err = l.Edit(m, "nope", "x", "y")
	assert.ErrorIs(t, err, ErrKeywordNotFound)

	deleted, err := Delete(edited, "omw")
	require.NoError(t, err)
	assert.Equal(t, Map{"brb2": "be right back!"}, deleted)

	_, err = Delete(deleted, "omw")
	assert.ErrorIs(t, err, ErrKeywordNotFound)
}

func TestMapHelpers(t *testing.T) {
	m := Map{"b": "2", "a": "1", "c": "3"}
	assert.Equal(t, []string{"a", "b", "c"}, m.Keywords())

	merged := m.Merge(Map{"a": "one", "d": "4"})
	assert.Equal(t, Map{"a": "one", "b": "2", "c": "3", "d": "4"}, merged)
	assert.Equal(t, "1", m["a"])

	assert.True(t, m.Equal(m.Clone()))
	assert.False(t, m.Equal(merged))

	var nilMap Map
	assert.NotNil(t, nilMap.Clone())

	d := DefaultData()
	assert.True(t, d.Enabled)
	assert.Empty(t, d.Replacements)
}

// --- Import / export ---

func TestExportFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, Map{"sig": "Regards,\nAda", "addr": "Home"}))

	want := "{\n  \"replacements\": {\n    \"addr\": \"Home\",\n    \"sig\": \"Regards,\\nAda\"\n  }\n}\n"
	assert.Equal(t, want, buf.String())
}

func TestExportFileName(t *testing.T) {
	day := time.Date(2024, 3, 9, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, "handy-replacements-2024-03-09.json", ExportFileName(day))
}

func TestImportMergesAfterValidation(t *testing.T) {
	l := DefaultLimits()
	current := Map{"brb": "be right back", "ty": "thanks"}

	doc := `{"replacements": {"ty": "thank you", "np": "no problem"}, "enabled": true}`
	merged, n, err := l.Import(strings.NewReader(doc), current)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, Map{"brb": "be right back", "ty": "thank you", "np": "no problem"}, merged)
}

func TestImportRejectsWholeDocumentOnInvalidEntry(t *testing.T) {
	l := DefaultLimits()
	doc := `{"replacements": {"ok": "fine", "bad?": "nope"}}`
	merged, n, err := l.Import(strings.NewReader(doc), Map{"x": "y"})
	require.Error(t, err)
	assert.Nil(t, merged)
	assert.Zero(t, n)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "Keyword contains invalid characters.", verr.Message)
}

func TestParseDocumentShape(t *testing.T) {
	bad := []string{
		`not json`,
		`[]`,
		`{}`,
		`{"replacements": "text"}`,
		`{"replacements": {"k": 5}}`,
	}
	for _, doc := range bad {
		_, err := ParseDocument(strings.NewReader(doc))
		assert.ErrorIs(t, err, ErrInvalidDocument, "document %s", doc)
	}

	m, err := ParseDocument(strings.NewReader(`{"replacements": {}}`))
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestExportImportRoundTrip(t *testing.T) {
	m := Map{"hi": "hello", "sig": "<b>Ada</b>\nLovelace"}
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, m))

	got, err := ParseDocument(&buf)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}
