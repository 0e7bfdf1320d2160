package adapter

import (
	"log/slog"
	"strings"

	"handy/internal/matcher"
	"handy/internal/surface"
)

// FormField expands inside input and textarea elements.
type FormField struct {
	Logger *slog.Logger
}

// Name implements Strategy.
func (s *FormField) Name() string { return "formfield" }

// TryApply implements Strategy. The cursor lands where it was, shifted by
// the length difference between keyword and snippet.
func (s *FormField) TryApply(t Target, m matcher.Result) bool {
	el := t.Element
	if el == nil || !surface.IsFormField(el) {
		return false
	}
	cursor, err := el.SelectionStart()
	if err != nil {
		return fail(s.Logger, s.Name(), err)
	}
	value, err := el.Value()
	if err != nil {
		return fail(s.Logger, s.Name(), err)
	}
	suffix := m.Suffix()
	if !strings.HasSuffix(value, suffix) {
		return false
	}

	updated := strings.TrimSuffix(value, suffix) + m.Replacement()
	pos := cursor - runeLen(suffix) + runeLen(m.Snippet) + 1
	if pos < 0 {
		pos = 0
	}
	if n := runeLen(updated); pos > n {
		pos = n
	}
	if err := el.SetValue(updated); err != nil {
		return fail(s.Logger, s.Name(), err)
	}
	if err := el.SetSelectionRange(pos, pos); err != nil {
		// The value is already replaced; the cursor stays at the end.
		fail(s.Logger, s.Name()+": selection", err)
	}
	return true
}
