package cdp

import (
	"context"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handy/internal/logging"
	"handy/internal/surface"
)

func TestDecodeNotice(t *testing.T) {
	n, err := decodeNotice(`{"doc":"d1","kind":"keydown","id":4,"key":" ","synthetic":true}`)
	require.NoError(t, err)
	assert.Equal(t, notice{Doc: "d1", Kind: "keydown", ID: 4, Key: " ", Synthetic: true}, n)

	n, err = decodeNotice(`{"doc":"d1","kind":"message","data":"{\"type\":\"x\"}"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"x"}`, n.Data)

	for _, bad := range []string{`nope`, `{"kind":"input"}`, `{"doc":"d1"}`} {
		_, err := decodeNotice(bad)
		assert.Error(t, err, bad)
	}
}

func TestInstallScriptIsGuarded(t *testing.T) {
	assert.Contains(t, installJS, "window.__handyDocId")
	assert.Contains(t, installJS, "window.__handyTake")
}

// The browser tests need Chrome and are opt-in.
func openTestPage(t *testing.T, html string) *Document {
	t.Helper()
	if os.Getenv("HANDY_CDP_TEST") == "" {
		t.Skip("set HANDY_CDP_TEST=1 to run browser tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	b, err := Launch(ctx, Config{Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	doc, err := b.Open(ctx, "data:text/html,"+url.PathEscape(html))
	require.NoError(t, err)
	return doc
}

func TestFormFieldOffsetsAreRunes(t *testing.T) {
	doc := openTestPage(t, `<textarea></textarea><div contenteditable="true">x</div>`)

	els, err := doc.QuerySelectorAll("textarea")
	require.NoError(t, err)
	require.Len(t, els, 1)
	ta := els[0]
	assert.Equal(t, "TEXTAREA", ta.TagName())
	assert.Equal(t, "textarea", ta.InputType())

	require.NoError(t, ta.SetValue("😀 abc"))
	require.NoError(t, ta.SetSelectionRange(5, 5))
	pos, err := ta.SelectionStart()
	require.NoError(t, err)
	assert.Equal(t, 5, pos)

	divs, err := doc.QuerySelectorAll("div")
	require.NoError(t, err)
	require.Len(t, divs, 1)
	assert.True(t, divs[0].IsContentEditable())
	_, err = divs[0].Value()
	assert.ErrorIs(t, err, surface.ErrNotSupported)
}

func TestInputEventsAreForwarded(t *testing.T) {
	doc := openTestPage(t, `<input type="text">`)

	got := make(chan surface.Event, 8)
	remove := doc.AddEventListener(surface.EventInput, func(ev surface.Event) { got <- ev })
	defer remove()

	input, err := doc.Page().Element("input")
	require.NoError(t, err)
	require.NoError(t, input.Input("a"))

	select {
	case ev := <-got:
		assert.Equal(t, surface.EventInput, ev.Kind)
		assert.False(t, ev.Synthetic)
		v, err := ev.Target.Value()
		require.NoError(t, err)
		assert.Equal(t, "a", v)
	case <-time.After(10 * time.Second):
		t.Fatal("no input event forwarded")
	}
}

func TestSelectionInContentEditable(t *testing.T) {
	doc := openTestPage(t, `<div contenteditable="true">hi abc</div>`)
	divs, err := doc.QuerySelectorAll("div")
	require.NoError(t, err)
	require.Len(t, divs, 1)

	sel, err := doc.ActiveSelection()
	require.NoError(t, err)
	require.NoError(t, sel.CollapseToEnd(divs[0]))
	assert.Equal(t, 1, sel.RangeCount())

	node, err := sel.StartContainer()
	require.NoError(t, err)
	assert.Equal(t, surface.NodeElement, node.NodeType())

	text, err := divs[0].TextContent()
	require.NoError(t, err)
	assert.Equal(t, "hi abc", text)
}
