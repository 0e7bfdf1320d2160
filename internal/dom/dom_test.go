package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handy/internal/surface"
)

func TestInputTypeAndFormFields(t *testing.T) {
	doc := NewDocument("https://example.com/")
	plain := doc.CreateElement("input")
	search := doc.CreateElement("INPUT", "type", "Search")
	area := doc.CreateElement("textarea")
	div := doc.CreateElement("div")

	assert.Equal(t, "INPUT", plain.TagName())
	assert.Equal(t, "text", plain.InputType())
	assert.Equal(t, "search", search.InputType())
	assert.Equal(t, "textarea", area.InputType())
	assert.Equal(t, "", div.InputType())

	require.NoError(t, area.SetValue("héllo"))
	pos, err := area.SelectionStart()
	require.NoError(t, err)
	assert.Equal(t, 5, pos, "offsets count characters")

	require.NoError(t, area.SetSelectionRange(9, 9))
	pos, _ = area.SelectionStart()
	assert.Equal(t, 5, pos, "selection clamps to the value")

	_, err = div.Value()
	assert.ErrorIs(t, err, surface.ErrNotSupported)
}

func TestContentEditableInheritance(t *testing.T) {
	doc := NewDocument("https://example.com/")
	outer := doc.CreateElement("div", "contenteditable", "true")
	inner := doc.CreateElement("p")
	locked := doc.CreateElement("span", "contenteditable", "false")
	outer.Append(inner, locked)
	doc.Body().Append(outer)

	assert.True(t, outer.IsContentEditable())
	assert.True(t, inner.IsContentEditable())
	assert.False(t, locked.IsContentEditable())
	assert.False(t, doc.Body().IsContentEditable())
}

func TestInnerHTMLRoundTrip(t *testing.T) {
	doc := NewDocument("https://example.com/")
	el := doc.CreateElement("div", "contenteditable", "true")
	doc.Body().Append(el)

	require.NoError(t, el.SetInnerHTML("Dear <b>Ada</b>,<br>thanks &amp; bye"))
	markup, err := el.InnerHTML()
	require.NoError(t, err)
	assert.Equal(t, "Dear <b>Ada</b>,<br/>thanks &amp; bye", markup)

	text, err := el.TextContent()
	require.NoError(t, err)
	assert.Equal(t, "Dear Ada,thanks & bye", text)
}

func TestQuerySelectorAll(t *testing.T) {
	doc := NewDocument("https://example.com/")
	require.NoError(t, doc.Body().SetInnerHTML(`
		<div class="cke_editable x" id="one"></div>
		<div data-cke-editor="1"><input type="text" id="field"></div>
		<span class="uiInput"><textarea></textarea></span>`))

	els, err := doc.QuerySelectorAll(".cke_editable, [data-cke-editor], .cke_editor")
	require.NoError(t, err)
	require.Len(t, els, 2)
	id, _ := els[0].Attr("id")
	assert.Equal(t, "one", id)

	els, err = doc.QuerySelectorAll(`input[type="text"]`)
	require.NoError(t, err)
	require.Len(t, els, 1)

	els, err = doc.QuerySelectorAll("span.uiInput")
	require.NoError(t, err)
	require.Len(t, els, 1)
	inner, err := els[0].QuerySelectorAll("textarea")
	require.NoError(t, err)
	assert.Len(t, inner, 1)

	_, err = doc.QuerySelectorAll("div > span")
	assert.Error(t, err)
}

func TestSelectionReplaceWithTextInTextNode(t *testing.T) {
	doc := NewDocument("https://example.com/")
	el := doc.CreateElement("div", "contenteditable", "true")
	txt := doc.CreateTextNode("say hi, there")
	el.Append(txt)
	doc.Body().Append(el)

	doc.Select(txt, 4, 7)
	sel, err := doc.ActiveSelection()
	require.NoError(t, err)
	s, err := sel.String()
	require.NoError(t, err)
	assert.Equal(t, "hi,", s)

	require.NoError(t, sel.ReplaceWithText("hello,"))
	content, _ := el.TextContent()
	assert.Equal(t, "say hello, there", content)

	node, err := sel.StartContainer()
	require.NoError(t, err)
	assert.Equal(t, surface.NodeElement, node.NodeType())
	start, end := doc.sel.Offsets()
	assert.Equal(t, 2, start, "caret sits after the inserted node")
	assert.Equal(t, start, end)
}

func TestTypeIntoFieldAndEditable(t *testing.T) {
	doc := NewDocument("https://example.com/")
	field := doc.CreateElement("input")
	editable := doc.CreateElement("div", "contenteditable", "")
	doc.Body().Append(field, editable)

	var kinds []surface.EventKind
	var keys []string
	remove := doc.AddEventListener(surface.EventKeyDown, func(ev surface.Event) {
		kinds = append(kinds, ev.Kind)
		keys = append(keys, ev.Key)
	})
	doc.AddEventListener(surface.EventInput, func(ev surface.Event) {
		kinds = append(kinds, ev.Kind)
		assert.False(t, ev.Synthetic)
	})

	doc.Type(field, "a ")
	v, _ := field.Value()
	assert.Equal(t, "a ", v)
	assert.Equal(t, []string{"a", " "}, keys)
	assert.Equal(t, []surface.EventKind{"keydown", "input", "keydown", "input"}, kinds)

	remove()
	assert.Equal(t, 0, doc.ListenerCount(surface.EventKeyDown))

	doc.Type(editable, "hi,")
	text, _ := editable.TextContent()
	assert.Equal(t, "hi,", text)
	node, err := doc.sel.StartContainer()
	require.NoError(t, err)
	assert.Equal(t, surface.NodeText, node.NodeType())
	start, _ := doc.sel.Offsets()
	assert.Equal(t, 3, start)
}

func TestObserveReportsInsertedElements(t *testing.T) {
	doc := NewDocument("https://example.com/")
	var queued []func()
	doc.SetDispatcher(func(fn func()) { queued = append(queued, fn) })

	var added []surface.Element
	disconnect := doc.Observe(func(ms []surface.Mutation) {
		for _, m := range ms {
			added = append(added, m.Added...)
		}
	})

	// Detached subtrees are not observed until inserted
	wrapper := doc.CreateElement("section")
	wrapper.Append(doc.CreateElement("iframe"))
	assert.Empty(t, queued)

	doc.Body().Append(wrapper)
	require.Len(t, queued, 1)
	queued[0]()
	require.Len(t, added, 1)
	assert.Equal(t, "SECTION", added[0].TagName())

	disconnect()
	doc.Body().Append(doc.CreateElement("div"))
	assert.Len(t, queued, 1)
	assert.Equal(t, 0, doc.ObserverCount())
}

func TestFrameAccess(t *testing.T) {
	top := NewDocument("https://app.example.com/page")
	same := NewDocument("https://app.example.com/frame")
	cross := NewDocument("https://widgets.other.net/embed")

	sameFrame := top.AppendFrame(top.Body(), same)
	crossFrame := top.AppendFrame(top.Body(), cross)
	pending := top.AppendFrame(top.Body(), nil)

	assert.Equal(t, surface.AccessAccessible, sameFrame.Access())
	assert.Equal(t, surface.AccessCrossOrigin, crossFrame.Access())
	assert.Equal(t, surface.AccessNotLoaded, pending.Access())

	doc, err := sameFrame.Document()
	require.NoError(t, err)
	assert.Same(t, same, doc)

	_, err = crossFrame.Document()
	assert.ErrorIs(t, err, surface.ErrAccessDenied)
	_, err = pending.Document()
	assert.ErrorIs(t, err, surface.ErrNotLoaded)

	frames, err := top.Frames()
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.NotEqual(t, frames[0].ID(), frames[1].ID())

	blank := NewDocument("about:blank")
	pending.Load(blank)
	assert.Equal(t, surface.AccessAccessible, pending.Access())
}

func TestWindowMessaging(t *testing.T) {
	top := NewDocument("https://app.example.com/")
	child := NewDocument("https://widgets.other.net/")
	frame := top.AppendFrame(top.Body(), child)

	var got []string
	var source surface.Window
	remove := top.Window().OnMessage(func(from surface.Window, data []byte) {
		got = append(got, string(data))
		source = from
	})

	require.Same(t, top.Window(), child.Window().Parent())
	require.NoError(t, child.Window().Parent().PostMessage(child.Window(), []byte(`{"type":"x"}`)))
	assert.Equal(t, []string{`{"type":"x"}`}, got)
	assert.Same(t, frame.Window(), source)

	remove()
	require.NoError(t, top.Window().PostMessage(child.Window(), []byte("again")))
	assert.Len(t, got, 1)
	assert.Nil(t, top.Window().Parent())
}
