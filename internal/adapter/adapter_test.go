package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handy/internal/dom"
	"handy/internal/matcher"
	"handy/internal/surface"
)

func match(keyword, snippet string, trigger rune) matcher.Result {
	return matcher.Result{Keyword: keyword, Snippet: snippet, Trigger: trigger}
}

// recorder wraps a strategy and records that it was tried.
type recorder struct {
	Strategy
	tried *[]string
}

func (r recorder) TryApply(t Target, m matcher.Result) bool {
	*r.tried = append(*r.tried, r.Name())
	return r.Strategy.TryApply(t, m)
}

func editable(doc *dom.Document, markup string) *dom.Element {
	el := doc.CreateElement("div", "contenteditable", "true")
	doc.Body().Append(el)
	if markup != "" {
		if err := el.SetInnerHTML(markup); err != nil {
			panic(err)
		}
	}
	return el
}

// --- Form field ---

func TestFormFieldRoundTrip(t *testing.T) {
	doc := dom.NewDocument("https://example.com/")
	field := doc.CreateElement("input")
	doc.Body().Append(field)
	require.NoError(t, field.SetValue("abc "))

	ok := (&FormField{}).TryApply(Target{Element: field, Document: doc}, match("abc", "ABC", ' '))
	require.True(t, ok)

	v, _ := field.Value()
	assert.Equal(t, "ABC ", v)
	pos, _ := field.SelectionStart()
	assert.Equal(t, 4, pos)
}

func TestFormFieldCursorArithmetic(t *testing.T) {
	doc := dom.NewDocument("https://example.com/")
	area := doc.CreateElement("textarea")
	require.NoError(t, area.SetValue("Hello sig."))

	ok := (&FormField{}).TryApply(Target{Element: area, Document: doc}, match("sig", "Ada Lovelace\nEngineer", '.'))
	require.True(t, ok)

	v, _ := area.Value()
	assert.Equal(t, "Hello Ada Lovelace\nEngineer.", v)
	pos, _ := area.SelectionStart()
	// 10 - len("sig.") + len(snippet) + 1
	assert.Equal(t, 10-4+21+1, pos)
}

func TestFormFieldShapeMismatch(t *testing.T) {
	doc := dom.NewDocument("https://example.com/")
	field := doc.CreateElement("input")
	require.NoError(t, field.SetValue("abc x"))

	ok := (&FormField{}).TryApply(Target{Element: field, Document: doc}, match("abc", "ABC", ' '))
	assert.False(t, ok)
	v, _ := field.Value()
	assert.Equal(t, "abc x", v)

	div := doc.CreateElement("div")
	assert.False(t, (&FormField{}).TryApply(Target{Element: div, Document: doc}, match("abc", "ABC", ' ')))
}

// --- Content-editable ---

func TestContentEditableRewritesMarkup(t *testing.T) {
	doc := dom.NewDocument("https://example.com/")
	el := editable(doc, "")
	txt := doc.CreateTextNode("hi,")
	el.Append(txt)
	doc.Select(txt, 3, 3)

	ok := (&ContentEditable{}).TryApply(Target{Element: el, Document: doc}, match("hi", "hello", ','))
	require.True(t, ok)

	text, _ := el.TextContent()
	assert.Equal(t, "hello,", text)

	sel, _ := doc.ActiveSelection()
	node, err := sel.StartContainer()
	require.NoError(t, err)
	assert.Equal(t, surface.NodeElement, node.NodeType(), "caret collapses to the end of the region")
}

func TestContentEditableSnippetMarkup(t *testing.T) {
	doc := dom.NewDocument("https://example.com/")
	el := editable(doc, "<p>Intro</p>")
	txt := doc.CreateTextNode("Thanks sig ")
	el.Append(txt)
	doc.Select(txt, 11, 11)

	snippet := "Regards,\n<b>Ada</b><script>alert(1)</script>"
	ok := (&ContentEditable{}).TryApply(Target{Element: el, Document: doc}, match("sig", snippet, ' '))
	require.True(t, ok)

	markup, _ := el.InnerHTML()
	assert.Equal(t, "<p>Intro</p>Thanks Regards,<br/><b>Ada</b> ", markup)
	assert.NotContains(t, markup, "script")
}

func TestContentEditableNonBreakingSpaceTrigger(t *testing.T) {
	doc := dom.NewDocument("https://example.com/")
	el := editable(doc, "")
	txt := doc.CreateTextNode("ok brb\u00a0")
	el.Append(txt)
	doc.Select(txt, 7, 7)

	ok := (&ContentEditable{}).TryApply(Target{Element: el, Document: doc}, match("brb", "be right back", '\u00a0'))
	require.True(t, ok)
	text, _ := el.TextContent()
	assert.Equal(t, "ok be right back\u00a0", text)
}

func TestContentEditableTextNodeFallback(t *testing.T) {
	doc := dom.NewDocument("https://example.com/")
	el := editable(doc, "")
	txt := doc.CreateTextNode("say hi,")
	el.Append(txt, doc.CreateElement("br"))
	doc.Select(txt, 7, 7)

	ok := (&ContentEditable{}).TryApply(Target{Element: el, Document: doc}, match("hi", "hello", ','))
	require.True(t, ok)

	markup, _ := el.InnerHTML()
	assert.Equal(t, "say hello,<br/>", markup)
	sel, _ := doc.ActiveSelection()
	node, _ := sel.StartContainer()
	assert.Same(t, txt, node)
	start, end := doc.SelectionOffsets()
	assert.Equal(t, 10, start)
	assert.Equal(t, 10, end)
}

func TestContentEditableRewritesWrappingBlock(t *testing.T) {
	doc := dom.NewDocument("https://example.com/")
	el := editable(doc, "")
	p := doc.CreateElement("p")
	txt := doc.CreateTextNode("sig ")
	p.Append(txt)
	el.Append(p)
	doc.Select(txt, 4, 4)

	ok := (&ContentEditable{}).TryApply(Target{Element: el, Document: doc}, match("sig", "Best,\nAlex", ' '))
	require.True(t, ok)

	markup, _ := el.InnerHTML()
	assert.Equal(t, "<p>Best,<br/>Alex </p>", markup)
	text, _ := el.TextContent()
	assert.NotContains(t, text, "sig")
}

func TestContentEditableRequiresTextNodeCaret(t *testing.T) {
	doc := dom.NewDocument("https://example.com/")
	el := editable(doc, "hi,")
	doc.Select(el, 1, 1)

	ok := (&ContentEditable{}).TryApply(Target{Element: el, Document: doc}, match("hi", "hello", ','))
	assert.False(t, ok)
	markup, _ := el.InnerHTML()
	assert.Equal(t, "hi,", markup)
}

// --- Selection fallback ---

func TestSelectionFallbackReplacesSelectedText(t *testing.T) {
	doc := dom.NewDocument("https://example.com/")
	p := doc.CreateElement("p")
	txt := doc.CreateTextNode("note: ty!")
	p.Append(txt)
	doc.Body().Append(p)
	doc.Select(txt, 6, 9)

	ok := (&SelectionFallback{}).TryApply(Target{Document: doc}, match("ty", "thank you", '!'))
	require.True(t, ok)
	text, _ := p.TextContent()
	assert.Equal(t, "note: thank you!", text)
}

func TestSelectionFallbackReplacesWholeRange(t *testing.T) {
	doc := dom.NewDocument("https://example.com/")
	p := doc.CreateElement("p")
	txt := doc.CreateTextNode("note: ty!")
	p.Append(txt)
	doc.Body().Append(p)
	doc.Select(txt, 0, 9)

	ok := (&SelectionFallback{}).TryApply(Target{Document: doc}, match("ty", "thank you", '!'))
	require.True(t, ok)
	text, _ := p.TextContent()
	assert.Equal(t, "thank you!", text)
}

// --- Chain ---

func TestChainFallbackOrder(t *testing.T) {
	doc := dom.NewDocument("https://example.com/")
	el := editable(doc, "hi,")
	// Range over the element's children: not a text-node caret
	doc.Select(el, 0, 1)

	var tried []string
	base := Default(nil, nil)
	var wrapped []Strategy
	for _, s := range base.strategies {
		wrapped = append(wrapped, recorder{Strategy: s, tried: &tried})
	}
	chain := NewChain(nil, wrapped...)

	name, ok := chain.Apply(Target{Element: el, Document: doc}, match("hi", "hello", ','))
	require.True(t, ok)
	assert.Equal(t, "selection", name)
	assert.Equal(t, []string{"contenteditable", "formfield", "selection"}, tried)

	text, _ := el.TextContent()
	assert.Equal(t, "hello,", text)
}

func TestChainAllFailLeavesDocumentUnmodified(t *testing.T) {
	doc := dom.NewDocument("https://example.com/")
	el := editable(doc, "<b>x</b>hi,")
	doc.Select(el, 2, 2)
	before, _ := doc.Body().InnerHTML()

	name, ok := Default(nil, nil).Apply(Target{Element: el, Document: doc}, match("hi", "hello", ','))
	assert.False(t, ok)
	assert.Empty(t, name)

	after, _ := doc.Body().InnerHTML()
	assert.Equal(t, before, after)
}

// deniedElement fails every access the way a cross-origin node does.
type deniedElement struct{}

func (deniedElement) NodeType() surface.NodeType       { return surface.NodeElement }
func (deniedElement) TagName() string                  { return "INPUT" }
func (deniedElement) InputType() string                { return "text" }
func (deniedElement) Attr(string) (string, bool)       { return "", false }
func (deniedElement) IsContentEditable() bool          { return true }
func (deniedElement) Value() (string, error)           { return "", surface.ErrAccessDenied }
func (deniedElement) SetValue(string) error            { return surface.ErrAccessDenied }
func (deniedElement) SelectionStart() (int, error)     { return 0, surface.ErrAccessDenied }
func (deniedElement) SetSelectionRange(int, int) error { return surface.ErrAccessDenied }
func (deniedElement) TextContent() (string, error)     { return "", surface.ErrAccessDenied }
func (deniedElement) InnerHTML() (string, error)       { return "", surface.ErrAccessDenied }
func (deniedElement) SetInnerHTML(string) error        { return surface.ErrAccessDenied }

func (deniedElement) QuerySelectorAll(string) ([]surface.Element, error) {
	return nil, surface.ErrAccessDenied
}

func TestChainSurvivesAccessDenied(t *testing.T) {
	doc := dom.NewDocument("https://example.com/")
	_, ok := Default(nil, nil).Apply(Target{Element: deniedElement{}, Document: doc}, match("hi", "hello", ','))
	assert.False(t, ok)
}

// --- Embedded editors ---

func TestEmbeddedEditorsEnabledByHost(t *testing.T) {
	hosts, err := NewHostMatcher(DefaultEmbeddedHosts)
	require.NoError(t, err)

	doc := dom.NewDocument("https://acme.lightning.force.com/lightning/r/Case")
	require.NoError(t, doc.Body().SetInnerHTML(`<div class="cke_editable" contenteditable="true"><p>Dear team,</p>hi,</div>`))
	opts := Options{Hosts: hosts}

	chain := ForURL(doc.URL(), opts)
	assert.Equal(t, []string{"contenteditable", "formfield", "ckeditor", "lightning", "selection"}, chain.Strategies())

	name, ok := chain.Apply(Target{Element: doc.Body(), Document: doc}, match("hi", "hello\nthere", ','))
	require.True(t, ok)
	assert.Equal(t, "ckeditor", name)
	markup, _ := doc.Body().InnerHTML()
	assert.Equal(t, `<div class="cke_editable" contenteditable="true"><p>Dear team,</p>hello<br/>there,</div>`, markup)

	other := ForURL("https://example.com/", opts)
	assert.Equal(t, []string{"contenteditable", "formfield", "selection"}, other.Strategies())
}

func TestLightningFieldDescendant(t *testing.T) {
	doc := dom.NewDocument("https://acme.my.salesforce.com/")
	wrapper := doc.CreateElement("div", "class", "slds-form-element")
	area := doc.CreateElement("textarea")
	require.NoError(t, area.SetValue("Case closed, ty."))
	wrapper.Append(area)
	doc.Body().Append(wrapper)

	ok := Lightning(nil, nil).TryApply(Target{Document: doc}, match("ty", "thank you", '.'))
	require.True(t, ok)
	v, _ := area.Value()
	assert.Equal(t, "Case closed, thank you.", v)
	pos, _ := area.SelectionStart()
	assert.Equal(t, len([]rune(v)), pos)
}

func TestEmbeddedRebuildsFromText(t *testing.T) {
	doc := dom.NewDocument("https://example.com/")
	el := doc.CreateElement("div", "data-cke-editor", "1", "contenteditable", "true")
	require.NoError(t, el.SetInnerHTML("a &amp; <i>b</i> ty!<span></span>"))
	doc.Body().Append(el)

	ok := CKEditor(nil, nil).TryApply(Target{Document: doc}, match("ty", "thanks", '!'))
	require.True(t, ok)
	markup, _ := el.InnerHTML()
	assert.Equal(t, "a &amp; b thanks!", markup)
}

func TestHostMatcher(t *testing.T) {
	h, err := NewHostMatcher(DefaultEmbeddedHosts)
	require.NoError(t, err)

	assert.True(t, h.Match("https://acme.lightning.force.com/one"))
	assert.True(t, h.Match("https://na1.my.salesforce.com/"))
	assert.True(t, h.Match("https://ACME.Force.com:443/x"))
	assert.False(t, h.Match("https://force.com.evil.net/"))
	assert.False(t, h.Match("https://example.com/"))
	assert.False(t, h.Match("not a url"))

	var nilMatcher *HostMatcher
	assert.False(t, nilMatcher.Match("https://acme.force.com/"))
}
