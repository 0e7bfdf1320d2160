package cdp

import (
	"fmt"
	"strings"

	"github.com/go-rod/rod"

	"handy/internal/surface"
)

// Offsets cross the protocol boundary as runes; the page converts to and
// from UTF-16 code units.
const jsHelpers = `
const toUnits = (s, n) => Array.from(s).slice(0, n).join('').length;
const toRunes = (s, n) => Array.from(s.slice(0, n)).length;
`

func wrapElements(page *rod.Page, els rod.Elements) []surface.Element {
	out := make([]surface.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &Element{page: page, el: el})
	}
	return out
}

func wrapNode(page *rod.Page, el *rod.Element) (surface.Node, error) {
	res, err := el.Eval(`() => this.nodeType`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", surface.ErrDetached, err)
	}
	if res.Value.Int() == 3 {
		return &Text{page: page, el: el}, nil
	}
	return &Element{page: page, el: el}, nil
}

// Element is an element of a page.
type Element struct {
	page *rod.Page
	el   *rod.Element
}

var _ surface.Element = (*Element)(nil)

// NodeType implements surface.Node.
func (e *Element) NodeType() surface.NodeType { return surface.NodeElement }

func (e *Element) str(js string, args ...interface{}) (string, error) {
	res, err := e.el.Eval(js, args...)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// TagName implements surface.Element.
func (e *Element) TagName() string {
	tag, err := e.str(`() => this.tagName || ""`)
	if err != nil {
		return ""
	}
	return strings.ToUpper(tag)
}

// InputType implements surface.Element.
func (e *Element) InputType() string {
	typ, err := e.str(`() => this.tagName === "INPUT" || this.tagName === "TEXTAREA" ? this.type : ""`)
	if err != nil {
		return ""
	}
	return typ
}

// Attr implements surface.Element.
func (e *Element) Attr(name string) (string, bool) {
	v, err := e.el.Attribute(name)
	if err != nil || v == nil {
		return "", false
	}
	return *v, true
}

// IsContentEditable implements surface.Element.
func (e *Element) IsContentEditable() bool {
	res, err := e.el.Eval(`() => !!this.isContentEditable`)
	return err == nil && res.Value.Bool()
}

func (e *Element) formField() error {
	if !surface.IsFormField(e) {
		return surface.ErrNotSupported
	}
	return nil
}

// Value implements surface.Element.
func (e *Element) Value() (string, error) {
	if err := e.formField(); err != nil {
		return "", err
	}
	return e.str(`() => this.value`)
}

// SetValue implements surface.Element.
func (e *Element) SetValue(value string) error {
	if err := e.formField(); err != nil {
		return err
	}
	_, err := e.el.Eval(`(v) => { this.value = v }`, value)
	return err
}

// SelectionStart implements surface.Element.
func (e *Element) SelectionStart() (int, error) {
	if err := e.formField(); err != nil {
		return 0, err
	}
	res, err := e.el.Eval(`() => {` + jsHelpers + `return toRunes(this.value, this.selectionStart || 0) }`)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

// SetSelectionRange implements surface.Element.
func (e *Element) SetSelectionRange(start, end int) error {
	if err := e.formField(); err != nil {
		return err
	}
	_, err := e.el.Eval(`(s, n) => {`+jsHelpers+`this.setSelectionRange(toUnits(this.value, s), toUnits(this.value, n)) }`, start, end)
	return err
}

// TextContent implements surface.Element.
func (e *Element) TextContent() (string, error) {
	return e.str(`() => this.textContent || ""`)
}

// InnerHTML implements surface.Element.
func (e *Element) InnerHTML() (string, error) {
	return e.str(`() => this.innerHTML`)
}

// SetInnerHTML implements surface.Element.
func (e *Element) SetInnerHTML(markup string) error {
	_, err := e.el.Eval(`(m) => { this.innerHTML = m }`, markup)
	return err
}

// QuerySelectorAll implements surface.Element.
func (e *Element) QuerySelectorAll(selector string) ([]surface.Element, error) {
	els, err := e.el.Elements(selector)
	if err != nil {
		return nil, err
	}
	return wrapElements(e.page, els), nil
}

// Text is a text node of a page.
type Text struct {
	page *rod.Page
	el   *rod.Element
}

var _ surface.Text = (*Text)(nil)

// NodeType implements surface.Node.
func (t *Text) NodeType() surface.NodeType { return surface.NodeText }

// Data implements surface.Text.
func (t *Text) Data() (string, error) {
	res, err := t.el.Eval(`() => this.data`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// SetData implements surface.Text.
func (t *Text) SetData(data string) error {
	_, err := t.el.Eval(`(d) => { this.data = d }`, data)
	return err
}

// ParentElement implements surface.Text.
func (t *Text) ParentElement() (surface.Element, error) {
	res, err := t.el.Eval(`() => this.parentElement !== null`)
	if err != nil {
		return nil, err
	}
	if !res.Value.Bool() {
		return nil, surface.ErrDetached
	}
	parent, err := t.el.ElementByJS(rod.Eval(`() => this.parentElement`))
	if err != nil {
		return nil, err
	}
	return &Element{page: t.page, el: parent}, nil
}

func remote(n surface.Node) (*rod.Element, error) {
	switch v := n.(type) {
	case *Element:
		return v.el, nil
	case *Text:
		return v.el, nil
	}
	return nil, fmt.Errorf("cdp: foreign node %T", n)
}

// Selection is the live selection of a page document.
type Selection struct {
	page *rod.Page
}

var _ surface.Selection = (*Selection)(nil)

// RangeCount implements surface.Selection.
func (s *Selection) RangeCount() int {
	res, err := s.page.Eval(`() => window.getSelection().rangeCount`)
	if err != nil {
		return 0
	}
	return res.Value.Int()
}

// StartContainer implements surface.Selection.
func (s *Selection) StartContainer() (surface.Node, error) {
	el, err := s.page.ElementByJS(rod.Eval(`() => {
		const sel = window.getSelection();
		return sel.rangeCount ? sel.getRangeAt(0).startContainer : null;
	}`))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", surface.ErrDetached, err)
	}
	return wrapNode(s.page, el)
}

// String implements surface.Selection.
func (s *Selection) String() (string, error) {
	res, err := s.page.Eval(`() => window.getSelection().toString()`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// ReplaceWithText implements surface.Selection.
func (s *Selection) ReplaceWithText(text string) error {
	_, err := s.page.Eval(`(t) => {
		const sel = window.getSelection();
		if (!sel.rangeCount) throw new Error("no range");
		const r = sel.getRangeAt(0);
		r.deleteContents();
		const node = document.createTextNode(t);
		r.insertNode(node);
		r.setStartAfter(node);
		r.collapse(true);
		sel.removeAllRanges();
		sel.addRange(r);
	}`, text)
	return err
}

// Collapse implements surface.Selection.
func (s *Selection) Collapse(n surface.Node, offset int) error {
	el, err := remote(n)
	if err != nil {
		return err
	}
	_, err = s.page.Eval(`(node, n) => {`+jsHelpers+`
		const at = node.nodeType === 3 ? toUnits(node.data, n) : n;
		window.getSelection().collapse(node, at);
	}`, el.Object, offset)
	return err
}

// CollapseToEnd implements surface.Selection.
func (s *Selection) CollapseToEnd(target surface.Element) error {
	el, err := remote(target)
	if err != nil {
		return err
	}
	_, err = s.page.Eval(`(node) => {
		const r = document.createRange();
		r.selectNodeContents(node);
		r.collapse(false);
		const sel = window.getSelection();
		sel.removeAllRanges();
		sel.addRange(r);
	}`, el.Object)
	return err
}
