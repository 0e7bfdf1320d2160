// Package dom is an in-memory document model implementing the surface
// interfaces. Markup is parsed and serialized with golang.org/x/net/html.
//
// A Document is not safe for concurrent use. Hosts confine each document to
// one event loop; tests drive it from a single goroutine.
package dom

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"handy/internal/surface"
)

type node struct {
	kind     surface.NodeType
	tag      string // lower-case
	attrs    []html.Attribute
	data     string
	value    string
	selStart int
	selEnd   int
	parent   *node
	children []*node
	doc      *Document
	frame    *Frame
}

// Element is an element node.
type Element node

// Text is a text node.
type Text node

var (
	_ surface.Element = (*Element)(nil)
	_ surface.Text    = (*Text)(nil)
)

func wrap(n *node) surface.Node {
	if n == nil {
		return nil
	}
	if n.kind == surface.NodeText {
		return (*Text)(n)
	}
	return (*Element)(n)
}

func unwrap(n surface.Node) *node {
	switch v := n.(type) {
	case *Element:
		return (*node)(v)
	case *Text:
		return (*node)(v)
	}
	return nil
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (n *node) getAttr(name string) (string, bool) {
	for _, a := range n.attrs {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func (n *node) setAttr(name, val string) {
	for i, a := range n.attrs {
		if a.Namespace == "" && a.Key == name {
			n.attrs[i].Val = val
			return
		}
	}
	n.attrs = append(n.attrs, html.Attribute{Key: name, Val: val})
}

func (n *node) index() int {
	if n.parent == nil {
		return -1
	}
	for i, c := range n.parent.children {
		if c == n {
			return i
		}
	}
	return -1
}

// attached reports whether n is reachable from its document's body.
func (n *node) attached() bool {
	for p := n; p != nil; p = p.parent {
		if p.doc != nil && p == p.doc.body {
			return true
		}
	}
	return false
}

func (n *node) textContent(b *strings.Builder) {
	if n.kind == surface.NodeText {
		b.WriteString(n.data)
		return
	}
	for _, c := range n.children {
		c.textContent(b)
	}
}

func (n *node) walk(fn func(*node)) {
	for _, c := range n.children {
		fn(c)
		c.walk(fn)
	}
}

func (n *node) isFormField() bool {
	return n.kind == surface.NodeElement && (n.tag == "input" || n.tag == "textarea")
}

func (n *node) insertAt(i int, children ...*node) {
	for _, c := range children {
		if c.parent != nil {
			c.parent.removeChild(c)
		}
		c.parent = n
	}
	if i > len(n.children) {
		i = len(n.children)
	}
	tail := append([]*node(nil), n.children[i:]...)
	n.children = append(append(n.children[:i], children...), tail...)
}

func (n *node) removeChild(c *node) {
	i := c.index()
	if i < 0 {
		return
	}
	n.children = append(n.children[:i], n.children[i+1:]...)
	c.parent = nil
}

// --- Element ---

func (e *Element) n() *node { return (*node)(e) }

// NodeType implements surface.Node.
func (e *Element) NodeType() surface.NodeType { return surface.NodeElement }

// TagName returns the upper-case tag name.
func (e *Element) TagName() string { return strings.ToUpper(e.tag) }

// InputType implements surface.Element.
func (e *Element) InputType() string {
	switch e.tag {
	case "input":
		if t, ok := e.n().getAttr("type"); ok && t != "" {
			return strings.ToLower(t)
		}
		return "text"
	case "textarea":
		return "textarea"
	}
	return ""
}

// Attr returns the value of the named attribute.
func (e *Element) Attr(name string) (string, bool) { return e.n().getAttr(name) }

// SetAttr sets the named attribute.
func (e *Element) SetAttr(name, val string) { e.n().setAttr(name, val) }

// IsContentEditable follows the contenteditable attribute up the ancestor
// chain.
func (e *Element) IsContentEditable() bool {
	for p := e.n(); p != nil; p = p.parent {
		v, ok := p.getAttr("contenteditable")
		if !ok {
			continue
		}
		switch strings.ToLower(v) {
		case "", "true", "plaintext-only":
			return true
		default:
			return false
		}
	}
	return false
}

// Value returns the form field value.
func (e *Element) Value() (string, error) {
	if !e.n().isFormField() {
		return "", surface.ErrNotSupported
	}
	return e.value, nil
}

// SetValue replaces the value and moves the cursor to its end, as a
// programmatic assignment does in browsers.
func (e *Element) SetValue(value string) error {
	if !e.n().isFormField() {
		return surface.ErrNotSupported
	}
	e.value = value
	e.selStart = runeLen(value)
	e.selEnd = e.selStart
	return nil
}

// SelectionStart returns the cursor offset in characters.
func (e *Element) SelectionStart() (int, error) {
	if !e.n().isFormField() {
		return 0, surface.ErrNotSupported
	}
	return e.selStart, nil
}

// SelectionEnd returns the end of the field selection in characters.
func (e *Element) SelectionEnd() (int, error) {
	if !e.n().isFormField() {
		return 0, surface.ErrNotSupported
	}
	return e.selEnd, nil
}

// SetSelectionRange sets the field selection, clamped to the value.
func (e *Element) SetSelectionRange(start, end int) error {
	if !e.n().isFormField() {
		return surface.ErrNotSupported
	}
	l := runeLen(e.value)
	e.selStart = clamp(start, 0, l)
	e.selEnd = clamp(end, e.selStart, l)
	return nil
}

// TextContent concatenates the data of all descendant text nodes.
func (e *Element) TextContent() (string, error) {
	var b strings.Builder
	e.n().textContent(&b)
	return b.String(), nil
}

// SetTextContent replaces all children with a single text node.
func (e *Element) SetTextContent(s string) {
	for _, c := range append([]*node(nil), e.children...) {
		e.n().removeChild(c)
	}
	if s != "" {
		e.n().insertAt(0, &node{kind: surface.NodeText, data: s, doc: e.doc})
	}
}

// InnerHTML serializes the children of e.
func (e *Element) InnerHTML() (string, error) {
	return renderChildren(e.n())
}

// SetInnerHTML parses markup in the context of e and replaces its children.
func (e *Element) SetInnerHTML(markup string) error {
	children, err := parseChildren(e.n(), markup)
	if err != nil {
		return err
	}
	for _, c := range append([]*node(nil), e.children...) {
		e.n().removeChild(c)
	}
	e.n().insertAt(0, children...)
	if e.doc != nil {
		e.doc.repairSelection()
		if e.n().attached() {
			e.doc.notifyAdded(children)
		}
	}
	return nil
}

// QuerySelectorAll returns matching descendants in document order.
func (e *Element) QuerySelectorAll(selector string) ([]surface.Element, error) {
	sel, err := compileSelector(selector)
	if err != nil {
		return nil, err
	}
	return collect(e.n(), sel), nil
}

// Append adds children to the end of e. Nodes are moved if they already
// have a parent.
func (e *Element) Append(children ...surface.Node) {
	nodes := make([]*node, 0, len(children))
	for _, c := range children {
		if n := unwrap(c); n != nil {
			nodes = append(nodes, n)
		}
	}
	e.n().insertAt(len(e.children), nodes...)
	if e.doc != nil && e.n().attached() {
		e.doc.notifyAdded(nodes)
	}
}

// Remove detaches e from its parent.
func (e *Element) Remove() {
	if e.parent != nil {
		e.parent.removeChild(e.n())
	}
	if e.doc != nil {
		e.doc.repairSelection()
	}
}

// Children returns the child nodes of e.
func (e *Element) Children() []surface.Node {
	out := make([]surface.Node, 0, len(e.children))
	for _, c := range e.children {
		out = append(out, wrap(c))
	}
	return out
}

// --- Text ---

// NodeType implements surface.Node.
func (t *Text) NodeType() surface.NodeType { return surface.NodeText }

// Data returns the character data.
func (t *Text) Data() (string, error) { return t.data, nil }

// SetData replaces the character data. A selection inside the node is
// clamped to the new length.
func (t *Text) SetData(data string) error {
	t.data = data
	if t.doc != nil && t.doc.sel.node == (*node)(t) {
		l := runeLen(data)
		t.doc.sel.start = clamp(t.doc.sel.start, 0, l)
		t.doc.sel.end = clamp(t.doc.sel.end, t.doc.sel.start, l)
	}
	return nil
}

// ParentElement returns the element holding t.
func (t *Text) ParentElement() (surface.Element, error) {
	if t.parent == nil {
		return nil, surface.ErrDetached
	}
	return (*Element)(t.parent), nil
}

// Remove detaches t from its parent.
func (t *Text) Remove() {
	if t.parent != nil {
		t.parent.removeChild((*node)(t))
	}
	if t.doc != nil {
		t.doc.repairSelection()
	}
}
