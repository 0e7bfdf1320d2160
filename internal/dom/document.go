package dom

import (
	"net/url"
	"strings"
	"sync"

	"handy/internal/surface"
)

type listener struct {
	fn      func(surface.Event)
	removed bool
}

type observer struct {
	fn           func([]surface.Mutation)
	disconnected bool
}

// Document is an in-memory document rooted at a body element.
type Document struct {
	url    string
	origin string
	body   *node
	sel    Selection
	win    *Window

	listeners map[surface.EventKind][]*listener
	observers []*observer

	mu   sync.Mutex
	post func(func())
}

var _ surface.Document = (*Document)(nil)

// NewDocument returns an empty document for rawURL.
func NewDocument(rawURL string) *Document {
	d := &Document{
		url:       rawURL,
		origin:    originOf(rawURL),
		listeners: make(map[surface.EventKind][]*listener),
	}
	d.body = &node{kind: surface.NodeElement, tag: "body", doc: d}
	d.sel.doc = d
	d.win = &Window{doc: d}
	return d
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

// SetDispatcher sets how asynchronous work (message delivery, mutation
// records) is scheduled. Without a dispatcher it runs synchronously.
func (d *Document) SetDispatcher(post func(func())) {
	d.mu.Lock()
	d.post = post
	d.mu.Unlock()
}

func (d *Document) dispatch(fn func()) {
	d.mu.Lock()
	post := d.post
	d.mu.Unlock()
	if post == nil {
		fn()
		return
	}
	post(fn)
}

// URL returns the document URL.
func (d *Document) URL() string { return d.url }

// Origin returns scheme://host, or "" for opaque URLs.
func (d *Document) Origin() string { return d.origin }

// Body returns the root element.
func (d *Document) Body() *Element { return (*Element)(d.body) }

// Window returns the document's window.
func (d *Document) Window() surface.Window { return d.win }

// CreateElement returns a detached element. attrs are name/value pairs.
func (d *Document) CreateElement(tag string, attrs ...string) *Element {
	n := &node{kind: surface.NodeElement, tag: strings.ToLower(tag), doc: d}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.setAttr(attrs[i], attrs[i+1])
	}
	if n.isFormField() {
		n.value, _ = n.getAttr("value")
		n.selStart = runeLen(n.value)
		n.selEnd = n.selStart
	}
	if n.tag == "iframe" {
		n.frame = d.newFrame(n)
	}
	return (*Element)(n)
}

// CreateTextNode returns a detached text node.
func (d *Document) CreateTextNode(data string) *Text {
	return (*Text)(&node{kind: surface.NodeText, data: data, doc: d})
}

// QuerySelectorAll returns matching elements in document order, the body
// included.
func (d *Document) QuerySelectorAll(selector string) ([]surface.Element, error) {
	sel, err := compileSelector(selector)
	if err != nil {
		return nil, err
	}
	var out []surface.Element
	if sel.matches(d.body) {
		out = append(out, (*Element)(d.body))
	}
	return append(out, collect(d.body, sel)...), nil
}

// Frames returns the frames of all attached iframe elements in document
// order.
func (d *Document) Frames() ([]surface.Frame, error) {
	var out []surface.Frame
	d.body.walk(func(n *node) {
		if n.frame != nil {
			out = append(out, n.frame)
		}
	})
	return out, nil
}

// AddEventListener implements surface.Document.
func (d *Document) AddEventListener(kind surface.EventKind, fn func(surface.Event)) func() {
	l := &listener{fn: fn}
	d.listeners[kind] = append(d.listeners[kind], l)
	return func() {
		l.removed = true
		ls := d.listeners[kind]
		for i, x := range ls {
			if x == l {
				d.listeners[kind] = append(ls[:i:i], ls[i+1:]...)
				break
			}
		}
	}
}

// ListenerCount returns the number of registered listeners for kind.
func (d *Document) ListenerCount(kind surface.EventKind) int {
	return len(d.listeners[kind])
}

// Dispatch delivers ev synchronously to the registered listeners.
func (d *Document) Dispatch(ev surface.Event) {
	for _, l := range append([]*listener(nil), d.listeners[ev.Kind]...) {
		if !l.removed {
			l.fn(ev)
		}
	}
}

// Observe implements surface.Document.
func (d *Document) Observe(fn func([]surface.Mutation)) func() {
	o := &observer{fn: fn}
	d.observers = append(d.observers, o)
	return func() {
		o.disconnected = true
		for i, x := range d.observers {
			if x == o {
				d.observers = append(d.observers[:i:i], d.observers[i+1:]...)
				break
			}
		}
	}
}

// ObserverCount returns the number of connected mutation observers.
func (d *Document) ObserverCount() int { return len(d.observers) }

func (d *Document) notifyAdded(nodes []*node) {
	var added []surface.Element
	for _, n := range nodes {
		if n.kind == surface.NodeElement {
			added = append(added, (*Element)(n))
		}
	}
	if len(added) == 0 || len(d.observers) == 0 {
		return
	}
	records := []surface.Mutation{{Added: added}}
	for _, o := range append([]*observer(nil), d.observers...) {
		o := o
		d.dispatch(func() {
			if !o.disconnected {
				o.fn(records)
			}
		})
	}
}

// --- Selection ---

// Selection is the document's single-range selection. Ranges never span
// containers.
type Selection struct {
	doc   *Document
	node  *node
	start int
	end   int
}

var _ surface.Selection = (*Selection)(nil)

// ActiveSelection returns the live selection.
func (d *Document) ActiveSelection() (surface.Selection, error) {
	return &d.sel, nil
}

// Select sets the selection to [start, end) within n.
func (d *Document) Select(n surface.Node, start, end int) {
	d.sel.node = unwrap(n)
	d.sel.start = start
	d.sel.end = end
	d.sel.normalize()
}

// SelectionOffsets returns the offsets of the live range within its
// container.
func (d *Document) SelectionOffsets() (start, end int) { return d.sel.start, d.sel.end }

// ClearSelection removes all ranges.
func (d *Document) ClearSelection() { d.sel.node = nil }

func (d *Document) repairSelection() {
	if d.sel.node != nil && !d.sel.node.attached() {
		d.sel.node = nil
	}
}

func (s *Selection) length() int {
	if s.node.kind == surface.NodeText {
		return runeLen(s.node.data)
	}
	return len(s.node.children)
}

func (s *Selection) normalize() {
	if s.node == nil {
		return
	}
	l := s.length()
	s.start = clamp(s.start, 0, l)
	s.end = clamp(s.end, s.start, l)
}

// RangeCount is 1 when the selection points into an attached node.
func (s *Selection) RangeCount() int {
	if s.node == nil || !s.node.attached() {
		return 0
	}
	return 1
}

// StartContainer returns the node holding the range.
func (s *Selection) StartContainer() (surface.Node, error) {
	if s.RangeCount() == 0 {
		return nil, surface.ErrDetached
	}
	return wrap(s.node), nil
}

// Offsets returns the range offsets within the container.
func (s *Selection) Offsets() (start, end int) { return s.start, s.end }

// String returns the selected text.
func (s *Selection) String() (string, error) {
	if s.RangeCount() == 0 {
		return "", nil
	}
	if s.node.kind == surface.NodeText {
		r := []rune(s.node.data)
		return string(r[s.start:s.end]), nil
	}
	var b strings.Builder
	for _, c := range s.node.children[s.start:s.end] {
		c.textContent(&b)
	}
	return b.String(), nil
}

// ReplaceWithText implements surface.Selection.
func (s *Selection) ReplaceWithText(text string) error {
	if s.RangeCount() == 0 {
		return surface.ErrDetached
	}
	inserted := &node{kind: surface.NodeText, data: text, doc: s.doc}

	if s.node.kind == surface.NodeText {
		parent := s.node.parent
		if parent == nil {
			return surface.ErrDetached
		}
		r := []rune(s.node.data)
		before, after := string(r[:s.start]), string(r[s.end:])
		s.node.data = before
		at := s.node.index() + 1
		parent.insertAt(at, inserted)
		if after != "" {
			parent.insertAt(at+1, &node{kind: surface.NodeText, data: after, doc: s.doc})
		}
		s.node, s.start, s.end = parent, at+1, at+1
		return nil
	}

	container := s.node
	for _, c := range append([]*node(nil), container.children[s.start:s.end]...) {
		container.removeChild(c)
	}
	container.insertAt(s.start, inserted)
	s.start++
	s.end = s.start
	return nil
}

// Collapse implements surface.Selection.
func (s *Selection) Collapse(n surface.Node, offset int) error {
	target := unwrap(n)
	if target == nil || target.doc != s.doc {
		return surface.ErrNotSupported
	}
	s.node, s.start, s.end = target, offset, offset
	s.normalize()
	return nil
}

// CollapseToEnd implements surface.Selection.
func (s *Selection) CollapseToEnd(el surface.Element) error {
	target := unwrap(el)
	if target == nil || target.doc != s.doc {
		return surface.ErrNotSupported
	}
	s.node = target
	s.start = len(target.children)
	s.end = s.start
	return nil
}
