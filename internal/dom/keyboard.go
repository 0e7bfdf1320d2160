package dom

import (
	"handy/internal/surface"
)

// KeyName returns the KeyboardEvent key produced by typing r.
func KeyName(r rune) string {
	switch r {
	case '\n':
		return "Enter"
	case '\t':
		return "Tab"
	}
	return string(r)
}

// KeyDown dispatches a genuine keydown for key on el.
func (d *Document) KeyDown(el *Element, key string) {
	d.Dispatch(surface.Event{Kind: surface.EventKeyDown, Target: el, Key: key})
}

// InputEvent dispatches a genuine input event on el.
func (d *Document) InputEvent(el *Element) {
	d.Dispatch(surface.Event{Kind: surface.EventInput, Target: el})
}

// Insert performs the DOM update of typing text into el without
// dispatching events. Form fields replace their selection; editable
// regions insert at the document caret, or append when the caret is
// elsewhere.
func (d *Document) Insert(el *Element, text string) {
	n := el.n()
	if n.isFormField() {
		r := []rune(n.value)
		start, end := clamp(n.selStart, 0, len(r)), clamp(n.selEnd, 0, len(r))
		if end < start {
			end = start
		}
		n.value = string(r[:start]) + text + string(r[end:])
		n.selStart = start + runeLen(text)
		n.selEnd = n.selStart
		return
	}

	if s := &d.sel; s.node != nil && s.RangeCount() == 1 && within(s.node, n) {
		if s.node.kind == surface.NodeText {
			r := []rune(s.node.data)
			s.node.data = string(r[:s.start]) + text + string(r[s.end:])
			s.start += runeLen(text)
			s.end = s.start
			return
		}
		// Caret between children: extend the preceding text node if any.
		if s.start > 0 {
			if prev := s.node.children[s.start-1]; prev.kind == surface.NodeText {
				prev.data += text
				d.Select((*Text)(prev), runeLen(prev.data), runeLen(prev.data))
				return
			}
		}
		t := &node{kind: surface.NodeText, data: text, doc: d}
		s.node.insertAt(s.start, t)
		d.Select((*Text)(t), runeLen(text), runeLen(text))
		return
	}

	var last *node
	if k := len(n.children); k > 0 && n.children[k-1].kind == surface.NodeText {
		last = n.children[k-1]
		last.data += text
	} else {
		last = &node{kind: surface.NodeText, data: text, doc: d}
		n.insertAt(len(n.children), last)
	}
	d.Select((*Text)(last), runeLen(last.data), runeLen(last.data))
}

func within(n, ancestor *node) bool {
	for p := n; p != nil; p = p.parent {
		if p == ancestor {
			return true
		}
	}
	return false
}

// Type simulates the user typing text into el, one keystroke at a time:
// keydown, DOM update, then input.
func (d *Document) Type(el *Element, text string) {
	for _, r := range text {
		d.KeyDown(el, KeyName(r))
		d.Insert(el, string(r))
		d.InputEvent(el)
	}
}
