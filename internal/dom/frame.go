package dom

import (
	"sync"

	"github.com/google/uuid"

	"handy/internal/surface"
)

// Frame is the browsing context of an iframe element.
type Frame struct {
	id    string
	el    *node
	owner *Document
	child *Document
	win   *Window
}

var _ surface.Frame = (*Frame)(nil)

func (d *Document) newFrame(el *node) *Frame {
	f := &Frame{id: uuid.NewString(), el: el, owner: d}
	f.win = &Window{parent: d.win}
	return f
}

// AppendFrame creates an iframe under parent and loads child into it. A nil
// child leaves the frame unloaded.
func (d *Document) AppendFrame(parent *Element, child *Document) *Frame {
	el := d.CreateElement("iframe")
	if child != nil {
		el.SetAttr("src", child.url)
	}
	f := el.frame
	f.Load(child)
	parent.Append(el)
	return f
}

// FrameOf returns the frame of an iframe element, or nil.
func FrameOf(el *Element) *Frame { return el.frame }

// ID implements surface.Frame.
func (f *Frame) ID() string { return f.id }

// Element returns the iframe element.
func (f *Frame) Element() *Element { return (*Element)(f.el) }

// Load navigates the frame to child, whose window becomes the frame's
// window. Documents with an opaque URL inherit the embedding document's
// origin, as about:blank does.
func (f *Frame) Load(child *Document) {
	if child == nil {
		return
	}
	if child.origin == "" {
		child.origin = f.owner.origin
	}
	f.child = child
	child.win.mu.Lock()
	child.win.parent = f.owner.win
	child.win.mu.Unlock()
	f.win = child.win
}

// Access implements surface.Frame.
func (f *Frame) Access() surface.Access {
	switch {
	case f.child == nil:
		return surface.AccessNotLoaded
	case f.child.origin != f.owner.origin:
		return surface.AccessCrossOrigin
	default:
		return surface.AccessAccessible
	}
}

// Document implements surface.Frame.
func (f *Frame) Document() (surface.Document, error) {
	switch f.Access() {
	case surface.AccessNotLoaded:
		return nil, surface.ErrNotLoaded
	case surface.AccessCrossOrigin:
		return nil, surface.ErrAccessDenied
	}
	return f.child, nil
}

// ContentDocument returns the loaded document regardless of origin. It is
// the test-side view of a cross-origin frame.
func (f *Frame) ContentDocument() *Document { return f.child }

// Window implements surface.Frame.
func (f *Frame) Window() surface.Window { return f.win }

// --- Window ---

type msgHandler struct {
	fn func(from surface.Window, data []byte)
}

// Window is a message endpoint. Delivery goes through the owning
// document's dispatcher.
type Window struct {
	parent *Window

	mu       sync.Mutex
	doc      *Document
	handlers []*msgHandler
}

var _ surface.Window = (*Window)(nil)

// PostMessage implements surface.Window. Messages to a window without a
// document are dropped.
func (w *Window) PostMessage(from surface.Window, data []byte) error {
	w.mu.Lock()
	doc := w.doc
	w.mu.Unlock()
	if doc == nil {
		return nil
	}
	payload := append([]byte(nil), data...)
	doc.dispatch(func() {
		w.mu.Lock()
		handlers := append([]*msgHandler(nil), w.handlers...)
		w.mu.Unlock()
		for _, h := range handlers {
			h.fn(from, payload)
		}
	})
	return nil
}

// OnMessage implements surface.Window.
func (w *Window) OnMessage(fn func(from surface.Window, data []byte)) func() {
	h := &msgHandler{fn: fn}
	w.mu.Lock()
	w.handlers = append(w.handlers, h)
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		for i, x := range w.handlers {
			if x == h {
				w.handlers = append(w.handlers[:i:i], w.handlers[i+1:]...)
				return
			}
		}
	}
}

// HandlerCount returns the number of registered message handlers.
func (w *Window) HandlerCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.handlers)
}

// Parent implements surface.Window.
func (w *Window) Parent() surface.Window {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.parent == nil {
		return nil
	}
	return w.parent
}
