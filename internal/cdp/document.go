// Package cdp implements the editable-document surface over a Chrome page
// driven through the DevTools protocol with go-rod. A small script installed
// in each document forwards input, keydown, frame insertions and window
// messages to Go through a runtime binding.
package cdp

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"handy/internal/surface"
)

//go:embed install.js
var installJS string

const bindingName = "__handy_binding"

// notice is a message from the installed script.
type notice struct {
	Doc       string `json:"doc"`
	Kind      string `json:"kind"`
	ID        int    `json:"id,omitempty"`
	Key       string `json:"key,omitempty"`
	Synthetic bool   `json:"synthetic,omitempty"`
	Data      string `json:"data,omitempty"`
}

func decodeNotice(payload string) (notice, error) {
	var n notice
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return notice{}, fmt.Errorf("cdp: decode notice: %w", err)
	}
	if n.Kind == "" || n.Doc == "" {
		return notice{}, errors.New("cdp: notice without kind or document")
	}
	return n, nil
}

// Document is a page or frame document in a Chrome tab.
type Document struct {
	page   *rod.Page
	id     string
	url    string
	win    *Window
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	post      func(func())
	listeners map[surface.EventKind]map[int]func(surface.Event)
	observers map[int]func([]surface.Mutation)
	nextID    int
	children  map[string]*Document
}

var _ surface.Document = (*Document)(nil)

// NewDocument installs the forwarding script in page's current document.
// Navigating the page replaces the document; attach a new one afterwards.
func NewDocument(ctx context.Context, page *rod.Page, logger *slog.Logger) (*Document, error) {
	return newDocument(ctx, page, nil, logger)
}

func newDocument(ctx context.Context, page *rod.Page, parent *Window, logger *slog.Logger) (*Document, error) {
	if logger == nil {
		logger = slog.Default()
	}
	info, err := page.Info()
	if err != nil {
		return nil, fmt.Errorf("cdp: page info: %w", err)
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		logger.Debug("add binding failed (may already exist)", "error", err)
	}
	res, err := page.Eval(installJS, bindingName, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("cdp: install: %w", err)
	}

	dctx, cancel := context.WithCancel(ctx)
	d := &Document{
		page:      page,
		id:        res.Value.Str(),
		url:       info.URL,
		logger:    logger.With("document", info.URL),
		ctx:       dctx,
		cancel:    cancel,
		listeners: make(map[surface.EventKind]map[int]func(surface.Event)),
		observers: make(map[int]func([]surface.Mutation)),
		children:  make(map[string]*Document),
	}
	d.win = &Window{doc: d, parent: parent, handlers: make(map[int]func(surface.Window, []byte))}
	go d.listen()
	return d, nil
}

// listen receives the script's binding calls until the document closes.
func (d *Document) listen() {
	d.page.Context(d.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		n, err := decodeNotice(e.Payload)
		if err != nil {
			d.logger.Debug("ignoring binding payload", "error", err)
			return
		}
		if n.Doc != d.id {
			return
		}
		d.handle(n)
	})()
}

func (d *Document) handle(n notice) {
	switch n.Kind {
	case "input", "keydown":
		target, err := d.page.ElementByJS(rod.Eval(`(id) => window.__handyTake(id)`, n.ID))
		if err != nil {
			d.logger.Debug("event target unavailable", "error", err)
			return
		}
		ev := surface.Event{
			Kind:      surface.EventKind(n.Kind),
			Target:    &Element{page: d.page, el: target},
			Key:       n.Key,
			Synthetic: n.Synthetic,
		}
		d.dispatch(func() {
			for _, fn := range d.listenersFor(ev.Kind) {
				fn(ev)
			}
		})

	case "mutation":
		added, err := d.page.Elements("iframe")
		if err != nil {
			return
		}
		rec := []surface.Mutation{{Added: wrapElements(d.page, added)}}
		d.dispatch(func() {
			d.mu.Lock()
			obs := make([]func([]surface.Mutation), 0, len(d.observers))
			for _, fn := range d.observers {
				obs = append(obs, fn)
			}
			d.mu.Unlock()
			for _, fn := range obs {
				fn(rec)
			}
		})

	case "message":
		data := []byte(n.Data)
		d.dispatch(func() { d.win.deliver(data) })
	}
}

func (d *Document) listenersFor(kind surface.EventKind) []func(surface.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]func(surface.Event), 0, len(d.listeners[kind]))
	for _, fn := range d.listeners[kind] {
		out = append(out, fn)
	}
	return out
}

// SetDispatcher sets where forwarded events run. Without a dispatcher they
// run on the protocol goroutine.
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

// Page returns the underlying page.
func (d *Document) Page() *rod.Page { return d.page }

// URL implements surface.Document.
func (d *Document) URL() string { return d.url }

// Window implements surface.Document.
func (d *Document) Window() surface.Window { return d.win }

// ActiveSelection implements surface.Document.
func (d *Document) ActiveSelection() (surface.Selection, error) {
	return &Selection{page: d.page}, nil
}

// QuerySelectorAll implements surface.Document.
func (d *Document) QuerySelectorAll(selector string) ([]surface.Element, error) {
	els, err := d.page.Elements(selector)
	if err != nil {
		return nil, err
	}
	return wrapElements(d.page, els), nil
}

// Frames implements surface.Document.
func (d *Document) Frames() ([]surface.Frame, error) {
	els, err := d.page.Elements("iframe")
	if err != nil {
		return nil, err
	}
	out := make([]surface.Frame, 0, len(els))
	for _, el := range els {
		res, err := el.Eval(`(id) => this.__handyFrameId || (this.__handyFrameId = id)`, uuid.NewString())
		if err != nil {
			continue
		}
		out = append(out, &Frame{owner: d, el: el, id: res.Value.Str()})
	}
	return out, nil
}

// AddEventListener implements surface.Document.
func (d *Document) AddEventListener(kind surface.EventKind, fn func(surface.Event)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	if d.listeners[kind] == nil {
		d.listeners[kind] = make(map[int]func(surface.Event))
	}
	d.listeners[kind][id] = fn
	return func() {
		d.mu.Lock()
		delete(d.listeners[kind], id)
		d.mu.Unlock()
	}
}

// Observe implements surface.Document. Records list the document's frames
// whenever an insertion brings in a new one.
func (d *Document) Observe(fn func([]surface.Mutation)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.observers[id] = fn
	return func() {
		d.mu.Lock()
		delete(d.observers, id)
		d.mu.Unlock()
	}
}

// child returns the document loaded in a frame page, reusing the one
// created for the same document before.
func (d *Document) child(page *rod.Page) (*Document, error) {
	res, err := page.Eval(`() => window.__handyDocId || ""`)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	doc, ok := d.children[res.Value.Str()]
	d.mu.Unlock()
	if ok {
		return doc, nil
	}

	doc, err = newDocument(d.ctx, page, d.win, d.logger)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.children[doc.id] = doc
	d.mu.Unlock()
	return doc, nil
}

// Ping checks that the page still answers and still holds this
// document's hooks. It fails after the page navigated away.
func (d *Document) Ping(ctx context.Context) error {
	res, err := d.page.Context(ctx).Eval(`() => window.__handyDocId || ""`)
	if err != nil {
		return err
	}
	if id := res.Value.Str(); id != d.id {
		return fmt.Errorf("page %s no longer holds document %s", d.url, d.id)
	}
	return nil
}

// Close stops forwarding for the document and its frame documents.
func (d *Document) Close() {
	d.cancel()
	d.mu.Lock()
	children := d.children
	d.children = make(map[string]*Document)
	d.mu.Unlock()
	for _, c := range children {
		c.Close()
	}
}

// Frame is an iframe element of a document. The protocol reaches frames of
// any origin, so a loaded frame is always accessible.
type Frame struct {
	owner *Document
	el    *rod.Element
	id    string
}

var _ surface.Frame = (*Frame)(nil)

// ID implements surface.Frame.
func (f *Frame) ID() string { return f.id }

// Access implements surface.Frame.
func (f *Frame) Access() surface.Access {
	if _, err := f.Document(); err != nil {
		return surface.AccessNotLoaded
	}
	return surface.AccessAccessible
}

// Document implements surface.Frame.
func (f *Frame) Document() (surface.Document, error) {
	page, err := f.el.Frame()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", surface.ErrNotLoaded, err)
	}
	doc, err := f.owner.child(page)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", surface.ErrNotLoaded, err)
	}
	return doc, nil
}

// Window implements surface.Frame.
func (f *Frame) Window() surface.Window {
	doc, err := f.Document()
	if err != nil {
		return &Window{parent: f.owner.win}
	}
	return doc.Window()
}

// Window is a document's message endpoint. Messages from the page carry no
// sender.
type Window struct {
	doc    *Document
	parent *Window

	mu       sync.Mutex
	handlers map[int]func(surface.Window, []byte)
	nextID   int
}

var _ surface.Window = (*Window)(nil)

// PostMessage implements surface.Window. Windows without a document drop
// the message.
func (w *Window) PostMessage(_ surface.Window, data []byte) error {
	if w.doc == nil {
		return nil
	}
	_, err := w.doc.page.Eval(`(d) => window.postMessage(d, "*")`, string(data))
	return err
}

// OnMessage implements surface.Window.
func (w *Window) OnMessage(fn func(from surface.Window, data []byte)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.handlers == nil {
		w.handlers = make(map[int]func(surface.Window, []byte))
	}
	id := w.nextID
	w.nextID++
	w.handlers[id] = fn
	return func() {
		w.mu.Lock()
		delete(w.handlers, id)
		w.mu.Unlock()
	}
}

func (w *Window) deliver(data []byte) {
	w.mu.Lock()
	hs := make([]func(surface.Window, []byte), 0, len(w.handlers))
	for _, fn := range w.handlers {
		hs = append(hs, fn)
	}
	w.mu.Unlock()
	for _, fn := range hs {
		fn(nil, data)
	}
}

// Parent implements surface.Window.
func (w *Window) Parent() surface.Window {
	if w.parent == nil {
		return nil
	}
	return w.parent
}
