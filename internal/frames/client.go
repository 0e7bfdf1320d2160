package frames

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"handy/internal/keywords"
	"handy/internal/surface"
)

var (
	// ErrNoParent is returned when a top-level window asks for data.
	ErrNoParent = errors.New("frames: window has no parent")

	// ErrClientClosed is delivered to requests pending when the client
	// closes.
	ErrClientClosed = errors.New("frames: client closed")
)

type waiter struct {
	deliver func(keywords.Data, error)
	done    chan struct{}
}

// Client is the frame side of the channel. It requests data from the
// parent window and receives the updates the parent pushes. A Client is a
// data source for the frame's session.
type Client struct {
	win    surface.Window
	source string
	logger *slog.Logger

	mu       sync.Mutex
	waiters  map[int]*waiter
	nextID   int
	onUpdate func(keywords.Data)
	remove   func()
}

// NewClient returns a client for the frame window win. source is the
// source tag put on outgoing messages.
func NewClient(win surface.Window, source string, logger *slog.Logger) *Client {
	if source == "" {
		source = SourceIframeHandler
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{win: win, source: source, logger: logger, waiters: make(map[int]*waiter)}
}

// Start listens for updates. Updates that answer a pending Fetch go to
// that request; later ones go to onUpdate.
func (c *Client) Start(onUpdate func(keywords.Data)) {
	c.mu.Lock()
	c.onUpdate = onUpdate
	started := c.remove != nil
	c.mu.Unlock()
	if started {
		return
	}
	remove := c.win.OnMessage(c.handle)
	c.mu.Lock()
	c.remove = remove
	c.mu.Unlock()
}

// Fetch asks the parent for data. deliver runs once: with the next update,
// with ctx's error, or with ErrClientClosed.
func (c *Client) Fetch(ctx context.Context, deliver func(keywords.Data, error)) {
	parent := c.win.Parent()
	if parent == nil {
		deliver(keywords.Data{}, ErrNoParent)
		return
	}

	w := &waiter{deliver: deliver, done: make(chan struct{})}
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.waiters[id] = w
	c.mu.Unlock()

	payload, err := NewGetData(c.source).Encode()
	if err == nil {
		err = parent.PostMessage(c.win, payload)
	}
	if err != nil {
		if c.take(id) {
			close(w.done)
			deliver(keywords.Data{}, err)
		}
		return
	}

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				if c.take(id) {
					close(w.done)
					deliver(keywords.Data{}, ctx.Err())
				}
			case <-w.done:
			}
		}()
	}
}

func (c *Client) take(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.waiters[id]; !ok {
		return false
	}
	delete(c.waiters, id)
	return true
}

// Ready announces to the parent that the frame is listening.
func (c *Client) Ready(url string) error {
	parent := c.win.Parent()
	if parent == nil {
		return ErrNoParent
	}
	payload, err := NewIframeReady(c.source, url).Encode()
	if err != nil {
		return err
	}
	return parent.PostMessage(c.win, payload)
}

// handle accepts data updates from the parent window. Transports that do
// not report the sender deliver a nil from, which is trusted on the tag.
func (c *Client) handle(from surface.Window, raw []byte) {
	if from != nil && from != c.win.Parent() {
		return
	}
	msg, err := Decode(raw)
	if err != nil || !msg.FromParent() || msg.Type != MsgDataUpdate {
		return
	}
	data := msg.Data()

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = make(map[int]*waiter)
	onUpdate := c.onUpdate
	c.mu.Unlock()

	for _, w := range waiters {
		close(w.done)
		w.deliver(data.Clone(), nil)
	}
	if len(waiters) == 0 && onUpdate != nil {
		onUpdate(data)
	}
}

// Close stops listening and fails pending requests.
func (c *Client) Close() {
	c.mu.Lock()
	remove := c.remove
	c.remove = nil
	waiters := c.waiters
	c.waiters = make(map[int]*waiter)
	c.onUpdate = nil
	c.mu.Unlock()

	if remove != nil {
		remove()
	}
	for _, w := range waiters {
		close(w.done)
		w.deliver(keywords.Data{}, ErrClientClosed)
	}
}
