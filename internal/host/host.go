// Package host attaches the expansion engine to a page: one session per
// document, fed from the settings store at the top level and from the
// parent document inside frames, with frame discovery and the cross-frame
// channel running alongside. Everything a Host does runs on one scheduler.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"handy/internal/adapter"
	"handy/internal/config"
	"handy/internal/frames"
	"handy/internal/keywords"
	"handy/internal/logging"
	"handy/internal/loop"
	"handy/internal/metrics"
	"handy/internal/session"
	"handy/internal/store"
	"handy/internal/surface"
)

// ErrAttached is returned when a document already has a session.
var ErrAttached = errors.New("host: document already attached")

// Scheduler runs a host's callbacks. loop.Loop and loop.Manual implement it.
type Scheduler interface {
	Post(fn func()) bool
	AfterFunc(d time.Duration, fn func()) (cancel func())
	Every(d time.Duration, fn func()) (cancel func())
}

// DataStore is the part of the settings store a host needs.
type DataStore interface {
	Fetch(ctx context.Context, deliver func(keywords.Data, error))
	Subscribe(fn func(store.Change)) (remove func())
}

// dispatcherSetter is implemented by documents that schedule their own
// asynchronous deliveries, such as dom.Document.
type dispatcherSetter interface {
	SetDispatcher(post func(func()))
}

// Options configures a Host.
type Options struct {
	// Store feeds the top-level session. Required by Attach.
	Store DataStore

	// Config supplies engine, frame and strategy settings. Defaults to
	// config.DefaultConfig().
	Config *config.Config

	// Scheduler runs the host. When nil the host starts and owns a loop.
	Scheduler Scheduler

	// Registry is shared between hosts of one process. Defaults to a new
	// registry.
	Registry *session.Registry

	Logger  *slog.Logger
	Metrics *metrics.HandyMetrics
}

// docContext is the engine attached to one document.
type docContext struct {
	doc       surface.Document
	session   *session.Session
	responder *frames.Responder
	injector  *frames.Injector
	client    *frames.Client
	cleanup   []func()
}

// Host is the engine attached to a page.
type Host struct {
	sched    Scheduler
	ownLoop  *loop.Loop
	registry *session.Registry
	cfg      *config.Config
	aopts    adapter.Options
	rootURL  string
	logger   *slog.Logger
	metrics  *metrics.HandyMetrics

	ctx      context.Context
	root     *docContext
	children map[surface.Document]*docContext

	closeOnce sync.Once
	closed    bool
}

func newHost(doc surface.Document, opts Options) (*Host, error) {
	if doc == nil {
		return nil, errors.New("host: document is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default().WithComponent("host")
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.GetMetrics()
	}
	aopts, err := cfg.Strategies.AdapterOptions()
	if err != nil {
		return nil, fmt.Errorf("host: strategies: %w", err)
	}
	aopts.Logger = logger.With("subsystem", "adapter")

	h := &Host{
		sched:    opts.Scheduler,
		registry: opts.Registry,
		cfg:      cfg,
		aopts:    aopts,
		rootURL:  doc.URL(),
		logger:   logger.With("page", doc.URL()),
		metrics:  m,
		children: make(map[surface.Document]*docContext),
	}
	if h.registry == nil {
		h.registry = session.NewRegistry()
	}
	if h.sched == nil {
		h.ownLoop = loop.New(loop.WithPanicHandler(func(r any) {
			h.logger.Error("callback panicked", "panic", r)
		}))
		h.sched = h.ownLoop
	}
	return h, nil
}

// Attach attaches the engine to a top-level document fed from opts.Store.
// Events the document delivers must arrive on the host's scheduler.
func Attach(ctx context.Context, doc surface.Document, opts Options) (*Host, error) {
	if opts.Store == nil {
		return nil, errors.New("host: store is required")
	}
	h, err := newHost(doc, opts)
	if err != nil {
		return nil, err
	}
	h.ctx = ctx

	var root *docContext
	unsubscribe := opts.Store.Subscribe(func(ch store.Change) {
		h.sched.Post(func() {
			if root != nil {
				h.applyChange(root.session, ch)
			}
		})
	})
	h.Do(func() {
		var c *docContext
		if c, err = h.attachDocument(ctx, doc, opts.Store); err != nil {
			return
		}
		c.cleanup = append(c.cleanup, unsubscribe)
		root = c
		h.root = c
	})
	if err != nil {
		unsubscribe()
		h.stopLoop()
		return nil, err
	}
	h.logger.Info("attached", "session", root.session.ID())
	return h, nil
}

// AttachFrame attaches the engine to a document running inside a frame the
// parent cannot script. Data comes from the parent over the message
// channel; the frame announces itself once its listeners are in place.
func AttachFrame(ctx context.Context, doc surface.Document, opts Options) (*Host, error) {
	h, err := newHost(doc, opts)
	if err != nil {
		return nil, err
	}

	client := frames.NewClient(doc.Window(), frames.SourceIframeHandler, h.logger)
	var s *session.Session
	client.Start(func(data keywords.Data) {
		h.sched.Post(func() {
			if s != nil {
				s.Apply(data)
			}
		})
	})
	var id string
	h.Do(func() {
		var c *docContext
		if c, err = h.attachDocument(ctx, doc, client); err != nil {
			return
		}
		c.client = client
		s = c.session
		id = s.ID()
		h.root = c
		if err := client.Ready(doc.URL()); err != nil {
			h.logger.Debug("ready announcement failed", "error", err)
		}
	})
	if err != nil {
		client.Close()
		h.stopLoop()
		return nil, err
	}
	h.logger.Info("attached to frame", "session", id)
	return h, nil
}

// attachDocument creates and starts the session for doc together with its
// responder and frame injector.
func (h *Host) attachDocument(ctx context.Context, doc surface.Document, src session.Source) (*docContext, error) {
	if ds, ok := doc.(dispatcherSetter); ok {
		ds.SetDispatcher(func(fn func()) { h.sched.Post(fn) })
	}

	s, created, err := h.registry.GetOrCreate(session.Options{
		Document:      doc,
		Scheduler:     h.sched,
		Source:        src,
		Chain:         adapter.ForURL(h.rootURL, h.aopts),
		InputTypes:    h.cfg.Engine.InputTypes,
		FollowUpDelay: h.cfg.Engine.FollowUpDelay(),
		Logger:        h.logger.With("document", doc.URL()),
		Metrics:       h.metrics,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, fmt.Errorf("%w: %s", ErrAttached, doc.URL())
	}

	c := &docContext{doc: doc, session: s}
	c.responder = frames.NewResponder(doc, s.Data, h.logger, h.metrics)
	c.responder.OnReady(func(_ surface.Window, url string) {
		h.logger.Debug("frame announced", "frame_url", url)
	})
	c.responder.Start()
	c.cleanup = append(c.cleanup, s.OnData(func(data keywords.Data) {
		c.responder.Notify(data)
	}))

	c.injector, err = frames.NewInjector(doc, frames.InjectorOptions{
		Scheduler:    h.sched,
		Attach:       func(f surface.Frame, fdoc surface.Document) (func(), error) { return h.attachChild(ctx, c, f, fdoc) },
		Data:         s.Data,
		PollInterval: h.cfg.Frames.PollInterval(),
		InjectDelay:  h.cfg.Frames.InjectDelay(),
		Stagger:      h.cfg.Frames.Stagger(),
		Logger:       h.logger,
		Metrics:      h.metrics,
	})
	if err != nil {
		c.responder.Close()
		s.Close()
		return nil, err
	}

	if err := s.Start(ctx); err != nil {
		c.responder.Close()
		s.Close()
		return nil, err
	}
	c.injector.Start()
	return c, nil
}

// attachChild attaches a session to an accessible frame's document, fed
// from the parent's session.
func (h *Host) attachChild(ctx context.Context, parent *docContext, f surface.Frame, doc surface.Document) (func(), error) {
	if h.closed {
		return nil, errors.New("host: closed")
	}
	c, err := h.attachDocument(ctx, doc, nil)
	if err != nil {
		return nil, err
	}
	child := c.session
	if parent.session.State() == session.StateActive {
		child.Apply(parent.session.Data())
	}
	c.cleanup = append(c.cleanup, parent.session.OnData(child.Apply))
	h.children[doc] = c
	h.logger.Debug("frame session attached", "frame", f.ID(), "session", child.ID())

	return func() {
		if h.children[doc] == c {
			delete(h.children, doc)
		}
		c.teardown()
	}, nil
}

// applyChange hands a store change to the session. Before the first
// payload the pending fetch may hold data older than the change, so it is
// replaced by a new one; afterwards only the changed keys are updated.
func (h *Host) applyChange(s *session.Session, ch store.Change) {
	switch s.State() {
	case session.StateActive:
	case session.StateAwaitingData:
		s.Refresh(h.ctx)
		return
	default:
		return
	}
	if ch.Has(store.KeyReplacements) {
		s.UpdateReplacements(ch.Data.Replacements)
	}
	if ch.Has(store.KeyEnabled) {
		s.UpdateEnabled(ch.Data.Enabled)
	}
}

func (c *docContext) teardown() {
	if c.injector != nil {
		c.injector.Close()
	}
	for i := len(c.cleanup) - 1; i >= 0; i-- {
		c.cleanup[i]()
	}
	c.cleanup = nil
	if c.client != nil {
		c.client.Close()
	}
	c.responder.Close()
	c.session.Close()
}

// Session returns the top-level session.
func (h *Host) Session() *session.Session { return h.root.session }

// Registry returns the registry holding the host's sessions.
func (h *Host) Registry() *session.Registry { return h.registry }

// Frames returns the number of frame sessions attached.
func (h *Host) Frames() int { return len(h.children) }

// Scheduler returns the scheduler the host runs on.
func (h *Host) Scheduler() Scheduler { return h.sched }

// Do runs fn on the host's scheduler and waits for it when the host owns
// its loop; otherwise fn runs on the caller, which must be the scheduler.
func (h *Host) Do(fn func()) bool {
	if h.ownLoop != nil {
		return h.ownLoop.Do(fn)
	}
	fn()
	return true
}

// Close tears down every session, observer, timer and listener the host
// installed. It is idempotent. With an owned loop it must not be called
// from the loop.
func (h *Host) Close() {
	h.closeOnce.Do(func() {
		h.Do(func() {
			h.closed = true
			if h.root != nil {
				h.root.teardown()
			}
			for doc, c := range h.children {
				c.teardown()
				delete(h.children, doc)
			}
		})
		h.stopLoop()
		h.logger.Info("detached")
	})
}

func (h *Host) stopLoop() {
	if h.ownLoop != nil {
		h.ownLoop.Close()
		h.ownLoop.Wait()
	}
}
