package frames

import (
	"errors"
	"log/slog"
	"time"

	"handy/internal/keywords"
	"handy/internal/metrics"
	"handy/internal/surface"
)

// Injection timing defaults.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultInjectDelay  = time.Second
	DefaultStagger      = 500 * time.Millisecond
)

// Scheduler runs the injector's callbacks. loop.Loop implements it.
type Scheduler interface {
	Post(fn func()) bool
	AfterFunc(d time.Duration, fn func()) (cancel func())
	Every(d time.Duration, fn func()) (cancel func())
}

// AttachFunc attaches the engine to the document of an accessible frame.
// detach is called when the frame disappears, navigates or the injector
// closes.
type AttachFunc func(f surface.Frame, doc surface.Document) (detach func(), err error)

// InjectorOptions configures an Injector.
type InjectorOptions struct {
	Scheduler Scheduler
	Attach    AttachFunc

	// Data returns the state pushed to cross-origin frames.
	Data func() keywords.Data

	PollInterval time.Duration
	InjectDelay  time.Duration
	Stagger      time.Duration

	Logger  *slog.Logger
	Metrics *metrics.HandyMetrics
}

type frameState struct {
	access surface.Access
	doc    surface.Document
	detach func()
}

// Injector watches a document for frames and injects the engine into each
// one after a delay: accessible frames get an attached session,
// cross-origin frames get a data push, and frames that have not loaded are
// retried on a later scan. All methods run on the scheduler.
type Injector struct {
	doc     surface.Document
	sched   Scheduler
	attach  AttachFunc
	data    func() keywords.Data
	poll    time.Duration
	delay   time.Duration
	stagger time.Duration
	logger  *slog.Logger
	metrics *metrics.HandyMetrics

	frames    map[string]*frameState
	scheduled map[string]func()

	stopPoll   func()
	disconnect func()
	started    bool
	closed     bool
}

// NewInjector returns an injector for doc.
func NewInjector(doc surface.Document, opts InjectorOptions) (*Injector, error) {
	if doc == nil {
		return nil, errors.New("frames: document is required")
	}
	if opts.Scheduler == nil {
		return nil, errors.New("frames: scheduler is required")
	}
	if opts.Attach == nil {
		return nil, errors.New("frames: attach func is required")
	}
	in := &Injector{
		doc:       doc,
		sched:     opts.Scheduler,
		attach:    opts.Attach,
		data:      opts.Data,
		poll:      opts.PollInterval,
		delay:     opts.InjectDelay,
		stagger:   opts.Stagger,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		frames:    make(map[string]*frameState),
		scheduled: make(map[string]func()),
	}
	if in.poll <= 0 {
		in.poll = DefaultPollInterval
	}
	if in.delay <= 0 {
		in.delay = DefaultInjectDelay
	}
	if in.stagger < 0 {
		in.stagger = 0
	}
	if in.data == nil {
		in.data = keywords.DefaultData
	}
	if in.logger == nil {
		in.logger = slog.Default()
	}
	if in.metrics == nil {
		in.metrics = metrics.GetMetrics()
	}
	return in, nil
}

// Start scans the existing frames, observes insertions and starts the
// periodic re-scan.
func (in *Injector) Start() {
	if in.started || in.closed {
		return
	}
	in.started = true
	in.disconnect = in.doc.Observe(in.observe)
	in.stopPoll = in.sched.Every(in.poll, func() { in.Scan() })
	in.Scan()
}

func (in *Injector) observe(records []surface.Mutation) {
	for _, rec := range records {
		for _, el := range rec.Added {
			if containsFrame(el) {
				in.Scan()
				return
			}
		}
	}
}

func containsFrame(el surface.Element) bool {
	if el.TagName() == "IFRAME" {
		return true
	}
	nested, err := el.QuerySelectorAll("iframe")
	return err == nil && len(nested) > 0
}

// Scan schedules injection into frames that need it and forgets frames
// that are gone. Each injection waits the injection delay plus one stagger
// step per injection already pending. It returns the number scheduled.
func (in *Injector) Scan() int {
	if in.closed {
		return 0
	}
	frames, err := in.doc.Frames()
	if err != nil {
		in.logger.Debug("listing frames failed", "error", err)
		return 0
	}

	present := make(map[string]bool, len(frames))
	n := 0
	for _, f := range frames {
		id := f.ID()
		present[id] = true
		if _, pending := in.scheduled[id]; pending || !in.needsInjection(f) {
			continue
		}
		f := f
		wait := in.delay + time.Duration(len(in.scheduled))*in.stagger
		in.scheduled[id] = in.sched.AfterFunc(wait, func() {
			delete(in.scheduled, id)
			in.inject(f)
		})
		n++
	}

	for id, st := range in.frames {
		if !present[id] {
			if st.detach != nil {
				st.detach()
			}
			delete(in.frames, id)
			in.logger.Debug("frame removed", "frame", id)
		}
	}
	for id, cancel := range in.scheduled {
		if !present[id] {
			cancel()
			delete(in.scheduled, id)
		}
	}
	return n
}

func (in *Injector) needsInjection(f surface.Frame) bool {
	st, ok := in.frames[f.ID()]
	if !ok {
		return f.Access() != surface.AccessNotLoaded
	}
	switch f.Access() {
	case surface.AccessAccessible:
		doc, err := f.Document()
		return err == nil && doc != st.doc
	case surface.AccessCrossOrigin:
		return st.access != surface.AccessCrossOrigin
	default:
		return false
	}
}

func (in *Injector) inject(f surface.Frame) {
	if in.closed {
		return
	}
	id := f.ID()
	prev := in.frames[id]

	switch access := f.Access(); access {
	case surface.AccessAccessible:
		doc, err := f.Document()
		if err != nil {
			in.logger.Debug("frame document unavailable", "frame", id, "error", err)
			return
		}
		if prev != nil && prev.doc == doc {
			return
		}
		in.release(id)
		detach, err := in.attach(f, doc)
		if err != nil {
			in.logger.Warn("attaching to frame failed", "frame", id, "frame_url", doc.URL(), "error", err)
			return
		}
		in.frames[id] = &frameState{access: access, doc: doc, detach: detach}
		in.metrics.RecordFrameAttached()
		in.logger.Debug("frame attached", "frame", id, "frame_url", doc.URL())

	case surface.AccessCrossOrigin:
		in.release(id)
		payload, err := NewDataUpdate(in.data()).Encode()
		if err == nil {
			err = f.Window().PostMessage(in.doc.Window(), payload)
		}
		if err != nil {
			in.logger.Debug("pushing data to frame failed", "frame", id, "error", err)
			return
		}
		in.frames[id] = &frameState{access: access}
		in.metrics.RecordFrameNotified()
		in.logger.Debug("cross-origin frame notified", "frame", id)

	default:
		// not loaded yet; the next scan retries
	}
}

func (in *Injector) release(id string) {
	if st, ok := in.frames[id]; ok {
		if st.detach != nil {
			st.detach()
		}
		delete(in.frames, id)
	}
}

// Attached returns the number of frames with an attached session.
func (in *Injector) Attached() int {
	n := 0
	for _, st := range in.frames {
		if st.access == surface.AccessAccessible {
			n++
		}
	}
	return n
}

// Notified returns the number of cross-origin frames that got a push.
func (in *Injector) Notified() int {
	return len(in.frames) - in.Attached()
}

// Pending returns the number of scheduled injections.
func (in *Injector) Pending() int { return len(in.scheduled) }

// Close stops observing and polling, cancels pending injections and
// detaches every attached frame. It is idempotent.
func (in *Injector) Close() {
	if in.closed {
		return
	}
	in.closed = true
	if in.disconnect != nil {
		in.disconnect()
	}
	if in.stopPoll != nil {
		in.stopPoll()
	}
	for id, cancel := range in.scheduled {
		cancel()
		delete(in.scheduled, id)
	}
	for id := range in.frames {
		in.release(id)
	}
}
