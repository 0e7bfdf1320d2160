// Package session holds the per-document replacement state machine.
//
// A Session owns the keyword map and enabled flag for one document, listens
// for input and keydown events on it, and runs matches through the adapter
// chain. Every method must be called on the session's scheduler; the
// document is expected to deliver its events there too.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"handy/internal/adapter"
	"handy/internal/keywords"
	"handy/internal/matcher"
	"handy/internal/metrics"
	"handy/internal/surface"
	"handy/internal/trigger"
)

// DefaultFollowUpDelay is how long after a trigger keydown the target is
// re-read.
const DefaultFollowUpDelay = 10 * time.Millisecond

// ErrClosed is returned when starting a closed session.
var ErrClosed = errors.New("session closed")

// State is the lifecycle state of a session.
type State int

const (
	StateUninitialized State = iota
	StateAwaitingData
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingData:
		return "awaiting-data"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Scheduler runs callbacks one at a time. loop.Loop implements it.
type Scheduler interface {
	Post(fn func()) bool
	AfterFunc(d time.Duration, fn func()) (cancel func())
}

// Source supplies replacement data. Fetch must not block: it calls deliver
// exactly once, from any goroutine.
type Source interface {
	Fetch(ctx context.Context, deliver func(keywords.Data, error))
}

// SourceFunc adapts a blocking loader to Source by running it on its own
// goroutine.
type SourceFunc func(ctx context.Context) (keywords.Data, error)

// Fetch implements Source.
func (f SourceFunc) Fetch(ctx context.Context, deliver func(keywords.Data, error)) {
	go func() { deliver(f(ctx)) }()
}

// Outcome describes what an input event led to.
type Outcome int

const (
	// OutcomeInactive means the session had no data yet or was closed.
	OutcomeInactive Outcome = iota
	// OutcomeSkipped means the event was synthetic.
	OutcomeSkipped
	// OutcomeNoTrigger means the target did not end in a trigger.
	OutcomeNoTrigger
	// OutcomeNoMatch means no keyword ended the text.
	OutcomeNoMatch
	// OutcomeSuppressed means the text already ended with the snippet.
	OutcomeSuppressed
	// OutcomeExpanded means a strategy replaced the keyword.
	OutcomeExpanded
	// OutcomeFailed means every strategy declined the match.
	OutcomeFailed
)

var outcomeNames = [...]string{"inactive", "skipped", "no-trigger", "no-match", "suppressed", "expanded", "failed"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result reports the handling of one input check.
type Result struct {
	Outcome  Outcome
	Match    matcher.Result
	Strategy string
}

// Options configures a Session.
type Options struct {
	// Document is the document the session serves. Required.
	Document surface.Document

	// Scheduler runs the session's callbacks. Required.
	Scheduler Scheduler

	// Source supplies the initial data. When nil the session waits for
	// Apply.
	Source Source

	// Chain applies matches. When nil the default chain for the document
	// URL is built from Adapter.
	Chain   *adapter.Chain
	Adapter adapter.Options

	// InputTypes are the INPUT types eligible for expansion.
	InputTypes []string

	// FollowUpDelay defaults to DefaultFollowUpDelay.
	FollowUpDelay time.Duration

	Logger  *slog.Logger
	Metrics *metrics.HandyMetrics

	onClose func(*Session)
}

// Session is the replacement state of one document.
type Session struct {
	id       string
	doc      surface.Document
	sched    Scheduler
	src      Source
	chain    *adapter.Chain
	detector *trigger.Detector
	delay    time.Duration
	logger   *slog.Logger
	metrics  *metrics.HandyMetrics

	state State
	data  keywords.Data
	index *matcher.Index
	gate  trigger.Gate

	listeners      []func()
	cancelFollowUp func()
	cancelFetch    context.CancelFunc
	subscribers    map[int]func(keywords.Data)
	nextSub        int
	onClose        func(*Session)
}

// New returns an uninitialized session. Call Start to attach it.
func New(opts Options) (*Session, error) {
	if opts.Document == nil {
		return nil, errors.New("session: document is required")
	}
	if opts.Scheduler == nil {
		return nil, errors.New("session: scheduler is required")
	}

	id := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session", id)

	chain := opts.Chain
	if chain == nil {
		aopts := opts.Adapter
		if aopts.Logger == nil {
			aopts.Logger = logger
		}
		chain = adapter.ForURL(opts.Document.URL(), aopts)
	}
	delay := opts.FollowUpDelay
	if delay <= 0 {
		delay = DefaultFollowUpDelay
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.GetMetrics()
	}

	return &Session{
		id:          id,
		doc:         opts.Document,
		sched:       opts.Scheduler,
		src:         opts.Source,
		chain:       chain,
		detector:    trigger.NewDetector(opts.InputTypes),
		delay:       delay,
		logger:      logger,
		metrics:     m,
		data:        keywords.DefaultData(),
		index:       matcher.NewIndex(nil),
		subscribers: make(map[int]func(keywords.Data)),
		onClose:     opts.onClose,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Document returns the document the session serves.
func (s *Session) Document() surface.Document { return s.doc }

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// Data returns a copy of the current data.
func (s *Session) Data() keywords.Data { return s.data.Clone() }

// Chain returns the adapter chain.
func (s *Session) Chain() *adapter.Chain { return s.chain }

// Start registers the event listeners and requests data from the source.
// Starting an already started session is a no-op.
func (s *Session) Start(ctx context.Context) error {
	switch s.state {
	case StateClosed:
		return ErrClosed
	case StateUninitialized:
	default:
		return nil
	}
	s.state = StateAwaitingData
	s.metrics.SessionStarted()

	s.listeners = append(s.listeners,
		s.doc.AddEventListener(surface.EventInput, func(ev surface.Event) { s.HandleInput(ev) }),
		s.doc.AddEventListener(surface.EventKeyDown, s.HandleKeyDown),
	)

	if s.src != nil {
		s.Refresh(ctx)
	}
	s.logger.Debug("session started", "url", s.doc.URL())
	return nil
}

// Refresh requests the data from the source again. The reply is applied
// on the scheduler.
func (s *Session) Refresh(ctx context.Context) {
	if s.src == nil || s.state == StateClosed {
		return
	}
	if s.cancelFetch != nil {
		s.cancelFetch()
	}
	fctx, cancel := context.WithCancel(ctx)
	s.cancelFetch = cancel
	s.src.Fetch(fctx, func(data keywords.Data, err error) {
		s.sched.Post(func() {
			if fctx.Err() != nil || s.state == StateClosed {
				return
			}
			if err != nil {
				s.logger.Warn("failed to load replacements", "error", err)
				return
			}
			s.Apply(data)
		})
	})
}

// Apply replaces the map and flag and activates the session.
func (s *Session) Apply(data keywords.Data) {
	if s.state == StateClosed {
		return
	}
	s.data = data.Clone()
	s.index = matcher.NewIndex(s.data.Replacements)
	if s.state != StateActive {
		s.state = StateActive
		s.logger.Debug("session active", "keywords", s.index.Len(), "enabled", s.data.Enabled)
	}
	s.notify()
}

// UpdateReplacements replaces the keyword map.
func (s *Session) UpdateReplacements(m keywords.Map) {
	if s.state == StateClosed {
		return
	}
	s.data.Replacements = m.Clone()
	s.index = matcher.NewIndex(s.data.Replacements)
	s.notify()
}

// UpdateEnabled sets the enabled flag.
func (s *Session) UpdateEnabled(enabled bool) {
	if s.state == StateClosed || s.data.Enabled == enabled {
		return
	}
	s.data.Enabled = enabled
	s.notify()
}

// OnData registers fn to be called with the data after every change.
func (s *Session) OnData(fn func(keywords.Data)) (remove func()) {
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	return func() { delete(s.subscribers, id) }
}

func (s *Session) notify() {
	for _, fn := range s.subscribers {
		fn(s.data.Clone())
	}
}

// HandleInput checks the event target for an expansion. Synthetic events
// are ignored, and nothing happens before the session is active.
func (s *Session) HandleInput(ev surface.Event) Result {
	if ev.Synthetic {
		return Result{Outcome: OutcomeSkipped}
	}
	if s.state != StateActive {
		return Result{Outcome: OutcomeInactive}
	}
	return s.check(ev.Target)
}

// HandleKeyDown schedules a follow-up check after a genuine trigger key,
// for surfaces whose input events are missing or arrive early. The
// follow-up is dropped when the input event already made the attempt.
func (s *Session) HandleKeyDown(ev surface.Event) {
	if s.state == StateClosed {
		return
	}
	ks := s.gate.KeyDown(ev)
	if ks == nil {
		return
	}
	if s.cancelFollowUp != nil {
		s.cancelFollowUp()
	}
	s.cancelFollowUp = s.sched.AfterFunc(s.delay, func() {
		s.cancelFollowUp = nil
		s.followUp(ks)
	})
}

func (s *Session) followUp(ks *trigger.Keystroke) {
	if !s.gate.FollowUp(ks) || s.state != StateActive {
		return
	}
	s.metrics.RecordFollowUp()
	s.check(ks.Target)
}

func (s *Session) check(target surface.Element) Result {
	start := time.Now()
	det, ok := s.detector.Detect(target, s.data.Enabled)
	if !ok {
		return Result{Outcome: OutcomeNoTrigger}
	}
	m, reason := s.index.Explain(det.TextBefore, det.Trigger)
	switch reason {
	case matcher.ReasonFeedback:
		s.metrics.RecordFeedbackSuppressed()
		return Result{Outcome: OutcomeSuppressed}
	case matcher.ReasonNoCandidate:
		return Result{Outcome: OutcomeNoMatch}
	}
	s.gate.Attempted()
	s.metrics.RecordMatch(time.Since(start))

	start = time.Now()
	name, ok := s.chain.Apply(adapter.Target{Element: target, Document: s.doc}, m)
	if !ok {
		s.metrics.RecordChainFailure(time.Since(start))
		s.logger.Debug("expansion failed", "keyword", m.Keyword)
		return Result{Outcome: OutcomeFailed, Match: m}
	}
	s.metrics.RecordExpansion(name, time.Since(start))
	return Result{Outcome: OutcomeExpanded, Match: m, Strategy: name}
}

// Close removes the listeners, cancels pending work and clears the data.
// It is idempotent.
func (s *Session) Close() {
	if s.state == StateClosed {
		return
	}
	started := s.state != StateUninitialized
	s.state = StateClosed

	for _, remove := range s.listeners {
		remove()
	}
	s.listeners = nil
	if s.cancelFollowUp != nil {
		s.cancelFollowUp()
		s.cancelFollowUp = nil
	}
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	s.gate.Reset()
	s.data = keywords.Data{}
	s.index = matcher.NewIndex(nil)
	s.subscribers = make(map[int]func(keywords.Data))

	if started {
		s.metrics.SessionEnded()
	}
	if s.onClose != nil {
		s.onClose(s)
	}
	s.logger.Debug("session closed")
}
