package metrics

import (
	"sync"
	"time"
)

// HandyMetrics holds the engine's metric series.
type HandyMetrics struct {
	registry *Registry

	// Expansion
	MatchesFound       *Counter
	ChainFailures      *Counter
	FeedbackSuppressed *Counter
	FollowUps          *Counter

	// Sessions and frames
	SessionsActive *Gauge
	FramesAttached *Counter
	FramesNotified *Counter
	DataRequests   *Counter

	// Storage
	StoreWrites  *Counter
	StoreReloads *Counter

	// Latency
	MatchDuration *Histogram
	ApplyDuration *Histogram
}

// NewHandyMetrics registers the engine's series on registry, or on the
// default registry when nil.
func NewHandyMetrics(registry *Registry) *HandyMetrics {
	if registry == nil {
		registry = Default()
	}

	return &HandyMetrics{
		registry: registry,

		MatchesFound: registry.RegisterCounter(
			"matches_total",
			"Keyword matches handed to the adapter chain",
			nil,
		),
		ChainFailures: registry.RegisterCounter(
			"chain_failures_total",
			"Matches no surface strategy could apply",
			nil,
		),
		FeedbackSuppressed: registry.RegisterCounter(
			"feedback_suppressed_total",
			"Matches skipped because the text already ends with the snippet",
			nil,
		),
		FollowUps: registry.RegisterCounter(
			"followups_total",
			"Deferred keydown checks that ran",
			nil,
		),

		SessionsActive: registry.RegisterGauge(
			"sessions_active",
			"Replacement sessions attached to a document",
			nil,
		),
		FramesAttached: registry.RegisterCounter(
			"frames_attached_total",
			"Same-origin frames a session was attached to",
			nil,
		),
		FramesNotified: registry.RegisterCounter(
			"frames_notified_total",
			"Data pushes posted to cross-origin frames",
			nil,
		),
		DataRequests: registry.RegisterCounter(
			"data_requests_total",
			"Replacement data requests answered for child frames",
			nil,
		),

		StoreWrites: registry.RegisterCounter(
			"store_writes_total",
			"Settings writes committed",
			nil,
		),
		StoreReloads: registry.RegisterCounter(
			"store_reloads_total",
			"Settings reloads triggered by external changes",
			nil,
		),

		MatchDuration: registry.RegisterHistogram(
			"match_duration_seconds",
			"Time spent detecting and matching one input event",
			nil,
			LatencyBuckets,
		),
		ApplyDuration: registry.RegisterHistogram(
			"apply_duration_seconds",
			"Time spent running the adapter chain",
			nil,
			LatencyBuckets,
		),
	}
}

// Registry returns the underlying registry.
func (m *HandyMetrics) Registry() *Registry { return m.registry }

// RecordMatch records a match and the time taken to find it.
func (m *HandyMetrics) RecordMatch(d time.Duration) {
	m.MatchesFound.Inc()
	m.MatchDuration.ObserveDuration(d)
}

// RecordExpansion records a successful replacement by strategy.
func (m *HandyMetrics) RecordExpansion(strategy string, d time.Duration) {
	m.registry.RegisterCounter(
		"expansions_total",
		"Replacements applied, by surface strategy",
		Labels{"strategy": strategy},
	).Inc()
	m.ApplyDuration.ObserveDuration(d)
}

// Expansions returns the number of replacements applied by strategy.
func (m *HandyMetrics) Expansions(strategy string) uint64 {
	c := m.registry.GetCounter("expansions_total", Labels{"strategy": strategy})
	if c == nil {
		return 0
	}
	return c.Value()
}

// RecordChainFailure records a match that every strategy declined.
func (m *HandyMetrics) RecordChainFailure(d time.Duration) {
	m.ChainFailures.Inc()
	m.ApplyDuration.ObserveDuration(d)
}

// RecordFeedbackSuppressed records a match skipped by the feedback guard.
func (m *HandyMetrics) RecordFeedbackSuppressed() {
	m.FeedbackSuppressed.Inc()
}

// RecordFollowUp records a deferred keydown check.
func (m *HandyMetrics) RecordFollowUp() {
	m.FollowUps.Inc()
}

// SessionStarted records a session becoming attached.
func (m *HandyMetrics) SessionStarted() {
	m.SessionsActive.Inc()
}

// SessionEnded records a session being closed.
func (m *HandyMetrics) SessionEnded() {
	m.SessionsActive.Dec()
}

// RecordFrameAttached records a session attached to a same-origin frame.
func (m *HandyMetrics) RecordFrameAttached() {
	m.FramesAttached.Inc()
}

// RecordFrameNotified records a data push to a cross-origin frame.
func (m *HandyMetrics) RecordFrameNotified() {
	m.FramesNotified.Inc()
}

// RecordDataRequest records a child frame's data request being answered.
func (m *HandyMetrics) RecordDataRequest() {
	m.DataRequests.Inc()
}

// RecordStoreWrite records a committed settings write.
func (m *HandyMetrics) RecordStoreWrite() {
	m.StoreWrites.Inc()
}

// RecordStoreReload records a reload caused by an external change.
func (m *HandyMetrics) RecordStoreReload() {
	m.StoreReloads.Inc()
}

var (
	globalMetrics *HandyMetrics
	globalOnce    sync.Once
)

// GetMetrics returns the global metrics instance, creating it on first use.
func GetMetrics() *HandyMetrics {
	globalOnce.Do(func() {
		globalMetrics = NewHandyMetrics(Default())
	})
	return globalMetrics
}
