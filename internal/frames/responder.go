package frames

import (
	"log/slog"

	"handy/internal/keywords"
	"handy/internal/metrics"
	"handy/internal/surface"
)

// Responder is the parent side of the channel. It answers data requests
// from frames and pushes updates to every frame of its document.
type Responder struct {
	doc     surface.Document
	data    func() keywords.Data
	onReady func(from surface.Window, url string)
	logger  *slog.Logger
	metrics *metrics.HandyMetrics
	remove  func()
}

// NewResponder returns a responder for doc. data is called for every reply
// and must return the current state.
func NewResponder(doc surface.Document, data func() keywords.Data, logger *slog.Logger, m *metrics.HandyMetrics) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.GetMetrics()
	}
	return &Responder{doc: doc, data: data, logger: logger, metrics: m}
}

// OnReady registers fn for ready announcements. Call before Start.
func (r *Responder) OnReady(fn func(from surface.Window, url string)) {
	r.onReady = fn
}

// Start listens on the document's window. It is a no-op when already
// listening.
func (r *Responder) Start() {
	if r.remove != nil {
		return
	}
	r.remove = r.doc.Window().OnMessage(r.handle)
}

// Close stops listening.
func (r *Responder) Close() {
	if r.remove != nil {
		r.remove()
		r.remove = nil
	}
}

func (r *Responder) handle(from surface.Window, raw []byte) {
	msg, err := Decode(raw)
	if err != nil || !msg.FromFrame() {
		return
	}
	switch msg.Type {
	case MsgGetData:
		r.metrics.RecordDataRequest()
		if from == nil {
			return
		}
		if err := r.send(from, r.data()); err != nil {
			r.logger.Debug("data reply failed", "error", err)
		}
	case MsgIframeReady:
		r.logger.Debug("frame ready", "frame_url", msg.URL)
		if r.onReady != nil {
			r.onReady(from, msg.URL)
		}
	}
}

func (r *Responder) send(to surface.Window, data keywords.Data) error {
	payload, err := NewDataUpdate(data).Encode()
	if err != nil {
		return err
	}
	return to.PostMessage(r.doc.Window(), payload)
}

// Notify pushes data to every frame of the document and returns how many
// frames it reached. Frames whose window refuses the message are skipped.
func (r *Responder) Notify(data keywords.Data) int {
	frames, err := r.doc.Frames()
	if err != nil {
		r.logger.Debug("listing frames failed", "error", err)
		return 0
	}
	n := 0
	for _, f := range frames {
		if err := r.send(f.Window(), data); err != nil {
			r.logger.Debug("frame update failed", "frame", f.ID(), "error", err)
			continue
		}
		r.metrics.RecordFrameNotified()
		n++
	}
	return n
}
