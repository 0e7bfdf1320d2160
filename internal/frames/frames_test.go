package frames

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handy/internal/dom"
	"handy/internal/keywords"
	"handy/internal/logging"
	"handy/internal/loop"
	"handy/internal/metrics"
	"handy/internal/surface"
)

func testMetrics() *metrics.HandyMetrics {
	return metrics.NewHandyMetrics(metrics.NewRegistry("handy", "test"))
}

func sample() keywords.Data {
	return keywords.Data{Replacements: keywords.Map{"abc": "ABC"}, Enabled: false}
}

// inbox records the messages delivered to a window.
type inbox struct {
	from []surface.Window
	msgs []*Message
}

func listen(t *testing.T, w surface.Window) *inbox {
	t.Helper()
	in := &inbox{}
	remove := w.OnMessage(func(from surface.Window, raw []byte) {
		msg, err := Decode(raw)
		require.NoError(t, err)
		in.from = append(in.from, from)
		in.msgs = append(in.msgs, msg)
	})
	t.Cleanup(remove)
	return in
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		err  error
	}{
		{"get data", `{"type":"HANDY_GET_DATA","source":"handy_iframe"}`, nil},
		{"handler source", `{"type":"HANDY_IFRAME_READY","source":"handy_iframe_handler","url":"https://x/"}`, nil},
		{"parent", `{"type":"HANDY_DATA_UPDATE","source":"handy_parent","replacements":{}}`, nil},
		{"unknown source", `{"type":"HANDY_GET_DATA","source":"someone_else"}`, ErrUnknownSource},
		{"missing type", `{"source":"handy_parent"}`, ErrMalformed},
		{"not json", `hello`, ErrMalformed},
		{"not an object", `[1,2]`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestDataUpdatePayload(t *testing.T) {
	raw, err := NewDataUpdate(sample()).Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"HANDY_DATA_UPDATE","source":"handy_parent","replacements":{"abc":"ABC"},"enabled":false}`, string(raw))

	msg, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, sample(), msg.Data())

	msg, err = Decode([]byte(`{"type":"HANDY_DATA_UPDATE","source":"handy_parent"}`))
	require.NoError(t, err)
	assert.Equal(t, keywords.DefaultData(), msg.Data(), "missing fields mean empty and enabled")
}

// twoLevel builds a parent page with one same-origin frame.
func twoLevel(t *testing.T) (*dom.Document, *dom.Document, *dom.Frame) {
	t.Helper()
	parent := dom.NewDocument("https://example.com/")
	child := dom.NewDocument("https://example.com/frame")
	f := parent.AppendFrame(parent.Body(), child)
	return parent, child, f
}

func TestResponderAnswersRequests(t *testing.T) {
	parent, child, _ := twoLevel(t)
	m := testMetrics()
	r := NewResponder(parent, sample, logging.Discard(), m)
	var readyURL string
	r.OnReady(func(_ surface.Window, url string) { readyURL = url })
	r.Start()
	r.Start()
	defer r.Close()

	got := listen(t, child.Window())

	req, _ := NewGetData(SourceIframe).Encode()
	require.NoError(t, parent.Window().PostMessage(child.Window(), req))
	require.Len(t, got.msgs, 1)
	assert.Equal(t, MsgDataUpdate, got.msgs[0].Type)
	assert.Equal(t, sample(), got.msgs[0].Data())
	assert.Equal(t, parent.Window(), got.from[0])
	assert.Equal(t, uint64(1), m.DataRequests.Value())

	stray := []byte(`{"type":"HANDY_GET_DATA","source":"other_extension"}`)
	require.NoError(t, parent.Window().PostMessage(child.Window(), stray))
	assert.Len(t, got.msgs, 1, "unknown sources are ignored")

	ready, _ := NewIframeReady(SourceIframeHandler, "https://example.com/frame").Encode()
	require.NoError(t, parent.Window().PostMessage(child.Window(), ready))
	assert.Equal(t, "https://example.com/frame", readyURL)

	r.Close()
	require.NoError(t, parent.Window().PostMessage(child.Window(), req))
	assert.Len(t, got.msgs, 1)
}

func TestResponderNotifiesEveryFrame(t *testing.T) {
	parent, child, _ := twoLevel(t)
	foreign := dom.NewDocument("https://other.org/widget")
	parent.AppendFrame(parent.Body(), foreign)
	parent.AppendFrame(parent.Body(), nil)

	m := testMetrics()
	r := NewResponder(parent, sample, logging.Discard(), m)

	a := listen(t, child.Window())
	b := listen(t, foreign.Window())

	assert.Equal(t, 3, r.Notify(sample()), "unloaded frames accept and drop the message")
	require.Len(t, a.msgs, 1)
	require.Len(t, b.msgs, 1)
	assert.Equal(t, sample(), b.msgs[0].Data())
	assert.Equal(t, uint64(3), m.FramesNotified.Value())
}

func TestClientFetchAndUpdates(t *testing.T) {
	parent, child, _ := twoLevel(t)
	current := sample()
	r := NewResponder(parent, func() keywords.Data { return current }, logging.Discard(), testMetrics())
	r.Start()
	defer r.Close()

	c := NewClient(child.Window(), "", logging.Discard())
	var updates []keywords.Data
	c.Start(func(d keywords.Data) { updates = append(updates, d) })
	defer c.Close()

	var fetched keywords.Data
	var fetchErr error
	calls := 0
	c.Fetch(context.Background(), func(d keywords.Data, err error) {
		calls++
		fetched, fetchErr = d, err
	})
	require.Equal(t, 1, calls)
	require.NoError(t, fetchErr)
	assert.Equal(t, sample(), fetched)
	assert.Empty(t, updates, "the reply answers the request only")

	current = keywords.Data{Replacements: keywords.Map{"x": "y"}, Enabled: true}
	r.Notify(current)
	require.Len(t, updates, 1)
	assert.Equal(t, current, updates[0])
	assert.Equal(t, 1, calls)

	// Updates that do not come from a parent are ignored.
	spoof := []byte(`{"type":"HANDY_DATA_UPDATE","source":"handy_iframe","enabled":false}`)
	require.NoError(t, child.Window().PostMessage(nil, spoof))
	assert.Len(t, updates, 1)
}

func TestClientIgnoresUpdatesFromOtherWindows(t *testing.T) {
	parent, child, _ := twoLevel(t)
	sibling := dom.NewDocument("https://example.com/other")
	parent.AppendFrame(parent.Body(), sibling)

	c := NewClient(child.Window(), SourceIframe, logging.Discard())
	var updates []keywords.Data
	c.Start(func(d keywords.Data) { updates = append(updates, d) })
	defer c.Close()

	payload, err := NewDataUpdate(sample()).Encode()
	require.NoError(t, err)
	require.NoError(t, child.Window().PostMessage(sibling.Window(), payload))
	assert.Empty(t, updates)

	require.NoError(t, child.Window().PostMessage(parent.Window(), payload))
	require.Len(t, updates, 1)
	assert.Equal(t, sample(), updates[0])
}

func TestClientReady(t *testing.T) {
	parent, child, _ := twoLevel(t)
	got := listen(t, parent.Window())

	c := NewClient(child.Window(), SourceIframeHandler, logging.Discard())
	require.NoError(t, c.Ready(child.URL()))
	require.Len(t, got.msgs, 1)
	assert.Equal(t, MsgIframeReady, got.msgs[0].Type)
	assert.Equal(t, "https://example.com/frame", got.msgs[0].URL)

	top := NewClient(parent.Window(), SourceIframe, logging.Discard())
	assert.ErrorIs(t, top.Ready(parent.URL()), ErrNoParent)
}

func TestClientFetchFailures(t *testing.T) {
	t.Run("no parent", func(t *testing.T) {
		doc := dom.NewDocument("https://example.com/")
		c := NewClient(doc.Window(), SourceIframe, logging.Discard())
		var got error
		c.Fetch(context.Background(), func(_ keywords.Data, err error) { got = err })
		assert.ErrorIs(t, got, ErrNoParent)
	})

	t.Run("cancelled", func(t *testing.T) {
		_, child, _ := twoLevel(t) // no responder: the request goes unanswered
		c := NewClient(child.Window(), SourceIframe, logging.Discard())
		c.Start(nil)
		defer c.Close()

		ctx, cancel := context.WithCancel(context.Background())
		errs := make(chan error, 2)
		c.Fetch(ctx, func(_ keywords.Data, err error) { errs <- err })
		cancel()
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("cancelled fetch did not deliver")
		}
	})

	t.Run("closed", func(t *testing.T) {
		_, child, _ := twoLevel(t)
		c := NewClient(child.Window(), SourceIframe, logging.Discard())
		c.Start(nil)
		var got []error
		c.Fetch(context.Background(), func(_ keywords.Data, err error) { got = append(got, err) })
		c.Close()
		c.Close()
		require.Len(t, got, 1)
		assert.True(t, errors.Is(got[0], ErrClientClosed))
	})
}

type attachRecorder struct {
	attached map[string]surface.Document
	detached []string
	fail     bool
}

func (a *attachRecorder) attach(f surface.Frame, doc surface.Document) (func(), error) {
	if a.fail {
		return nil, errors.New("attach refused")
	}
	if a.attached == nil {
		a.attached = make(map[string]surface.Document)
	}
	a.attached[f.ID()] = doc
	id := f.ID()
	return func() { a.detached = append(a.detached, id) }, nil
}

func newInjector(t *testing.T, doc *dom.Document, rec *attachRecorder) (*Injector, *loop.Manual, *metrics.HandyMetrics) {
	t.Helper()
	sched := loop.NewManual()
	m := testMetrics()
	in, err := NewInjector(doc, InjectorOptions{
		Scheduler: sched,
		Attach:    rec.attach,
		Data:      sample,
		Logger:    logging.Discard(),
		Metrics:   m,
	})
	require.NoError(t, err)
	t.Cleanup(in.Close)
	return in, sched, m
}

func TestNewInjectorRequirements(t *testing.T) {
	doc := dom.NewDocument("https://example.com/")
	_, err := NewInjector(nil, InjectorOptions{})
	assert.Error(t, err)
	_, err = NewInjector(doc, InjectorOptions{Attach: (&attachRecorder{}).attach})
	assert.Error(t, err)
	_, err = NewInjector(doc, InjectorOptions{Scheduler: loop.NewManual()})
	assert.Error(t, err)
}

func TestInjectorHandlesEachAccessKind(t *testing.T) {
	parent := dom.NewDocument("https://example.com/")
	same := dom.NewDocument("https://example.com/editor")
	foreign := dom.NewDocument("https://other.org/widget")
	rec := &attachRecorder{}
	in, sched, m := newInjector(t, parent, rec)
	in.Start()

	fSame := parent.AppendFrame(parent.Body(), same)
	fForeign := parent.AppendFrame(parent.Body(), foreign)
	fLater := parent.AppendFrame(parent.Body(), nil)
	foreignInbox := listen(t, foreign.Window())

	assert.Equal(t, 2, in.Pending(), "unloaded frames wait for a later scan")

	sched.Advance(999 * time.Millisecond)
	assert.Empty(t, rec.attached, "injection waits for its delay")

	sched.Advance(time.Millisecond)
	assert.Equal(t, same, rec.attached[fSame.ID()])
	assert.Empty(t, foreignInbox.msgs, "injections are staggered")

	sched.Advance(DefaultStagger)
	require.Len(t, foreignInbox.msgs, 1)
	assert.Equal(t, sample(), foreignInbox.msgs[0].Data())
	assert.Equal(t, 1, in.Attached())
	assert.Equal(t, 1, in.Notified())
	assert.Equal(t, uint64(1), m.FramesAttached.Value())
	assert.Equal(t, uint64(1), m.FramesNotified.Value())

	// The frame loads later and is picked up by the periodic scan.
	late := dom.NewDocument("about:blank")
	fLater.Load(late)
	sched.Advance(DefaultPollInterval + DefaultInjectDelay)
	assert.Equal(t, late, rec.attached[fLater.ID()])
	assert.Equal(t, 2, in.Attached())

	// Re-scans leave known frames alone.
	assert.Zero(t, in.Scan())
	sched.Advance(3 * DefaultPollInterval)
	assert.Len(t, foreignInbox.msgs, 1)
	assert.Empty(t, rec.detached)
	_ = fForeign
}

func TestInjectorReattachesAfterNavigation(t *testing.T) {
	parent := dom.NewDocument("https://example.com/")
	rec := &attachRecorder{}
	in, sched, _ := newInjector(t, parent, rec)
	in.Start()

	f := parent.AppendFrame(parent.Body(), dom.NewDocument("https://example.com/one"))
	sched.Advance(DefaultInjectDelay)
	require.Len(t, rec.attached, 1)

	next := dom.NewDocument("https://example.com/two")
	f.Load(next)
	sched.Advance(DefaultPollInterval + DefaultInjectDelay)
	assert.Equal(t, next, rec.attached[f.ID()])
	assert.Equal(t, []string{f.ID()}, rec.detached)
}

func TestInjectorForgetsRemovedFrames(t *testing.T) {
	parent := dom.NewDocument("https://example.com/")
	rec := &attachRecorder{}
	in, sched, _ := newInjector(t, parent, rec)
	in.Start()

	kept := parent.AppendFrame(parent.Body(), dom.NewDocument("https://example.com/a"))
	gone := parent.AppendFrame(parent.Body(), dom.NewDocument("https://example.com/b"))
	sched.Advance(DefaultInjectDelay + DefaultStagger)
	require.Equal(t, 2, in.Attached())

	gone.Element().Remove()
	sched.Advance(DefaultPollInterval)
	assert.Equal(t, []string{gone.ID()}, rec.detached)
	assert.Equal(t, 1, in.Attached())

	// A frame removed before its injection is never attached.
	quick := parent.AppendFrame(parent.Body(), dom.NewDocument("https://example.com/c"))
	quick.Element().Remove()
	in.Scan()
	assert.Zero(t, in.Pending())
	sched.Advance(DefaultInjectDelay)
	_, attached := rec.attached[quick.ID()]
	assert.False(t, attached)
	_ = kept
}

func TestInjectorObservesNestedInsertions(t *testing.T) {
	parent := dom.NewDocument("https://example.com/")
	rec := &attachRecorder{}
	in, sched, _ := newInjector(t, parent, rec)
	in.Start()

	wrapper := parent.CreateElement("div", "class", "panel")
	iframe := parent.CreateElement("iframe")
	dom.FrameOf(iframe).Load(dom.NewDocument("https://example.com/nested"))
	wrapper.Append(iframe)

	parent.Body().Append(parent.CreateElement("p"))
	assert.Zero(t, in.Pending(), "insertions without frames do not scan")

	parent.Body().Append(wrapper)
	assert.Equal(t, 1, in.Pending())
	sched.Advance(DefaultInjectDelay)
	assert.Equal(t, 1, in.Attached())
}

func TestInjectorAttachFailureRetries(t *testing.T) {
	parent := dom.NewDocument("https://example.com/")
	rec := &attachRecorder{fail: true}
	in, sched, _ := newInjector(t, parent, rec)
	in.Start()

	parent.AppendFrame(parent.Body(), dom.NewDocument("https://example.com/a"))
	sched.Advance(DefaultInjectDelay)
	assert.Zero(t, in.Attached())

	rec.fail = false
	sched.Advance(DefaultPollInterval + DefaultInjectDelay)
	assert.Equal(t, 1, in.Attached())
}

func TestInjectorClose(t *testing.T) {
	parent := dom.NewDocument("https://example.com/")
	rec := &attachRecorder{}
	in, sched, _ := newInjector(t, parent, rec)
	in.Start()
	assert.Equal(t, 1, parent.ObserverCount())

	a := parent.AppendFrame(parent.Body(), dom.NewDocument("https://example.com/a"))
	sched.Advance(DefaultInjectDelay)
	parent.AppendFrame(parent.Body(), dom.NewDocument("https://example.com/b"))
	require.Equal(t, 1, in.Pending())

	in.Close()
	in.Close()
	assert.Zero(t, parent.ObserverCount())
	assert.Equal(t, []string{a.ID()}, rec.detached)
	assert.Zero(t, sched.Pending(), "poll and pending injections are cancelled")
	assert.Zero(t, in.Scan())
}
