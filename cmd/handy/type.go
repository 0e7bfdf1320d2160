package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"handy/internal/config"
	"handy/internal/dom"
	"handy/internal/host"
	"handy/internal/metrics"
	"handy/internal/session"
)

const (
	fieldTextarea        = "textarea"
	fieldInput           = "input"
	fieldContentEditable = "contenteditable"
)

type typeOptions struct {
	Store   host.DataStore
	Config  *config.Config
	Field   string
	Text    string
	Logger  *slog.Logger
	Metrics *metrics.HandyMetrics
}

// typeText types opts.Text into a fresh offline field with the engine
// attached and returns what the field holds afterwards.
func typeText(ctx context.Context, opts typeOptions) (string, error) {
	doc := dom.NewDocument("https://handy.invalid/type")
	var el *dom.Element
	switch opts.Field {
	case fieldTextarea:
		el = doc.CreateElement("textarea")
	case fieldInput:
		el = doc.CreateElement("input", "type", "text")
	case fieldContentEditable:
		el = doc.CreateElement("div", "contenteditable", "true")
	default:
		return "", fmt.Errorf("unknown field kind %q", opts.Field)
	}
	doc.Body().Append(el)

	h, err := host.Attach(ctx, doc, host.Options{
		Store:   opts.Store,
		Config:  opts.Config,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
	if err != nil {
		return "", err
	}
	defer h.Close()

	if err := waitActive(ctx, h); err != nil {
		return "", err
	}

	h.Do(func() { doc.Type(el, opts.Text) })

	// Let any follow-up attempt run before reading the field.
	delay := opts.Config.Engine.FollowUpDelay()
	select {
	case <-time.After(2*delay + 10*time.Millisecond):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	var out string
	h.Do(func() {
		if opts.Field == fieldContentEditable {
			out, err = el.TextContent()
		} else {
			out, err = el.Value()
		}
	})
	return out, err
}

func waitActive(ctx context.Context, h *host.Host) error {
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		active := false
		h.Do(func() { active = h.Session().State() == session.StateActive })
		if active {
			return nil
		}
		select {
		case <-tick.C:
		case <-ctx.Done():
			return fmt.Errorf("waiting for keywords: %w", ctx.Err())
		}
	}
}
