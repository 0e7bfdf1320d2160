package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// DefaultNavigateTimeout bounds navigation and load in Open.
const DefaultNavigateTimeout = 30 * time.Second

// Config configures a Browser.
type Config struct {
	// RemoteURL is the WebSocket URL of a running Chrome. Empty launches a
	// local one.
	RemoteURL string

	// Headful shows the launched browser window.
	Headful bool

	// Bin is the Chrome binary to launch. Empty lets the launcher find or
	// download one.
	Bin string

	NavigateTimeout time.Duration
	Logger          *slog.Logger
}

func (c *Config) defaults() {
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = DefaultNavigateTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser is a connected Chrome instance.
type Browser struct {
	cfg     Config
	browser *rod.Browser
	lnch    *launcher.Launcher

	mu   sync.Mutex
	docs []*Document
}

// Launch starts Chrome, or connects to cfg.RemoteURL.
func Launch(ctx context.Context, cfg Config) (*Browser, error) {
	cfg.defaults()
	log := cfg.Logger

	b := &Browser{cfg: cfg}
	wsURL := cfg.RemoteURL
	if wsURL != "" {
		log.Info("connecting to remote browser", "url", wsURL)
	} else {
		l := launcher.New().Context(ctx).Headless(!cfg.Headful)
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("cdp: launch: %w", err)
		}
		wsURL = u
		b.lnch = l
		log.Info("launched local browser", "url", wsURL, "headful", cfg.Headful)
	}

	browser := rod.New().Context(ctx).ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		_ = b.cleanup()
		return nil, fmt.Errorf("cdp: connect: %w", err)
	}
	b.browser = browser
	return b, nil
}

// Open creates a tab, navigates it to pageURL, waits for load and returns
// its document.
func (b *Browser) Open(ctx context.Context, pageURL string) (*Document, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("cdp: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavigateTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("cdp: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		b.cfg.Logger.Warn("wait load timeout", "url", pageURL, "error", err)
	}

	doc, err := NewDocument(ctx, page, b.cfg.Logger)
	if err != nil {
		_ = page.Close()
		return nil, err
	}
	b.mu.Lock()
	b.docs = append(b.docs, doc)
	b.mu.Unlock()
	return doc, nil
}

// Close closes every opened document and shuts the browser down.
func (b *Browser) Close() error {
	b.mu.Lock()
	docs := b.docs
	b.docs = nil
	b.mu.Unlock()
	for _, d := range docs {
		d.Close()
	}
	return b.cleanup()
}

func (b *Browser) cleanup() error {
	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
	return err
}
