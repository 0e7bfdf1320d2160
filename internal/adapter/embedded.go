package adapter

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/gobwas/glob"

	"handy/internal/matcher"
	"handy/internal/surface"
)

// Container selectors of known third-party editors, in the order they are
// searched.
var (
	CKEditorSelectors = []string{".cke_editable", "[data-cke-editor]", ".cke_editor"}

	LightningSelectors = []string{
		"[data-aura-rendered-by]",
		".uiInput",
		".forcePageBlockItem",
		".slds-form-element",
		".oneAlohaPage",
		".forceContentFileDroppableZone",
	}
)

// editableDescendant finds the editable surface inside a widget container.
const editableDescendant = `[contenteditable="true"], textarea, input[type="text"]`

// EmbeddedEditor searches the document for widget containers instead of
// trusting the event target, for editors whose events do not point at the
// element holding the text.
type EmbeddedEditor struct {
	name      string
	selectors []string
	markup    *Markup
	logger    *slog.Logger
}

// NewEmbeddedEditor returns a strategy searching selectors in order.
func NewEmbeddedEditor(name string, selectors []string, markup *Markup, logger *slog.Logger) *EmbeddedEditor {
	if markup == nil {
		markup = NewMarkup()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddedEditor{name: name, selectors: selectors, markup: markup, logger: logger}
}

// CKEditor returns the CKEditor strategy.
func CKEditor(markup *Markup, logger *slog.Logger) *EmbeddedEditor {
	return NewEmbeddedEditor("ckeditor", CKEditorSelectors, markup, logger)
}

// Lightning returns the Salesforce Lightning strategy.
func Lightning(markup *Markup, logger *slog.Logger) *EmbeddedEditor {
	return NewEmbeddedEditor("lightning", LightningSelectors, markup, logger)
}

// Name implements Strategy.
func (s *EmbeddedEditor) Name() string { return s.name }

// TryApply implements Strategy.
func (s *EmbeddedEditor) TryApply(t Target, m matcher.Result) bool {
	if t.Document == nil {
		return false
	}
	for _, selector := range s.selectors {
		containers, err := t.Document.QuerySelectorAll(selector)
		if err != nil {
			fail(s.logger, s.name, err)
			continue
		}
		for _, el := range containers {
			if s.applyTo(t.Document, el, m) {
				return true
			}
		}
	}
	return false
}

func (s *EmbeddedEditor) applyTo(doc surface.Document, el surface.Element, m matcher.Result) bool {
	switch {
	case surface.IsFormField(el):
		return s.applyField(el, m)
	case el.IsContentEditable():
		return s.applyRich(doc, el, m)
	}
	inner, err := el.QuerySelectorAll(editableDescendant)
	if err != nil || len(inner) == 0 {
		return false
	}
	if surface.IsFormField(inner[0]) {
		return s.applyField(inner[0], m)
	}
	return s.applyRich(doc, inner[0], m)
}

func (s *EmbeddedEditor) applyField(el surface.Element, m matcher.Result) bool {
	value, err := el.Value()
	if err != nil {
		return fail(s.logger, s.name, err)
	}
	suffix := m.Suffix()
	if !strings.HasSuffix(value, suffix) {
		return false
	}
	updated := strings.TrimSuffix(value, suffix) + m.Replacement()
	if err := el.SetValue(updated); err != nil {
		return fail(s.logger, s.name, err)
	}
	end := runeLen(updated)
	if err := el.SetSelectionRange(end, end); err != nil {
		fail(s.logger, s.name+": selection", err)
	}
	return true
}

func (s *EmbeddedEditor) applyRich(doc surface.Document, el surface.Element, m matcher.Result) bool {
	text, err := el.TextContent()
	if err != nil {
		return fail(s.logger, s.name, err)
	}
	suffix := m.Suffix()
	if !strings.HasSuffix(text, suffix) {
		return false
	}
	markup, err := el.InnerHTML()
	if err != nil {
		return fail(s.logger, s.name, err)
	}

	var rewritten string
	if head, ok := trimSerializedSuffix(markup, suffix); ok {
		rewritten = head + s.markup.Snippet(m.Snippet) + serializeTrigger(m.Trigger)
	} else {
		// Trailing markup hides the suffix; rebuild from the text.
		rewritten = s.markup.Text(strings.TrimSuffix(text, suffix)) +
			s.markup.Snippet(m.Snippet) + serializeTrigger(m.Trigger)
	}
	if err := el.SetInnerHTML(rewritten); err != nil {
		return fail(s.logger, s.name, err)
	}
	if sel, err := doc.ActiveSelection(); err == nil {
		if err := sel.CollapseToEnd(el); err != nil {
			fail(s.logger, s.name+": selection", err)
		}
	}
	return true
}

// --- Host activation ---

// DefaultEmbeddedHosts are the host patterns embedded-editor strategies
// are enabled for.
var DefaultEmbeddedHosts = []string{"*.lightning.force.com", "*.salesforce.com", "*.force.com"}

// HostMatcher matches page URLs against host glob patterns.
type HostMatcher struct {
	patterns []string
	globs    []glob.Glob
}

// NewHostMatcher compiles patterns. A '*' matches across dots.
func NewHostMatcher(patterns []string) (*HostMatcher, error) {
	h := &HostMatcher{patterns: patterns}
	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, fmt.Errorf("compile host pattern %q: %w", p, err)
		}
		h.globs = append(h.globs, g)
	}
	return h, nil
}

// Match reports whether the host of rawURL matches any pattern.
func (h *HostMatcher) Match(rawURL string) bool {
	if h == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, g := range h.globs {
		if g.Match(host) {
			return true
		}
	}
	return false
}

// Patterns returns the source patterns.
func (h *HostMatcher) Patterns() []string { return h.patterns }

// Options configures the chain built for a page.
type Options struct {
	Markup             *Markup
	Logger             *slog.Logger
	Hosts              *HostMatcher
	CKEditorSelectors  []string
	LightningSelectors []string
}

// ForURL returns the standard chain for a page, including the
// embedded-editor strategies when opts.Hosts matches its URL.
func ForURL(rawURL string, opts Options) *Chain {
	var embedded []Strategy
	if opts.Hosts.Match(rawURL) {
		ck, lightning := opts.CKEditorSelectors, opts.LightningSelectors
		if len(ck) == 0 {
			ck = CKEditorSelectors
		}
		if len(lightning) == 0 {
			lightning = LightningSelectors
		}
		embedded = append(embedded,
			NewEmbeddedEditor("ckeditor", ck, opts.Markup, opts.Logger),
			NewEmbeddedEditor("lightning", lightning, opts.Markup, opts.Logger))
	}
	return Default(opts.Logger, opts.Markup, embedded...)
}
