// Package adapter applies a keyword match to a concrete editable surface.
//
// Strategies form a chain of responsibility: each one checks whether it
// recognizes the surface and, if so, replaces keyword+trigger at the end of
// the text with snippet+trigger. Errors raised by the surface (including
// cross-origin access) make a strategy fail; they never escape the chain.
package adapter

import (
	"log/slog"
	"unicode/utf8"

	"handy/internal/matcher"
	"handy/internal/surface"
)

// Target is the surface an expansion is applied to.
type Target struct {
	Element  surface.Element
	Document surface.Document
}

// Strategy replaces a match on one kind of surface. TryApply leaves the
// surface unmodified when it returns false.
type Strategy interface {
	Name() string
	TryApply(t Target, m matcher.Result) bool
}

// Chain tries strategies in order until one succeeds.
type Chain struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewChain returns a chain over strategies, tried in the given order.
func NewChain(logger *slog.Logger, strategies ...Strategy) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{strategies: strategies, logger: logger}
}

// Strategies returns the strategy names in order.
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Apply runs the chain and returns the name of the strategy that applied m.
func (c *Chain) Apply(t Target, m matcher.Result) (string, bool) {
	for _, s := range c.strategies {
		if s.TryApply(t, m) {
			c.logger.Debug("expansion applied", "strategy", s.Name(), "keyword", m.Keyword)
			return s.Name(), true
		}
	}
	c.logger.Debug("no strategy applied", "keyword", m.Keyword, "tried", len(c.strategies))
	return "", false
}

// Default returns the standard chain: content-editable, form field, the
// given embedded-editor strategies, then the selection fallback.
func Default(logger *slog.Logger, markup *Markup, embedded ...Strategy) *Chain {
	strategies := []Strategy{
		&ContentEditable{Markup: markup, Logger: logger},
		&FormField{Logger: logger},
	}
	strategies = append(strategies, embedded...)
	strategies = append(strategies, &SelectionFallback{Logger: logger})
	return NewChain(logger, strategies...)
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

func fail(logger *slog.Logger, strategy string, err error) bool {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("strategy failed", "strategy", strategy, "error", err)
	return false
}
