package adapter

import (
	"log/slog"
	"strings"

	"handy/internal/matcher"
)

// SelectionFallback works on the live selection alone, without knowing
// which element holds it. When the selected text ends with keyword+trigger
// the whole range is replaced by snippet+trigger.
type SelectionFallback struct {
	Logger *slog.Logger
}

// Name implements Strategy.
func (s *SelectionFallback) Name() string { return "selection" }

// TryApply implements Strategy.
func (s *SelectionFallback) TryApply(t Target, m matcher.Result) bool {
	if t.Document == nil {
		return false
	}
	sel, err := t.Document.ActiveSelection()
	if err != nil {
		return fail(s.Logger, s.Name(), err)
	}
	if sel.RangeCount() == 0 {
		return false
	}
	selected, err := sel.String()
	if err != nil {
		return fail(s.Logger, s.Name(), err)
	}
	if !strings.HasSuffix(selected, m.Suffix()) {
		return false
	}
	if err := sel.ReplaceWithText(m.Replacement()); err != nil {
		return fail(s.Logger, s.Name(), err)
	}
	return true
}
