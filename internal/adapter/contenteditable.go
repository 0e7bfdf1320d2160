package adapter

import (
	"log/slog"
	"strings"

	"handy/internal/matcher"
	"handy/internal/surface"
)

// ContentEditable expands inside rich editable regions. The caret must sit
// in a text node ending with keyword+trigger. When the markup of the region,
// or of the block holding the text node, ends with that text the markup is
// rewritten, snippet line breaks becoming <br>; otherwise only the text
// node changes.
type ContentEditable struct {
	Markup *Markup
	Logger *slog.Logger
}

// Name implements Strategy.
func (s *ContentEditable) Name() string { return "contenteditable" }

// TryApply implements Strategy.
func (s *ContentEditable) TryApply(t Target, m matcher.Result) bool {
	if t.Element == nil || t.Document == nil || !t.Element.IsContentEditable() {
		return false
	}
	sel, err := t.Document.ActiveSelection()
	if err != nil {
		return fail(s.Logger, s.Name(), err)
	}
	if sel.RangeCount() == 0 {
		return false
	}
	container, err := sel.StartContainer()
	if err != nil {
		return fail(s.Logger, s.Name(), err)
	}
	text, ok := container.(surface.Text)
	if !ok {
		return false
	}
	data, err := text.Data()
	if err != nil {
		return fail(s.Logger, s.Name(), err)
	}
	suffix := m.Suffix()
	if !strings.HasSuffix(data, suffix) {
		return false
	}

	if done, err := s.rewrite(sel, t.Element, suffix, m); err != nil || done {
		if err != nil {
			return fail(s.Logger, s.Name(), err)
		}
		return true
	}
	// The text sits in a nested block such as <p> or <div>.
	if parent, err := text.ParentElement(); err == nil {
		if done, err := s.rewrite(sel, parent, suffix, m); err != nil || done {
			if err != nil {
				return fail(s.Logger, s.Name(), err)
			}
			return true
		}
	}

	updated := strings.TrimSuffix(data, suffix) + m.Replacement()
	if err := text.SetData(updated); err != nil {
		return fail(s.Logger, s.Name(), err)
	}
	if err := sel.Collapse(text, runeLen(updated)); err != nil {
		s.logger().Debug("collapse caret", "error", err)
	}
	return true
}

// rewrite replaces the serialized suffix at the end of el's markup. It
// reports false when el's markup does not end with the suffix.
func (s *ContentEditable) rewrite(sel surface.Selection, el surface.Element, suffix string, m matcher.Result) (bool, error) {
	markup, err := el.InnerHTML()
	if err != nil {
		return false, err
	}
	head, ok := trimSerializedSuffix(markup, suffix)
	if !ok {
		return false, nil
	}
	rewritten := head + s.markup().Snippet(m.Snippet) + serializeTrigger(m.Trigger)
	if err := el.SetInnerHTML(rewritten); err != nil {
		return false, err
	}
	if err := sel.CollapseToEnd(el); err != nil {
		// The text is already replaced; a misplaced caret is not a failure.
		s.logger().Debug("collapse caret", "error", err)
	}
	return true, nil
}

func (s *ContentEditable) markup() *Markup {
	if s.Markup == nil {
		s.Markup = NewMarkup()
	}
	return s.Markup
}

func (s *ContentEditable) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func serializeTrigger(r rune) string {
	return escapeText(string(r))
}
