package adapter

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Markup turns snippets into markup for rich-text surfaces. Snippets may
// carry simple formatting; anything a user-content policy would not allow
// is stripped before it reaches the page.
type Markup struct {
	policy *bluemonday.Policy
}

// NewMarkup returns a Markup using the bluemonday UGC policy.
func NewMarkup() *Markup {
	return &Markup{policy: bluemonday.UGCPolicy()}
}

// Snippet renders a snippet as sanitized markup with line breaks as <br>.
func (m *Markup) Snippet(s string) string {
	return strings.ReplaceAll(m.policy.Sanitize(s), "\n", "<br>")
}

// Text renders plain text as escaped markup with line breaks as <br>.
func (m *Markup) Text(s string) string {
	return strings.ReplaceAll(escapeText(s), "\n", "<br>")
}

// escapeText escapes text the way browsers serialize text nodes.
func escapeText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\u00a0", "&nbsp;")
	return r.Replace(s)
}

// serializedForms returns the spellings text can take at the end of
// serialized markup. Browsers write &nbsp; and leave quotes alone; other
// serializers escape quotes and keep U+00A0 raw.
func serializedForms(s string) []string {
	candidates := []string{
		escapeText(s),
		html.EscapeString(s),
		strings.ReplaceAll(escapeText(s), "&nbsp;", "\u00a0"),
	}
	seen := make(map[string]bool, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// trimSerializedSuffix removes the serialized form of suffix from the end
// of markup.
func trimSerializedSuffix(markup, suffix string) (string, bool) {
	for _, form := range serializedForms(suffix) {
		if strings.HasSuffix(markup, form) {
			return markup[:len(markup)-len(form)], true
		}
	}
	return "", false
}
