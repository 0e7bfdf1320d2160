// Package trigger decides whether the text of an editable surface ends in a
// trigger character, and enforces the one-attempt-per-keystroke rule for
// deferred follow-up checks.
package trigger

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"handy/internal/surface"
)

// DefaultInputTypes are the input types eligible for expansion.
var DefaultInputTypes = []string{"text", "search", "url", "tel", "email"}

const punctuation = ".,;!?"

// IsTrigger reports whether r ends a candidate keyword: Unicode white
// space (U+00A0 included) or one of . , ; ! ?
func IsTrigger(r rune) bool {
	return unicode.IsSpace(r) || r == '\ufeff' || strings.ContainsRune(punctuation, r)
}

// IsTriggerKey reports whether a keydown of key types a trigger character.
func IsTriggerKey(key string) bool {
	switch key {
	case " ", ".", ",", ";", "!", "?":
		return true
	}
	return false
}

// Detection is a positive trigger decision.
type Detection struct {
	// TextBefore is the text preceding the trigger character.
	TextBefore string
	Trigger    rune
}

// Detector inspects event targets.
type Detector struct {
	allowed map[string]bool
}

// NewDetector returns a detector accepting the given input types. An empty
// list selects DefaultInputTypes.
func NewDetector(inputTypes []string) *Detector {
	if len(inputTypes) == 0 {
		inputTypes = DefaultInputTypes
	}
	d := &Detector{allowed: make(map[string]bool, len(inputTypes))}
	for _, t := range inputTypes {
		d.allowed[strings.ToLower(t)] = true
	}
	return d
}

// Eligible reports whether target may be expanded at all.
func (d *Detector) Eligible(target surface.Element) bool {
	if target == nil {
		return false
	}
	typ := target.InputType()
	if typ == "password" {
		return false
	}
	if target.TagName() == "INPUT" && !d.allowed[typ] {
		return false
	}
	return true
}

// Text extracts the text a trigger is searched in: the text content of an
// editable region or the value of a form field.
func Text(target surface.Element) (string, bool) {
	if target.IsContentEditable() {
		s, err := target.TextContent()
		return s, err == nil
	}
	if surface.IsFormField(target) {
		s, err := target.Value()
		return s, err == nil
	}
	return "", false
}

// Detect reports whether target currently ends in a trigger. A disabled
// engine never inspects the target.
func (d *Detector) Detect(target surface.Element, enabled bool) (Detection, bool) {
	if !enabled || !d.Eligible(target) {
		return Detection{}, false
	}
	text, ok := Text(target)
	if !ok || text == "" {
		return Detection{}, false
	}
	return Split(text)
}

// Split separates the trailing trigger character from text.
func Split(text string) (Detection, bool) {
	r, size := utf8.DecodeLastRuneInString(text)
	if (r == utf8.RuneError && size <= 1) || !IsTrigger(r) {
		return Detection{}, false
	}
	return Detection{TextBefore: text[:len(text)-size], Trigger: r}, true
}
