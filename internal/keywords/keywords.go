// Package keywords defines the keyword map shared by the expansion engine,
// the store and the settings tools, together with the validation rules a
// keyword and its snippet must satisfy.
package keywords

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Default limits, in characters.
const (
	DefaultMaxKeywordLength = 100
	DefaultMaxSnippetLength = 3500
)

// invalidKeywordChars are characters a keyword may never contain.
var invalidKeywordChars = regexp.MustCompile(`[<>:"\\|?*]`)

// Map associates each keyword with its snippet. Keys are unique by
// construction; iteration order carries no meaning.
type Map map[string]string

// Data is the complete payload a session consumes: the keyword map and the
// enabled flag.
type Data struct {
	Replacements Map  `json:"replacements"`
	Enabled      bool `json:"enabled"`
}

// DefaultData returns the state a session starts with: no keywords, enabled.
func DefaultData() Data {
	return Data{Replacements: Map{}, Enabled: true}
}

// Clone returns a deep copy of d.
func (d Data) Clone() Data {
	return Data{Replacements: d.Replacements.Clone(), Enabled: d.Enabled}
}

// Clone returns a copy of m. A nil map clones to an empty map.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Keywords returns the keywords sorted lexicographically.
func (m Map) Keywords() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge returns a new map holding m overlaid with other. Entries in other
// win on conflict.
func (m Map) Merge(other Map) Map {
	out := m.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Equal reports whether m and other hold the same entries.
func (m Map) Equal(other Map) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// ErrKeywordExists is returned when adding a keyword that is already mapped.
var ErrKeywordExists = errors.New("Keyword already exists.")

// ErrKeywordNotFound is returned when editing or deleting an unknown keyword.
var ErrKeywordNotFound = errors.New("keyword not found")

// ValidationError describes a rejected keyword or snippet.
type ValidationError struct {
	Keyword string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Keyword == "" {
		return e.Message
	}
	return fmt.Sprintf("%q: %s", e.Keyword, e.Message)
}

// Limits bounds keyword and snippet lengths.
type Limits struct {
	MaxKeywordLength int
	MaxSnippetLength int
}

// DefaultLimits returns the limits the settings surface enforces.
func DefaultLimits() Limits {
	return Limits{
		MaxKeywordLength: DefaultMaxKeywordLength,
		MaxSnippetLength: DefaultMaxSnippetLength,
	}
}

// Validate checks a single keyword/snippet pair against the default limits.
func Validate(keyword, snippet string) error {
	return DefaultLimits().Validate(keyword, snippet)
}

// Validate checks a single keyword/snippet pair. Lengths are counted in
// characters, not bytes.
func (l Limits) Validate(keyword, snippet string) error {
	if strings.TrimSpace(keyword) == "" {
		return &ValidationError{Field: "keyword", Message: "Keyword cannot be empty."}
	}
	if utf8.RuneCountInString(keyword) > l.MaxKeywordLength {
		return &ValidationError{Keyword: keyword, Field: "keyword",
			Message: fmt.Sprintf("Keyword cannot exceed %d characters.", l.MaxKeywordLength)}
	}
	if invalidKeywordChars.MatchString(keyword) {
		return &ValidationError{Keyword: keyword, Field: "keyword", Message: "Keyword contains invalid characters."}
	}
	if strings.TrimSpace(snippet) == "" {
		return &ValidationError{Keyword: keyword, Field: "replacement", Message: "Replacement cannot be empty."}
	}
	if utf8.RuneCountInString(snippet) > l.MaxSnippetLength {
		return &ValidationError{Keyword: keyword, Field: "replacement",
			Message: fmt.Sprintf("Replacement text cannot exceed %d characters.", l.MaxSnippetLength)}
	}
	return nil
}

// ValidateMap validates every entry of m and returns the first failure in
// keyword order, so the result does not depend on map iteration.
func (l Limits) ValidateMap(m Map) error {
	for _, k := range m.Keywords() {
		if err := l.Validate(k, m[k]); err != nil {
			return err
		}
	}
	return nil
}

// Add returns m with keyword mapped to snippet. The keyword must be new.
func (l Limits) Add(m Map, keyword, snippet string) (Map, error) {
	if err := l.Validate(keyword, snippet); err != nil {
		return nil, err
	}
	if _, ok := m[keyword]; ok {
		return nil, ErrKeywordExists
	}
	out := m.Clone()
	out[keyword] = snippet
	return out, nil
}

// Edit returns m with oldKeyword replaced by newKeyword mapped to snippet.
// Renaming onto another existing keyword is rejected.
func (l Limits) Edit(m Map, oldKeyword, newKeyword, snippet string) (Map, error) {
	if _, ok := m[oldKeyword]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeywordNotFound, oldKeyword)
	}
	if err := l.Validate(newKeyword, snippet); err != nil {
		return nil, err
	}
	if newKeyword != oldKeyword {
		if _, ok := m[newKeyword]; ok {
			return nil, ErrKeywordExists
		}
	}
	out := m.Clone()
	delete(out, oldKeyword)
	out[newKeyword] = snippet
	return out, nil
}

// Delete returns m without keyword.
func Delete(m Map, keyword string) (Map, error) {
	if _, ok := m[keyword]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeywordNotFound, keyword)
	}
	out := m.Clone()
	delete(out, keyword)
	return out, nil
}
