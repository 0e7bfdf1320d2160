package keywords

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// documentSchema describes the import/export document. Extra top-level
// fields are tolerated so exports from newer versions still import.
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["replacements"],
  "properties": {
    "replacements": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    }
  }
}`

var compiledDocumentSchema = jsonschema.MustCompileString("handy-replacements.schema.json", documentSchema)

// ErrInvalidDocument is returned when an import document does not have the
// {"replacements": {...}} shape.
var ErrInvalidDocument = errors.New("Invalid file format")

// Document is the import/export file format.
type Document struct {
	Replacements Map `json:"replacements"`
}

// ExportFileName returns the default export file name for the given day.
func ExportFileName(t time.Time) string {
	return "handy-replacements-" + t.Format("2006-01-02") + ".json"
}

// Export writes m as an indented document.
func Export(w io.Writer, m Map) error {
	if m == nil {
		m = Map{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Document{Replacements: m}); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return nil
}

// ParseDocument decodes and schema-checks an import document. Entries are
// not validated against limits here; see Limits.Import.
func ParseDocument(r io.Reader) (Map, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	var instance interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := compiledDocumentSchema.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if doc.Replacements == nil {
		doc.Replacements = Map{}
	}
	return doc.Replacements, nil
}

// Import parses r, validates every entry and returns current merged with
// the imported entries. Nothing is returned unless every entry is valid, so
// callers can persist the result in a single write.
func (l Limits) Import(r io.Reader, current Map) (merged Map, imported int, err error) {
	incoming, err := ParseDocument(r)
	if err != nil {
		return nil, 0, err
	}
	if err := l.ValidateMap(incoming); err != nil {
		return nil, 0, err
	}
	return current.Merge(incoming), len(incoming), nil
}
