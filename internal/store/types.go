package store

import (
	"encoding/json"
	"time"

	"handy/internal/keywords"
)

// Setting keys.
const (
	KeyReplacements = "replacements"
	KeyEnabled      = "enabled"
)

// Setting is one stored key with its JSON value.
type Setting struct {
	Key       string
	Value     json.RawMessage
	Revision  int64
	UpdatedAt time.Time
}

// Change is delivered to subscribers after one or more commits. Keys lists
// every key touched since the previous notification, and Data is the state
// after the latest of those commits.
type Change struct {
	Keys     []string
	Data     keywords.Data
	Revision int64
}

// Has reports whether key is among the changed keys.
func (c Change) Has(key string) bool {
	for _, k := range c.Keys {
		if k == key {
			return true
		}
	}
	return false
}

// Status summarizes the store for the settings tool.
type Status struct {
	Path          string
	SchemaVersion int
	Keywords      int
	Enabled       bool
	Revision      int64
	UpdatedAt     time.Time
}
