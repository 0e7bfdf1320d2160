// Package frames carries replacement data across frame boundaries.
//
// A parent document answers data requests from its frames and pushes
// updates to them; a Client in a frame requests data from its parent. The
// Injector finds frames as they appear and either attaches a session to
// them directly or, for cross-origin frames, pushes the data over the
// message channel.
package frames

import (
	"encoding/json"
	"errors"
	"fmt"

	"handy/internal/keywords"
)

// MessageType identifies a cross-frame message.
type MessageType string

const (
	// MsgGetData asks the parent for the current data.
	MsgGetData MessageType = "HANDY_GET_DATA"
	// MsgDataUpdate carries the replacements and enabled flag.
	MsgDataUpdate MessageType = "HANDY_DATA_UPDATE"
	// MsgIframeReady announces that a frame has attached its listeners.
	MsgIframeReady MessageType = "HANDY_IFRAME_READY"
)

// Message sources. Messages from any other source are ignored.
const (
	SourceIframe        = "handy_iframe"
	SourceIframeHandler = "handy_iframe_handler"
	SourceParent        = "handy_parent"
)

var (
	// ErrMalformed is returned for payloads that are not a message object.
	ErrMalformed = errors.New("frames: malformed message")

	// ErrUnknownSource is returned for messages not sent by the engine.
	ErrUnknownSource = errors.New("frames: unknown message source")
)

// Message is the JSON object exchanged between windows.
type Message struct {
	Type         MessageType  `json:"type"`
	Source       string       `json:"source"`
	Replacements keywords.Map `json:"replacements,omitempty"`
	Enabled      *bool        `json:"enabled,omitempty"`
	URL          string       `json:"url,omitempty"`
}

// NewGetData returns a data request sent from a frame.
func NewGetData(source string) *Message {
	return &Message{Type: MsgGetData, Source: source}
}

// NewDataUpdate returns an update sent by a parent.
func NewDataUpdate(data keywords.Data) *Message {
	enabled := data.Enabled
	m := data.Replacements
	if m == nil {
		m = keywords.Map{}
	}
	return &Message{Type: MsgDataUpdate, Source: SourceParent, Replacements: m, Enabled: &enabled}
}

// NewIframeReady returns the ready announcement of the frame at url.
func NewIframeReady(source, url string) *Message {
	return &Message{Type: MsgIframeReady, Source: source, URL: url}
}

// Encode returns the JSON form of m.
func (m *Message) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return b, nil
}

// Decode parses a message. Payloads from other scripts on the page are
// common, so callers usually drop errors silently.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type == "" {
		return nil, ErrMalformed
	}
	switch m.Source {
	case SourceIframe, SourceIframeHandler, SourceParent:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, m.Source)
	}
	return &m, nil
}

// FromFrame reports whether m was sent by a frame.
func (m *Message) FromFrame() bool {
	return m.Source == SourceIframe || m.Source == SourceIframeHandler
}

// FromParent reports whether m was sent by a parent document.
func (m *Message) FromParent() bool { return m.Source == SourceParent }

// Data returns the payload of an update. A missing map is empty and a
// missing flag means enabled.
func (m *Message) Data() keywords.Data {
	data := keywords.Data{Replacements: m.Replacements.Clone(), Enabled: true}
	if m.Enabled != nil {
		data.Enabled = *m.Enabled
	}
	return data
}
