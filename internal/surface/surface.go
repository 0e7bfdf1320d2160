// Package surface defines the editable-document abstraction the expansion
// engine works against. Implementations exist for an in-memory document
// model (internal/dom) and a Chrome page driven over CDP (internal/cdp).
//
// Offsets are counted in characters (runes). Implementations backed by
// UTF-16 strings convert at their boundary.
package surface

import "errors"

var (
	// ErrAccessDenied is returned when a document across an origin
	// boundary is touched.
	ErrAccessDenied = errors.New("surface: access denied")

	// ErrNotLoaded is returned when a frame has no document yet.
	ErrNotLoaded = errors.New("surface: frame not loaded")

	// ErrDetached is returned when a node is no longer part of a document.
	ErrDetached = errors.New("surface: node detached")

	// ErrNotSupported is returned when a node does not support an operation,
	// such as reading the value of a div.
	ErrNotSupported = errors.New("surface: operation not supported")
)

// NodeType distinguishes element nodes from text nodes.
type NodeType int

const (
	NodeElement NodeType = iota + 1
	NodeText
)

// Node is any node a selection can point into.
type Node interface {
	NodeType() NodeType
}

// Text is a character-data node.
type Text interface {
	Node
	Data() (string, error)
	SetData(data string) error

	// ParentElement returns the element holding the node, or ErrDetached.
	ParentElement() (Element, error)
}

// Element is an element node. Form-field accessors return ErrNotSupported
// on elements that are not input or textarea.
type Element interface {
	Node

	// TagName returns the upper-case tag name, as the DOM reports it.
	TagName() string

	// InputType returns the DOM type property: the lower-cased type
	// attribute of an input ("text" when absent), "textarea" for
	// textareas and "" otherwise.
	InputType() string

	Attr(name string) (string, bool)
	IsContentEditable() bool

	Value() (string, error)
	SetValue(value string) error
	SelectionStart() (int, error)
	SetSelectionRange(start, end int) error

	TextContent() (string, error)
	InnerHTML() (string, error)
	SetInnerHTML(markup string) error

	QuerySelectorAll(selector string) ([]Element, error)
}

// Selection is the document's live selection.
type Selection interface {
	RangeCount() int
	StartContainer() (Node, error)

	// String returns the selected text.
	String() (string, error)

	// ReplaceWithText deletes the selected range, inserts a text node
	// holding text at its start and collapses the selection after it.
	ReplaceWithText(text string) error

	// Collapse places a caret at offset within node.
	Collapse(node Node, offset int) error

	// CollapseToEnd places a caret after the last child of el.
	CollapseToEnd(el Element) error
}

// Access is the result of probing whether a frame's document is scriptable.
type Access int

const (
	AccessNotLoaded Access = iota
	AccessAccessible
	AccessCrossOrigin
)

func (a Access) String() string {
	switch a {
	case AccessAccessible:
		return "accessible"
	case AccessCrossOrigin:
		return "cross-origin"
	default:
		return "not-loaded"
	}
}

// Frame is a nested browsing context, reached through its iframe element.
type Frame interface {
	// ID is stable for the lifetime of the iframe element.
	ID() string
	Access() Access

	// Document returns ErrAccessDenied for cross-origin frames and
	// ErrNotLoaded when the frame has not loaded.
	Document() (Document, error)

	// Window is always reachable, even across origins.
	Window() Window
}

// Window is the messaging endpoint of a browsing context.
type Window interface {
	// PostMessage delivers data to this window asynchronously. from is the
	// sender, exposed to handlers as the message source.
	PostMessage(from Window, data []byte) error

	// OnMessage registers fn for messages delivered to this window.
	OnMessage(fn func(from Window, data []byte)) (remove func())

	// Parent returns the embedding window, or nil at the top level.
	Parent() Window
}

// EventKind names the DOM events the engine listens to.
type EventKind string

const (
	EventInput   EventKind = "input"
	EventKeyDown EventKind = "keydown"
)

// Event is a dispatched input or keydown event.
type Event struct {
	Kind   EventKind
	Target Element

	// Key is the KeyboardEvent key for keydown events.
	Key string

	// Synthetic is true for events not produced by the user agent
	// (isTrusted == false), including the engine's own follow-ups.
	Synthetic bool
}

// Mutation reports elements added to a document.
type Mutation struct {
	Added []Element
}

// Document is a browsing context's document.
type Document interface {
	URL() string
	ActiveSelection() (Selection, error)
	QuerySelectorAll(selector string) ([]Element, error)
	Frames() ([]Frame, error)

	// AddEventListener registers fn in the capture phase.
	AddEventListener(kind EventKind, fn func(Event)) (remove func())

	// Observe reports subtree insertions until disconnect is called.
	Observe(fn func([]Mutation)) (disconnect func())

	Window() Window
}

// IsFormField reports whether el is an input or a textarea.
func IsFormField(el Element) bool {
	switch el.TagName() {
	case "INPUT", "TEXTAREA":
		return true
	}
	return false
}
