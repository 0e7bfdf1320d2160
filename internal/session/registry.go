package session

import (
	"sync"

	"handy/internal/surface"
)

// Registry holds at most one session per document.
type Registry struct {
	mu       sync.Mutex
	sessions map[surface.Document]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[surface.Document]*Session)}
}

// Get returns the session serving doc, if any.
func (r *Registry) Get(doc surface.Document) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[doc]
	return s, ok
}

// GetOrCreate returns the session serving opts.Document, creating it when
// there is none. created reports whether a new session was made. A closed
// session leaves the registry.
func (r *Registry) GetOrCreate(opts Options) (s *Session, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[opts.Document]; ok {
		return s, false, nil
	}
	opts.onClose = r.remove
	s, err = New(opts)
	if err != nil {
		return nil, false, err
	}
	r.sessions[opts.Document] = s
	return s, true, nil
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.doc] == s {
		delete(r.sessions, s.doc)
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sessions returns the live sessions in no particular order.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
