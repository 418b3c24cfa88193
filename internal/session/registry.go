package session

import (
	"errors"
	"sync"

	"github.com/hyqbyj/taskmem/internal/memory"
	"github.com/hyqbyj/taskmem/internal/plan"
)

// ErrSessionNotFound is returned when a session id is unknown or already
// finished.
var ErrSessionNotFound = errors.New("session not found")

// Registry tracks in-flight sessions by id so that tool callers can refer to
// a session across calls. All methods are safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Begin starts and registers a session for the question under the given plan.
func (r *Registry) Begin(question string, p plan.Plan) *Session {
	s := New(question, p)
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// AddStep records one executed step on the identified session.
func (r *Registry) AddStep(id, step string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.AddStep(step)
	return nil
}

// Finish completes the identified session, removes it from the registry and
// returns the store request for the given rating.
func (r *Registry) Finish(id, result string, rating int) (memory.StoreRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return memory.StoreRequest{}, ErrSessionNotFound
	}
	delete(r.sessions, id)

	s.Finish(result)
	return s.Outcome(rating), nil
}

// Len reports the number of in-flight sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
