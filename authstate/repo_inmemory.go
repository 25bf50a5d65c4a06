package authstate

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// InMemoryRepo is a thread-safe in-memory implementation of Repo.
type InMemoryRepo struct {
	mu     sync.Mutex
	states map[string]*State
}

var _ Repo = (*InMemoryRepo)(nil)

// NewInMemoryRepo creates an empty in-memory state repository.
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		states: make(map[string]*State),
	}
}

// Put stores a new state.
func (r *InMemoryRepo) Put(state *State) error {
	if state == nil || state.Value == "" {
		return errors.New("state value cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *state
	r.states[state.Value] = &cp
	return nil
}

// Consume removes and returns the state under a single lock so concurrent
// callbacks carrying the same value resolve it at most once.
func (r *InMemoryRepo) Consume(value string, now time.Time) (*State, error) {
	if value == "" {
		return nil, ErrStateNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state, exists := r.states[value]
	if !exists {
		return nil, ErrStateNotFound
	}
	delete(r.states, value)

	if state.Expired(now) {
		return nil, ErrStateExpired
	}
	cp := *state
	return &cp, nil
}

// DeleteExpired removes states whose expiry is before the cutoff.
func (r *InMemoryRepo) DeleteExpired(cutoff time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for value, state := range r.states {
		if state.ExpiresAt.Before(cutoff) {
			delete(r.states, value)
		}
	}
	return nil
}
