package offline

import "sync"

// InMemoryStore is a QueueStore that keeps the mirrored list in memory.
// It backs tests and deployments without a durable store; persistence
// across a reload then depends on the Redis store instead.
type InMemoryStore struct {
	mu      sync.Mutex
	actions []Action

	FailSave error
}

var _ QueueStore = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Save(actions []Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailSave != nil {
		return s.FailSave
	}
	s.actions = make([]Action, len(actions))
	copy(s.actions, actions)
	return nil
}

func (s *InMemoryStore) Load() ([]Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Action, len(s.actions))
	copy(out, s.actions)
	return out, nil
}
