package sessionsec

import (
	"sync"
	"time"
)

// InMemoryRepo is a thread-safe in-memory Repo for deployments without a
// durable store; sessions then do not survive a restart. Mutations run
// under one lock, so the read-modify-write contract holds trivially.
type InMemoryRepo struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

var _ Repo = (*InMemoryRepo)(nil)

// NewInMemoryRepo creates an empty in-memory session repository.
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		sessions: make(map[string]*Session),
	}
}

func (r *InMemoryRepo) Create(session *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *session
	r.sessions[session.ID] = &cp
	return nil
}

func (r *InMemoryRepo) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (r *InMemoryRepo) ListByUser(userID string, activeOnly bool) ([]*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, session := range r.sessions {
		if session.UserID != userID {
			continue
		}
		if activeOnly && !session.IsActive {
			continue
		}
		cp := *session
		out = append(out, &cp)
	}
	return out, nil
}

func (r *InMemoryRepo) Touch(id string, at time.Time) error {
	return r.update(id, func(s *Session) {
		s.LastUsed = at
	})
}

func (r *InMemoryRepo) UpdateTokens(id string, tokens TokenPair, at time.Time) error {
	return r.update(id, func(s *Session) {
		s.SessionToken = tokens.AccessToken
		s.RefreshToken = tokens.RefreshToken
		s.LastUsed = at
	})
}

func (r *InMemoryRepo) IncrementRisk(id string, delta, cap int) (int, error) {
	score := 0
	err := r.update(id, func(s *Session) {
		s.RiskScore += delta
		if s.RiskScore > cap {
			s.RiskScore = cap
		}
		score = s.RiskScore
	})
	if err != nil {
		return 0, err
	}
	return score, nil
}

func (r *InMemoryRepo) Deactivate(id string, reason InvalidationReason, at time.Time) error {
	return r.update(id, func(s *Session) {
		if !s.IsActive {
			return
		}
		s.IsActive = false
		s.InvalidatedAt = &at
		s.InvalidationReason = reason
	})
}

func (r *InMemoryRepo) update(id string, mutate func(*Session)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	mutate(session)
	return nil
}
