package fakesessionrepo

import (
	"sync"
	"time"

	"github.com/storefront-labs/authcore/sessionsec"
)

var _ sessionsec.Repo = (*FakeSessionRepo)(nil)

// FakeSessionRepo is a thread-safe in-memory session store for tests.
type FakeSessionRepo struct {
	lock     sync.RWMutex
	sessions map[string]*sessionsec.Session

	FailCreate error
	FailList   error
}

func NewFakeSessionRepo() *FakeSessionRepo {
	return &FakeSessionRepo{
		sessions: make(map[string]*sessionsec.Session),
	}
}

func (sr *FakeSessionRepo) Create(session *sessionsec.Session) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	if sr.FailCreate != nil {
		return sr.FailCreate
	}
	cp := *session
	sr.sessions[session.ID] = &cp
	return nil
}

func (sr *FakeSessionRepo) Get(id string) (*sessionsec.Session, error) {
	sr.lock.RLock()
	defer sr.lock.RUnlock()

	session, ok := sr.sessions[id]
	if !ok {
		return nil, sessionsec.ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (sr *FakeSessionRepo) ListByUser(userID string, activeOnly bool) ([]*sessionsec.Session, error) {
	sr.lock.RLock()
	defer sr.lock.RUnlock()

	if sr.FailList != nil {
		return nil, sr.FailList
	}
	var out []*sessionsec.Session
	for _, session := range sr.sessions {
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

func (sr *FakeSessionRepo) Touch(id string, at time.Time) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	session, ok := sr.sessions[id]
	if !ok {
		return sessionsec.ErrSessionNotFound
	}
	session.LastUsed = at
	return nil
}

func (sr *FakeSessionRepo) UpdateTokens(id string, tokens sessionsec.TokenPair, at time.Time) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	session, ok := sr.sessions[id]
	if !ok {
		return sessionsec.ErrSessionNotFound
	}
	session.SessionToken = tokens.AccessToken
	session.RefreshToken = tokens.RefreshToken
	session.LastUsed = at
	return nil
}

func (sr *FakeSessionRepo) IncrementRisk(id string, delta, cap int) (int, error) {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	session, ok := sr.sessions[id]
	if !ok {
		return 0, sessionsec.ErrSessionNotFound
	}
	session.RiskScore += delta
	if session.RiskScore > cap {
		session.RiskScore = cap
	}
	return session.RiskScore, nil
}

func (sr *FakeSessionRepo) Deactivate(id string, reason sessionsec.InvalidationReason, at time.Time) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()

	session, ok := sr.sessions[id]
	if !ok {
		return sessionsec.ErrSessionNotFound
	}
	if !session.IsActive {
		return nil
	}
	session.IsActive = false
	session.InvalidatedAt = &at
	session.InvalidationReason = reason
	return nil
}
