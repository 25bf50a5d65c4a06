package sessionsec

import (
	"time"

	"github.com/pkg/errors"
)

var ErrSessionNotFound = errors.New("session not found")

// Repo is the narrow interface to the session store. Conflicting writes to
// the same session are serialized at the store layer; this module treats
// every mutation as a read-modify-write and re-checks IsActive after reads
// so a concurrent invalidation wins over a concurrent use.
type Repo interface {
	// Create inserts a new session record.
	Create(session *Session) error
	// Get returns a session by id, active or not.
	Get(id string) (*Session, error)
	// ListByUser returns all sessions for a user, most recently used
	// first. activeOnly restricts to active records.
	ListByUser(userID string, activeOnly bool) ([]*Session, error)
	// Touch updates LastUsed.
	Touch(id string, at time.Time) error
	// UpdateTokens replaces both tokens and updates LastUsed.
	UpdateTokens(id string, tokens TokenPair, at time.Time) error
	// IncrementRisk adds delta to the risk score, clamping at cap, and
	// returns the new score. Risk only ever increases while a session is
	// active; a fresh session is the only reset path.
	IncrementRisk(id string, delta, cap int) (int, error)
	// Deactivate soft-deletes the session with a reason. Idempotent.
	Deactivate(id string, reason InvalidationReason, at time.Time) error
}
