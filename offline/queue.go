// Package offline defers auth-related operations that failed for lack of
// connectivity and replays them once the network monitor reports online.
// The queue is owned by a single client context; durable mirroring only
// protects against a reload, not concurrent writers.
package offline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/storefront-labs/authcore/netmon"
)

// ActionType names the deferred operation classes.
type ActionType string

const (
	ActionAuthRequest   ActionType = "auth_request"
	ActionStateStore    ActionType = "state_store"
	ActionProfileUpdate ActionType = "profile_update"
)

// Action is one deferred operation.
type Action struct {
	ID         string            `json:"id"`
	Type       ActionType        `json:"type"`
	Payload    map[string]string `json:"payload,omitempty"`
	QueuedAt   time.Time         `json:"queued_at"`
	RetryCount int               `json:"retry_count"`
}

// QueueStore durably persists the full ordered action list under a fixed
// key, replaced wholesale on every mutation, so a reload while offline
// loses nothing.
type QueueStore interface {
	Save(actions []Action) error
	Load() ([]Action, error)
}

// Handler replays one action. A non-nil error counts as a failed attempt.
type Handler func(ctx context.Context, action Action) error

// Queue is the offline action queue.
type Queue struct {
	store       QueueStore
	handler     Handler
	log         zerolog.Logger
	maxAttempts int
	nowTime     func() time.Time

	mu      sync.Mutex
	actions []Action

	replayMu sync.Mutex
}

// QueueOption modifies a Queue instance.
type QueueOption func(*Queue)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) QueueOption {
	return func(q *Queue) {
		q.nowTime = nowFunc
	}
}

// WithMaxAttempts overrides how many failed replays an action survives.
func WithMaxAttempts(n int) QueueOption {
	return func(q *Queue) {
		q.maxAttempts = n
	}
}

// NewQueue creates a queue, restoring any actions the durable store held
// from a previous run.
func NewQueue(store QueueStore, handler Handler, log zerolog.Logger, options ...QueueOption) (*Queue, error) {
	if store == nil {
		return nil, errors.New("[NewQueue] queue store is required")
	}
	if handler == nil {
		return nil, errors.New("[NewQueue] replay handler is required")
	}

	q := &Queue{
		store:       store,
		handler:     handler,
		log:         log,
		maxAttempts: 3,
		nowTime:     time.Now,
	}
	for _, opt := range options {
		opt(q)
	}

	restored, err := store.Load()
	if err != nil {
		return nil, errors.Wrap(err, "[NewQueue] restore")
	}
	q.actions = restored
	if len(restored) > 0 {
		log.Info().Int("count", len(restored)).Msg("restored offline actions from durable store")
	}
	return q, nil
}

// AttachMonitor registers the queue for replay on every connectivity probe
// that finds the network online, which covers both the offline → online
// transition and periodic probes afterwards. An action whose replay failed
// is therefore retried on the next probe instead of waiting for another
// offline flip.
func (q *Queue) AttachMonitor(ctx context.Context, monitor *netmon.Monitor) {
	monitor.OnProbe(func(status netmon.Status) {
		if status == netmon.StatusOnline && q.Len() > 0 {
			go q.ProcessQueued(ctx)
		}
	})
}

// Enqueue appends an action and mirrors the whole list durably.
func (q *Queue) Enqueue(ctx context.Context, actionType ActionType, payload map[string]string) (Action, error) {
	action := Action{
		ID:       uuid.New().String(),
		Type:     actionType,
		Payload:  payload,
		QueuedAt: q.nowTime(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.actions = append(q.actions, action)
	if err := q.store.Save(q.actions); err != nil {
		// Keep the in-memory copy; a later mutation retries the mirror.
		q.log.Warn().Err(err).Str("action_id", action.ID).Msg("failed to mirror queue to durable store")
	}
	q.log.Info().Str("action_id", action.ID).Str("type", string(actionType)).Msg("queued offline action")
	return action, nil
}

// Len returns the number of pending actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// Pending returns a copy of the queued actions in enqueue order.
func (q *Queue) Pending() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Action, len(q.actions))
	copy(out, q.actions)
	return out
}

// ProcessQueued replays pending actions in enqueue order. A successful
// replay removes the action from memory and the durable store in the same
// step; a failure increments its retry count, and an action that has failed
// maxAttempts times is dropped with a log line rather than silently lost.
func (q *Queue) ProcessQueued(ctx context.Context) {
	// One pass at a time. A probe firing mid-pass is dropped; the next
	// probe picks up whatever the running pass leaves behind.
	if !q.replayMu.TryLock() {
		return
	}
	defer q.replayMu.Unlock()

	q.mu.Lock()
	pending := make([]Action, len(q.actions))
	copy(pending, q.actions)
	q.mu.Unlock()

	for _, action := range pending {
		if ctx.Err() != nil {
			return
		}

		err := q.handler(ctx, action)
		if err == nil {
			q.remove(action.ID)
			q.log.Info().Str("action_id", action.ID).Str("type", string(action.Type)).Msg("replayed offline action")
			continue
		}

		attempts := q.bumpRetry(action.ID)
		if attempts >= q.maxAttempts {
			q.remove(action.ID)
			q.log.Error().
				Err(err).
				Str("action_id", action.ID).
				Str("type", string(action.Type)).
				Int("attempts", attempts).
				Msg("dropping offline action after repeated replay failures")
			continue
		}
		q.log.Warn().
			Err(err).
			Str("action_id", action.ID).
			Int("attempts", attempts).
			Msg("offline action replay failed")
	}
}

// remove deletes the action and rewrites the durable mirror atomically with
// respect to this queue, so a reload cannot double-process it.
func (q *Queue) remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, a := range q.actions {
		if a.ID == id {
			q.actions = append(q.actions[:i], q.actions[i+1:]...)
			break
		}
	}
	if err := q.store.Save(q.actions); err != nil {
		q.log.Warn().Err(err).Str("action_id", id).Msg("failed to mirror queue removal")
	}
}

func (q *Queue) bumpRetry(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.actions {
		if q.actions[i].ID == id {
			q.actions[i].RetryCount++
			if err := q.store.Save(q.actions); err != nil {
				q.log.Warn().Err(err).Str("action_id", id).Msg("failed to mirror retry count")
			}
			return q.actions[i].RetryCount
		}
	}
	return q.maxAttempts
}
