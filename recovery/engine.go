package recovery

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RetryPolicy describes the retry budget and delay curve for one error
// category.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Delay computes the wait before the next attempt. attempt is zero-based:
// the delay after the first failure uses attempt 0.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	base := time.Duration(float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt)))
	if base > p.MaxDelay {
		base = p.MaxDelay
	}
	if !p.Jitter {
		return base
	}
	// Uniform scaling in [0.5, 1.0] avoids synchronized retry storms
	// across concurrent clients.
	factor := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(base) * factor)
}

var defaultPolicy = RetryPolicy{MaxAttempts: 3, InitialDelay: time.Second, Multiplier: 2, MaxDelay: 10 * time.Second, Jitter: true}

var policies = map[ErrorType]RetryPolicy{
	ErrorTypeNetwork:     {MaxAttempts: 5, InitialDelay: 2 * time.Second, Multiplier: 2, MaxDelay: 10 * time.Second, Jitter: true},
	ErrorTypeTimeout:     {MaxAttempts: 5, InitialDelay: 2 * time.Second, Multiplier: 2, MaxDelay: 10 * time.Second, Jitter: true},
	ErrorTypeRateLimited: {MaxAttempts: 2, InitialDelay: 10 * time.Second, Multiplier: 2, MaxDelay: 30 * time.Second, Jitter: true},
	ErrorTypeServer:      {MaxAttempts: 3, InitialDelay: 5 * time.Second, Multiplier: 2, MaxDelay: 10 * time.Second, Jitter: true},
	// Cancellation is retryable at the user's discretion only; the engine
	// itself never retries it.
	ErrorTypeUserCancelled: {MaxAttempts: 1, InitialDelay: 0, Multiplier: 1, MaxDelay: 0, Jitter: false},
}

// PolicyFor returns the retry policy for an error category.
func PolicyFor(t ErrorType) RetryPolicy {
	if p, ok := policies[t]; ok {
		return p
	}
	return defaultPolicy
}

// retryState tracks attempts for one logical operation key.
type retryState struct {
	attempts  int
	lastError *AuthError
	touchedAt time.Time
}

// Engine classifies failures and executes operations with bounded,
// per-category retry. Safe for concurrent use.
type Engine struct {
	log        zerolog.Logger
	nowTime    func() time.Time
	sleep      func(context.Context, time.Duration) error
	attemptTTL time.Duration

	mu     sync.Mutex
	states map[string]*retryState
}

// EngineOption modifies an Engine instance.
type EngineOption func(*Engine)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) EngineOption {
	return func(e *Engine) {
		e.nowTime = nowFunc
	}
}

// WithSleep replaces the delay function (primarily for testing).
func WithSleep(sleep func(context.Context, time.Duration) error) EngineOption {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

// WithAttemptTTL bounds how long retry bookkeeping survives for keys that
// never complete.
func WithAttemptTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) {
		e.attemptTTL = ttl
	}
}

// NewEngine creates a retry engine.
func NewEngine(log zerolog.Logger, options ...EngineOption) *Engine {
	e := &Engine{
		log:        log,
		nowTime:    time.Now,
		sleep:      sleepCtx,
		attemptTTL: 15 * time.Minute,
		states:     make(map[string]*retryState),
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Attempts returns the recorded attempt count for a key.
func (e *Engine) Attempts(key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[key]; ok {
		return st.attempts
	}
	return 0
}

// LastError returns the most recent classified error for a key, or nil.
func (e *Engine) LastError(key string) *AuthError {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[key]; ok {
		return st.lastError
	}
	return nil
}

func (e *Engine) recordFailure(key string, ae *AuthError) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evictStaleLocked()
	st, ok := e.states[key]
	if !ok {
		st = &retryState{}
		e.states[key] = st
	}
	st.attempts++
	st.lastError = ae
	st.touchedAt = e.nowTime()
	return st.attempts
}

func (e *Engine) clear(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, key)
}

// evictStaleLocked drops bookkeeping for abandoned operations so the map
// does not grow unbounded in a long-running process.
func (e *Engine) evictStaleLocked() {
	cutoff := e.nowTime().Add(-e.attemptTTL)
	for key, st := range e.states {
		if st.touchedAt.Before(cutoff) {
			delete(e.states, key)
		}
	}
}

// ExecuteWithRetry runs op until it succeeds, its category's attempt budget
// is exhausted, the classification is non-retryable, or ctx is cancelled.
// key identifies the logical operation for attempt bookkeeping, which is
// cleared on success. onError, when non-nil, observes every classified
// failure before the retry decision.
func ExecuteWithRetry[T any](ctx context.Context, e *Engine, key string, op func(context.Context) (T, error), onError func(*AuthError)) (T, error) {
	var zero T
	for {
		result, err := op(ctx)
		if err == nil {
			e.clear(key)
			return result, nil
		}

		ae := Classify(err)
		attempts := e.recordFailure(key, ae)
		if onError != nil {
			onError(ae)
		}

		policy := PolicyFor(ae.Type)
		logEvent := e.log.Warn().
			Str("key", key).
			Str("error_type", string(ae.Type)).
			Int("attempt", attempts).
			Bool("retryable", ae.Retryable)
		if ae.Type == ErrorTypeUnknown {
			// Unknown classifications are taxonomy gaps; keep them
			// discoverable in the logs.
			logEvent = e.log.Error().
				Str("key", key).
				Str("error_type", string(ae.Type)).
				Int("attempt", attempts).
				Bool("retryable", ae.Retryable)
		}
		logEvent.Msg(ae.Message)

		if !ae.Retryable || attempts >= policy.MaxAttempts {
			return zero, ae
		}

		delay := policy.Delay(attempts - 1)
		if err := e.sleep(ctx, delay); err != nil {
			return zero, ae
		}
	}
}
