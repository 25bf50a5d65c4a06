package sessionsec

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/storefront-labs/authcore/audit"
)

// HardeningConfig carries the session security tunables.
type HardeningConfig struct {
	SessionTTL            time.Duration
	InactivityTimeout     time.Duration
	MaxConcurrentSessions int
	MaxRiskScore          int
}

// DefaultHardeningConfig matches the documented invariants: 5 concurrent
// sessions, 30 minute inactivity timeout, risk capped at 100.
func DefaultHardeningConfig() HardeningConfig {
	return HardeningConfig{
		SessionTTL:            24 * time.Hour,
		InactivityTimeout:     30 * time.Minute,
		MaxConcurrentSessions: 5,
		MaxRiskScore:          100,
	}
}

// Hardening is the session security service.
type Hardening struct {
	repo    Repo
	issuer  *TokenIssuer
	config  HardeningConfig
	sink    audit.Sink
	log     zerolog.Logger
	nowTime func() time.Time
}

// HardeningOption modifies a Hardening instance.
type HardeningOption func(*Hardening)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) HardeningOption {
	return func(h *Hardening) {
		h.nowTime = nowFunc
	}
}

// WithAuditSink routes invalidations and suspicious-activity flags to an
// audit sink.
func WithAuditSink(sink audit.Sink) HardeningOption {
	return func(h *Hardening) {
		h.sink = sink
	}
}

// NewHardening creates the session hardening service.
func NewHardening(repo Repo, issuer *TokenIssuer, config HardeningConfig, log zerolog.Logger, options ...HardeningOption) (*Hardening, error) {
	if repo == nil {
		return nil, errors.New("[NewHardening] session repo is required")
	}
	if issuer == nil {
		return nil, errors.New("[NewHardening] token issuer is required")
	}
	if config.MaxConcurrentSessions <= 0 {
		return nil, errors.New("[NewHardening] MaxConcurrentSessions must be positive")
	}

	h := &Hardening{
		repo:    repo,
		issuer:  issuer,
		config:  config,
		sink:    audit.NopSink{},
		log:     log,
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(h)
	}
	return h, nil
}

// CreateHardenedSession persists a new session carrying the client's
// fingerprint and an initial risk prior, then evicts the least recently
// used sessions beyond the concurrency limit.
func (h *Hardening) CreateHardenedSession(ctx context.Context, userID, accessToken, refreshToken string, fp Fingerprint) (*Session, error) {
	now := h.nowTime()
	session := &Session{
		ID:           uuid.New().String(),
		UserID:       userID,
		Fingerprint:  fp,
		DeviceType:   fp.DeviceTypeOf(),
		RiskScore:    fp.InitialRiskScore(h.config.MaxRiskScore),
		SessionToken: accessToken,
		RefreshToken: refreshToken,
		CreatedAt:    now,
		LastUsed:     now,
		ExpiresAt:    now.Add(h.config.SessionTTL),
		IsActive:     true,
	}

	if err := h.repo.Create(session); err != nil {
		return nil, errors.Wrap(err, "[CreateHardenedSession] repo.Create")
	}

	if err := h.enforceConcurrencyLimit(session.UserID, session.ID); err != nil {
		// The new session is valid; eviction failure only risks a stale
		// extra session, which expiry will catch.
		h.log.Warn().Err(err).Str("user_id", userID).Msg("session concurrency enforcement failed")
	}

	return session, nil
}

// enforceConcurrencyLimit deactivates the oldest-by-LastUsed active
// sessions beyond MaxConcurrentSessions. keepID is never evicted.
func (h *Hardening) enforceConcurrencyLimit(userID, keepID string) error {
	active, err := h.repo.ListByUser(userID, true)
	if err != nil {
		return errors.Wrap(err, "[enforceConcurrencyLimit] ListByUser")
	}
	if len(active) <= h.config.MaxConcurrentSessions {
		return nil
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].LastUsed.Before(active[j].LastUsed)
	})

	excess := len(active) - h.config.MaxConcurrentSessions
	now := h.nowTime()
	for _, s := range active {
		if excess == 0 {
			break
		}
		if s.ID == keepID {
			continue
		}
		if err := h.repo.Deactivate(s.ID, ReasonConcurrencyEvicted, now); err != nil {
			return errors.Wrap(err, "[enforceConcurrencyLimit] Deactivate")
		}
		h.log.Info().Str("session_id", s.ID).Str("user_id", userID).Msg("evicted least recently used session")
		excess--
	}
	return nil
}

// ValidateSession fails closed: a missing, inactive, expired, or idle
// session, or a fingerprint rule violation, returns false and deactivates
// the record with a distinct reason. currentFP may be nil when the caller
// has no fingerprint to compare (validation then covers liveness only).
func (h *Hardening) ValidateSession(ctx context.Context, id string, currentFP *Fingerprint) bool {
	session, err := h.repo.Get(id)
	if err != nil {
		return false
	}
	if !session.IsActive {
		return false
	}

	now := h.nowTime()
	if session.Expired(now) {
		h.invalidate(ctx, session, ReasonExpired)
		return false
	}
	if session.Idle(now, h.config.InactivityTimeout) {
		h.invalidate(ctx, session, ReasonInactivity)
		return false
	}
	if currentFP != nil && !session.Fingerprint.Matches(*currentFP) {
		h.invalidate(ctx, session, ReasonFingerprintMismatch)
		return false
	}

	if err := h.repo.Touch(id, now); err != nil {
		// A stale LastUsed is a benign race; the validation itself holds.
		h.log.Warn().Err(err).Str("session_id", id).Msg("failed to touch session")
	}
	return true
}

// RotateSessionTokens issues fresh tokens for an active session. Returns
// nil for a missing or inactive session.
func (h *Hardening) RotateSessionTokens(ctx context.Context, id string) (*TokenPair, error) {
	session, err := h.repo.Get(id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "[RotateSessionTokens] repo.Get")
	}
	if !session.IsActive || session.Expired(h.nowTime()) {
		return nil, nil
	}

	tokens, err := h.issuer.Issue(session.ID, session.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "[RotateSessionTokens] issue")
	}
	if err := h.repo.UpdateTokens(id, tokens, h.nowTime()); err != nil {
		return nil, errors.Wrap(err, "[RotateSessionTokens] UpdateTokens")
	}
	return &tokens, nil
}

// DetectSuspiciousActivity accumulates risk for fingerprint drift. Each
// differing non-critical field adds 25; crossing the risk cap flags the
// session (deactivating it) and returns true.
func (h *Hardening) DetectSuspiciousActivity(ctx context.Context, id string, currentFP Fingerprint) bool {
	session, err := h.repo.Get(id)
	if err != nil || !session.IsActive {
		return false
	}

	drift := session.Fingerprint.DriftCount(currentFP)
	if drift == 0 {
		return false
	}

	score, err := h.repo.IncrementRisk(id, drift*riskPerDriftField, h.config.MaxRiskScore)
	if err != nil {
		h.log.Warn().Err(err).Str("session_id", id).Msg("failed to increment risk score")
		return false
	}

	if score >= h.config.MaxRiskScore {
		h.invalidate(ctx, session, ReasonRiskThreshold)
		h.sink.Emit(ctx, audit.Event{
			SessionID:    id,
			UserID:       session.UserID,
			EventType:    audit.EventSuspiciousActivity,
			Success:      false,
			ErrorMessage: "risk score threshold breached",
			UserAgent:    currentFP.UserAgent,
			CreatedAt:    h.nowTime(),
		})
		return true
	}
	return false
}

// GetUserSessions returns the user's active sessions, most recently used
// first.
func (h *Hardening) GetUserSessions(ctx context.Context, userID string) ([]*Session, error) {
	sessions, err := h.repo.ListByUser(userID, true)
	if err != nil {
		return nil, errors.Wrap(err, "[GetUserSessions] ListByUser")
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastUsed.After(sessions[j].LastUsed)
	})
	return sessions, nil
}

// InvalidateSession deactivates one session with the given reason.
func (h *Hardening) InvalidateSession(ctx context.Context, id string, reason InvalidationReason) error {
	session, err := h.repo.Get(id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return errors.Wrap(err, "[InvalidateSession] repo.Get")
	}
	h.invalidate(ctx, session, reason)
	return nil
}

// InvalidateOtherSessions deactivates every active session of the user
// except keepID. Returns how many were deactivated.
func (h *Hardening) InvalidateOtherSessions(ctx context.Context, userID, keepID string) (int, error) {
	active, err := h.repo.ListByUser(userID, true)
	if err != nil {
		return 0, errors.Wrap(err, "[InvalidateOtherSessions] ListByUser")
	}
	count := 0
	for _, s := range active {
		if s.ID == keepID {
			continue
		}
		h.invalidate(ctx, s, ReasonRevokedByUser)
		count++
	}
	return count, nil
}

func (h *Hardening) invalidate(ctx context.Context, session *Session, reason InvalidationReason) {
	if err := h.repo.Deactivate(session.ID, reason, h.nowTime()); err != nil {
		h.log.Error().Err(err).Str("session_id", session.ID).Str("reason", string(reason)).Msg("failed to deactivate session")
		return
	}
	h.log.Info().Str("session_id", session.ID).Str("reason", string(reason)).Msg("session invalidated")
}
