// Package sessionsec creates, validates, rotates, and invalidates hardened
// application sessions. Every session carries a device fingerprint and an
// accumulating risk score; validation fails closed.
package sessionsec

import "time"

// InvalidationReason tags why a session was deactivated, for audit.
type InvalidationReason string

const (
	ReasonLogout              InvalidationReason = "logout"
	ReasonExpired             InvalidationReason = "expired"
	ReasonInactivity          InvalidationReason = "inactivity_timeout"
	ReasonFingerprintMismatch InvalidationReason = "fingerprint_mismatch"
	ReasonRiskThreshold       InvalidationReason = "risk_threshold"
	ReasonConcurrencyEvicted  InvalidationReason = "concurrency_evicted"
	ReasonRevokedByUser       InvalidationReason = "revoked_by_user"
)

// Session is one hardened session record. The store is external; this
// module is its sole writer.
type Session struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	Fingerprint  Fingerprint `json:"fingerprint"`
	DeviceType   DeviceType  `json:"device_type"`
	RiskScore    int         `json:"risk_score"`
	SessionToken string      `json:"session_token"`
	RefreshToken string      `json:"refresh_token"`
	CreatedAt    time.Time   `json:"created_at"`
	LastUsed     time.Time   `json:"last_used"`
	ExpiresAt    time.Time   `json:"expires_at"`
	IsActive     bool        `json:"is_active"`

	InvalidatedAt      *time.Time         `json:"invalidated_at,omitempty"`
	InvalidationReason InvalidationReason `json:"invalidation_reason,omitempty"`
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Idle reports whether the session has been unused longer than the
// inactivity timeout.
func (s *Session) Idle(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastUsed) > timeout
}

// TokenPair is the result of a token rotation.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}
