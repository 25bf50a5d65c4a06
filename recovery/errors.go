package recovery

import (
	"strings"
	"time"
)

// ErrorType is the classified category of an authentication failure.
type ErrorType string

const (
	ErrorTypeNetwork       ErrorType = "network"
	ErrorTypeTimeout       ErrorType = "timeout"
	ErrorTypeConfig        ErrorType = "config"
	ErrorTypeSecurity      ErrorType = "security"
	ErrorTypeServer        ErrorType = "server"
	ErrorTypeUserCancelled ErrorType = "user_cancelled"
	ErrorTypeRateLimited   ErrorType = "rate_limited"
	ErrorTypeUnknown       ErrorType = "unknown"
)

// Severity grades how loudly a classified error should be reported.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AuthError is an immutable classified failure. Once produced by Classify
// it is never mutated; retries build new values.
type AuthError struct {
	Type      ErrorType
	Message   string
	Retryable bool
	Severity  Severity
	Timestamp time.Time
	Context   map[string]string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return string(e.Type) + ": " + e.Message
}

// Escalate reports whether the category must be escalated to audit logging
// as a potential incident.
func (e *AuthError) Escalate() bool {
	return e.Type == ErrorTypeSecurity || e.Type == ErrorTypeConfig
}

// category bundles the fixed retryability and severity of an ErrorType
// together with the message fragments that select it.
type category struct {
	errType   ErrorType
	retryable bool
	severity  Severity
	patterns  []string
}

// Classification is ordered: first match wins. Config and security are
// never retryable; unknown fails open as retryable so taxonomy gaps do
// not block recovery, but callers log it distinctly.
var categories = []category{
	{ErrorTypeNetwork, true, SeverityMedium, []string{
		"network", "connection refused", "connection reset", "no such host",
		"fetch failed", "dial tcp", "broken pipe", "unreachable", "offline",
	}},
	{ErrorTypeTimeout, true, SeverityMedium, []string{
		"timeout", "timed out", "deadline exceeded",
	}},
	{ErrorTypeConfig, false, SeverityCritical, []string{
		"invalid_client", "unauthorized_client", "invalid redirect",
		"misconfigured", "missing configuration", "invalid_scope",
	}},
	{ErrorTypeSecurity, false, SeverityCritical, []string{
		"invalid state", "state mismatch", "csrf", "code_verifier",
		"invalid nonce", "invalid_grant", "signature",
	}},
	{ErrorTypeRateLimited, true, SeverityLow, []string{
		"rate limit", "too many requests", "429", "quota",
	}},
	{ErrorTypeServer, true, SeverityHigh, []string{
		"internal server error", "500", "502", "503", "504",
		"bad gateway", "service unavailable",
	}},
	{ErrorTypeUserCancelled, true, SeverityLow, []string{
		"access_denied", "cancelled", "canceled", "user denied",
	}},
}

// Classify maps a raw error onto the taxonomy. A nil error returns nil.
func Classify(err error) *AuthError {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*AuthError); ok {
		return ae
	}

	msg := strings.ToLower(err.Error())
	for _, c := range categories {
		for _, p := range c.patterns {
			if strings.Contains(msg, p) {
				return &AuthError{
					Type:      c.errType,
					Message:   err.Error(),
					Retryable: c.retryable,
					Severity:  c.severity,
					Timestamp: time.Now(),
				}
			}
		}
	}

	return &AuthError{
		Type:      ErrorTypeUnknown,
		Message:   err.Error(),
		Retryable: true,
		Severity:  SeverityMedium,
		Timestamp: time.Now(),
	}
}
