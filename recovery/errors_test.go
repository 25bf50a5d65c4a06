package recovery_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/storefront-labs/authcore/recovery"
)

func TestClassifyCategories(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  recovery.ErrorType
		retryable bool
	}{
		{"connection refused", errors.New("dial tcp 10.0.0.1:443: connection refused"), recovery.ErrorTypeNetwork, true},
		{"fetch failed", errors.New("fetch failed"), recovery.ErrorTypeNetwork, true},
		{"deadline", errors.New("context deadline exceeded"), recovery.ErrorTypeTimeout, true},
		{"timed out", errors.New("request timed out after 30s"), recovery.ErrorTypeTimeout, true},
		{"invalid client", errors.New("oauth2: \"invalid_client\""), recovery.ErrorTypeConfig, false},
		{"state mismatch", errors.New("state mismatch, possible csrf"), recovery.ErrorTypeSecurity, false},
		{"bad verifier", errors.New("code_verifier does not match challenge"), recovery.ErrorTypeSecurity, false},
		{"rate limited", errors.New("429 too many requests"), recovery.ErrorTypeRateLimited, true},
		{"server error", errors.New("502 bad gateway"), recovery.ErrorTypeServer, true},
		{"cancelled", errors.New("access_denied: user denied the request"), recovery.ErrorTypeUserCancelled, true},
		{"unknown", errors.New("something nobody anticipated"), recovery.ErrorTypeUnknown, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ae := recovery.Classify(tc.err)
			require.NotNil(t, ae)
			require.Equal(t, tc.wantType, ae.Type)
			require.Equal(t, tc.retryable, ae.Retryable)
			require.Equal(t, tc.err.Error(), ae.Message)
			require.False(t, ae.Timestamp.IsZero())
		})
	}
}

func TestClassifyOrderNetworkBeforeTimeout(t *testing.T) {
	// A message matching both categories resolves to the earlier one.
	ae := recovery.Classify(errors.New("network timeout"))
	require.Equal(t, recovery.ErrorTypeNetwork, ae.Type)
}

func TestClassifyNil(t *testing.T) {
	require.Nil(t, recovery.Classify(nil))
}

func TestClassifyPassesThroughAuthError(t *testing.T) {
	original := recovery.Classify(errors.New("connection refused"))
	again := recovery.Classify(original)
	require.Same(t, original, again)
}

func TestEscalation(t *testing.T) {
	require.True(t, recovery.Classify(errors.New("invalid_client")).Escalate())
	require.True(t, recovery.Classify(errors.New("csrf detected")).Escalate())
	require.False(t, recovery.Classify(errors.New("connection refused")).Escalate())
}
