package authflow

import "github.com/storefront-labs/authcore/sessionsec"

// FailureCode is the browser-visible error code a terminal callback
// failure maps to. Raw provider and store errors never cross this surface.
type FailureCode string

const (
	FailureMissingParams       FailureCode = "missing_params"
	FailureInvalidState        FailureCode = "invalid_state"
	FailureTokenExchangeFailed FailureCode = "token_exchange_failed"
	FailureUserInfoFailed      FailureCode = "user_info_failed"
	FailureUnexpected          FailureCode = "unexpected_error"
)

// Post-login destinations. The role-selection step is the onboarding
// wizard's entry point for users with no role yet.
const (
	RouteError         = "/auth/error"
	RouteRoleSelection = "/onboarding/role"
	RouteSellerHome    = "/seller/dashboard"
	RouteBuyerHome     = "/buyer/home"
)

// Decision is the terminal result of one callback invocation: either a
// failure code or a target with an established session.
type Decision struct {
	// Target is the redirect destination.
	Target string
	// Failure is empty on success.
	Failure FailureCode
	// Session is set on success; the HTTP layer turns it into a cookie.
	Session *sessionsec.Session
}

// Failed reports whether the callback ended in a terminal failure.
func (d Decision) Failed() bool {
	return d.Failure != ""
}

func failure(code FailureCode) Decision {
	return Decision{
		Target:  RouteError + "?error=" + string(code),
		Failure: code,
	}
}
