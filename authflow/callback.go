// Package authflow implements the OAuth callback state machine: it turns a
// provider redirect into a resolved application session and a redirect
// decision. Each invocation is one short-lived unit of work; it either
// completes to a Decision or fails terminally, never partially.
package authflow

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/storefront-labs/authcore/audit"
	"github.com/storefront-labs/authcore/authstate"
	"github.com/storefront-labs/authcore/identity"
	"github.com/storefront-labs/authcore/recovery"
	"github.com/storefront-labs/authcore/sessionsec"
)

// ClientContext carries the caller-side attributes of one callback
// request: the fingerprint for session hardening plus IP and user agent
// for audit.
type ClientContext struct {
	Fingerprint sessionsec.Fingerprint
	IPAddress   string
}

// CallbackService orchestrates state validation, the code exchange, user
// resolution, session establishment, and the destination decision.
type CallbackService struct {
	states    authstate.Repo
	provider  ProviderClient
	resolver  *identity.Resolver
	users     identity.UserRepo
	hardening *sessionsec.Hardening
	engine    *recovery.Engine
	sink      audit.Sink
	log       zerolog.Logger
	nowTime   func() time.Time
}

// CallbackOption modifies a CallbackService instance.
type CallbackOption func(*CallbackService)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) CallbackOption {
	return func(s *CallbackService) {
		s.nowTime = nowFunc
	}
}

// WithAuditSink routes flow outcomes to an audit sink.
func WithAuditSink(sink audit.Sink) CallbackOption {
	return func(s *CallbackService) {
		s.sink = sink
	}
}

// Deps bundles the collaborator dependencies of the callback service.
type Deps struct {
	States    authstate.Repo
	Provider  ProviderClient
	Resolver  *identity.Resolver
	Users     identity.UserRepo
	Hardening *sessionsec.Hardening
	Engine    *recovery.Engine
}

// NewCallbackService validates dependencies and builds the service.
func NewCallbackService(deps Deps, log zerolog.Logger, options ...CallbackOption) (*CallbackService, error) {
	if deps.States == nil {
		return nil, errors.New("[NewCallbackService] state repo is required")
	}
	if deps.Provider == nil {
		return nil, errors.New("[NewCallbackService] provider client is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("[NewCallbackService] resolver is required")
	}
	if deps.Users == nil {
		return nil, errors.New("[NewCallbackService] user repo is required")
	}
	if deps.Hardening == nil {
		return nil, errors.New("[NewCallbackService] hardening service is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("[NewCallbackService] recovery engine is required")
	}

	s := &CallbackService{
		states:    deps.States,
		provider:  deps.Provider,
		resolver:  deps.Resolver,
		users:     deps.Users,
		hardening: deps.Hardening,
		engine:    deps.Engine,
		sink:      audit.NopSink{},
		log:       log,
		nowTime:   time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// HandleCallback runs the callback state machine. The machine is terminal
// on the first failure except where a step is explicitly best-effort
// (user resolution degrades to a synthetic identity, profile upsert and
// audit are fire-and-forget).
func (s *CallbackService) HandleCallback(ctx context.Context, code, state string, client ClientContext) Decision {
	if code == "" || state == "" {
		return s.fail(ctx, client, FailureMissingParams, "missing code or state parameter")
	}

	// Step 1: consume the state. Single-use by construction; a reused or
	// expired value signals CSRF or a stale flow and is never retried.
	flowState, err := s.states.Consume(state, s.nowTime())
	if err != nil {
		return s.fail(ctx, client, FailureInvalidState, err.Error())
	}

	// Step 2: code exchange, retried within the engine's budget for the
	// transient categories; keyed by the state value so concurrent flows
	// keep separate bookkeeping.
	tokens, err := recovery.ExecuteWithRetry(ctx, s.engine, "oauth-token-exchange:"+state,
		func(ctx context.Context) (*TokenSet, error) {
			return s.provider.Exchange(ctx, code, flowState.CodeVerifier)
		}, nil)
	if err != nil {
		return s.fail(ctx, client, FailureTokenExchangeFailed, err.Error())
	}

	// Step 3: identity fetch.
	ext, err := s.provider.FetchIdentity(ctx, tokens.AccessToken)
	if err != nil {
		return s.fail(ctx, client, FailureUserInfoFailed, err.Error())
	}

	// Step 4: user resolution. Never hard-fails; a synthesized identity
	// keeps authentication available and the outcome tag records the
	// degradation.
	resolution := s.resolver.Resolve(*ext)
	if resolution.Degraded() {
		s.log.Warn().
			Str("email", ext.Email).
			Str("synthetic_id", resolution.User.ID).
			Msg("authentication degraded to synthetic identity")
	}

	// Step 5: best-effort profile upsert, skipped for synthetic
	// identities whose ids are not valid store keys.
	if !resolution.Degraded() {
		if err := s.users.UpsertProfile(resolution.User); err != nil {
			s.log.Warn().Err(err).Str("user_id", resolution.User.ID).Msg("profile upsert failed")
		}
	}

	// Step 6: session establishment.
	session, err := s.hardening.CreateHardenedSession(ctx, resolution.User.ID, tokens.AccessToken, tokens.RefreshToken, client.Fingerprint)
	if err != nil {
		return s.fail(ctx, client, FailureUnexpected, err.Error())
	}

	// Step 7: destination.
	target := destinationFor(resolution.User, flowState.ReturnURL)

	// Step 8: audit.
	s.emit(ctx, audit.Event{
		SessionID: session.ID,
		UserID:    resolution.User.ID,
		EventType: audit.EventSignIn,
		Success:   true,
		IPAddress: client.IPAddress,
		UserAgent: client.Fingerprint.UserAgent,
		CreatedAt: s.nowTime(),
		Metadata:  map[string]string{"resolution": string(resolution.Outcome)},
	})

	return Decision{Target: target, Session: session}
}

// destinationFor picks the post-login redirect: role selection for users
// who have not onboarded yet, otherwise the role-appropriate home view.
// The original in-flow return URL wins when the user already has a role.
func destinationFor(user *identity.User, returnURL string) string {
	if user.Role == identity.RoleUnset {
		return RouteRoleSelection
	}
	if returnURL != "" && returnURL != "/" {
		return returnURL
	}
	if user.Role == identity.RoleSeller {
		return RouteSellerHome
	}
	return RouteBuyerHome
}

// BeginFlow mints and stores a fresh state and returns the provider
// redirect URL for it.
func (s *CallbackService) BeginFlow(returnURL string, ttl time.Duration) (string, error) {
	flowState, err := authstate.New(returnURL, ttl, s.nowTime())
	if err != nil {
		return "", errors.Wrap(err, "[BeginFlow] mint state")
	}
	if err := s.states.Put(flowState); err != nil {
		return "", errors.Wrap(err, "[BeginFlow] store state")
	}
	return s.provider.AuthCodeURL(flowState.Value, flowState.CodeVerifier, flowState.Nonce), nil
}

func (s *CallbackService) fail(ctx context.Context, client ClientContext, code FailureCode, message string) Decision {
	s.emit(ctx, audit.Event{
		EventType:    audit.EventFailure,
		Success:      false,
		ErrorMessage: string(code) + ": " + message,
		IPAddress:    client.IPAddress,
		UserAgent:    client.Fingerprint.UserAgent,
		CreatedAt:    s.nowTime(),
	})
	return failure(code)
}

// emit is best-effort: audit must never abort an otherwise-successful
// authentication.
func (s *CallbackService) emit(ctx context.Context, event audit.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("audit sink panicked")
		}
	}()
	s.sink.Emit(ctx, event)
}
