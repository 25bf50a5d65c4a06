package authflow_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/storefront-labs/authcore/audit"
	"github.com/storefront-labs/authcore/authflow"
	"github.com/storefront-labs/authcore/authstate"
	"github.com/storefront-labs/authcore/identity"
	fakeuserrepo "github.com/storefront-labs/authcore/identity/repofake"
	"github.com/storefront-labs/authcore/recovery"
	"github.com/storefront-labs/authcore/sessionsec"
	fakesessionrepo "github.com/storefront-labs/authcore/sessionsec/repofakes"
)

type fakeProvider struct {
	ExchangeCalls int
	ExchangeErr   error
	// FailExchangeTimes limits ExchangeErr to the first N calls; zero
	// means every call fails while ExchangeErr is set.
	FailExchangeTimes int
	IdentityErr       error
	Identity          identity.ExternalIdentity
	LastAuthParams    [3]string
}

func (p *fakeProvider) Exchange(_ context.Context, code, codeVerifier string) (*authflow.TokenSet, error) {
	p.ExchangeCalls++
	if p.ExchangeErr != nil {
		if p.FailExchangeTimes == 0 || p.ExchangeCalls <= p.FailExchangeTimes {
			return nil, p.ExchangeErr
		}
	}
	return &authflow.TokenSet{
		AccessToken:  "provider-access-" + code,
		RefreshToken: "provider-refresh",
		IDToken:      "provider-id-token",
	}, nil
}

func (p *fakeProvider) FetchIdentity(context.Context, string) (*identity.ExternalIdentity, error) {
	if p.IdentityErr != nil {
		return nil, p.IdentityErr
	}
	cp := p.Identity
	return &cp, nil
}

func (p *fakeProvider) AuthCodeURL(state, codeVerifier, nonce string) string {
	p.LastAuthParams = [3]string{state, codeVerifier, nonce}
	return "https://provider.example.com/authorize?state=" + state
}

type callbackFixture struct {
	service  *authflow.CallbackService
	states   authstate.Repo
	provider *fakeProvider
	users    *fakeuserrepo.FakeUserRepo
	sessions *fakesessionrepo.FakeSessionRepo
	sink     *audit.RecorderSink
	now      time.Time
}

func setupCallback(t *testing.T) *callbackFixture {
	t.Helper()

	f := &callbackFixture{
		states:   authstate.NewInMemoryRepo(),
		users:    fakeuserrepo.NewFakeUserRepo(),
		sessions: fakesessionrepo.NewFakeSessionRepo(),
		sink:     audit.NewRecorderSink(),
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		provider: &fakeProvider{Identity: identity.ExternalIdentity{
			Email:         "alice@example.com",
			Name:          "Alice",
			AvatarURL:     "https://img.example.com/alice.png",
			EmailVerified: true,
		}},
	}
	nowFunc := func() time.Time { return f.now }

	resolver, err := identity.NewResolver(f.users, zerolog.Nop(), identity.WithNowTime(nowFunc))
	require.NoError(t, err)

	issuer, err := sessionsec.NewTokenIssuer("https://auth.example.com", "test-secret", time.Hour)
	require.NoError(t, err)
	hardening, err := sessionsec.NewHardening(f.sessions, issuer, sessionsec.DefaultHardeningConfig(), zerolog.Nop(),
		sessionsec.WithNowTime(nowFunc))
	require.NoError(t, err)

	engine := recovery.NewEngine(zerolog.Nop(),
		recovery.WithNowTime(nowFunc),
		recovery.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)

	f.service, err = authflow.NewCallbackService(authflow.Deps{
		States:    f.states,
		Provider:  f.provider,
		Resolver:  resolver,
		Users:     f.users,
		Hardening: hardening,
		Engine:    engine,
	}, zerolog.Nop(), authflow.WithNowTime(nowFunc), authflow.WithAuditSink(f.sink))
	require.NoError(t, err)
	return f
}

func (f *callbackFixture) mintState(t *testing.T, returnURL string) *authstate.State {
	t.Helper()
	state, err := authstate.New(returnURL, 10*time.Minute, f.now)
	require.NoError(t, err)
	require.NoError(t, f.states.Put(state))
	return state
}

func clientContext() authflow.ClientContext {
	return authflow.ClientContext{
		IPAddress: "203.0.113.7",
		Fingerprint: sessionsec.Fingerprint{
			UserAgent:        "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Safari/605.1.15",
			ScreenResolution: "2560x1440",
			Timezone:         "Europe/London",
			Language:         "en-GB",
			Platform:         "MacIntel",
		},
	}
}

func TestHandleCallbackNewUserLandsOnRoleSelection(t *testing.T) {
	f := setupCallback(t)
	state := f.mintState(t, "/")

	decision := f.service.HandleCallback(context.Background(), "auth-code", state.Value, clientContext())

	require.False(t, decision.Failed())
	require.Equal(t, authflow.RouteRoleSelection, decision.Target)
	require.NotNil(t, decision.Session)
	require.True(t, decision.Session.IsActive)
	require.False(t, strings.HasPrefix(decision.Session.UserID, "temp_"))

	// The resolved user is persisted with the provider profile.
	user, err := f.users.GetByEmail("alice@example.com")
	require.NoError(t, err)
	require.Equal(t, user.ID, decision.Session.UserID)
	require.Equal(t, "Alice", user.Name)

	events := f.sink.Events()
	require.Len(t, events, 1)
	require.Equal(t, audit.EventSignIn, events[0].EventType)
	require.True(t, events[0].Success)
	require.Equal(t, "203.0.113.7", events[0].IPAddress)
	require.Equal(t, "created", events[0].Metadata["resolution"])
}

func TestHandleCallbackReturningSellerHonorsReturnURL(t *testing.T) {
	f := setupCallback(t)

	// First sign-in creates the user; give them a role as onboarding would.
	first := f.mintState(t, "/")
	decision := f.service.HandleCallback(context.Background(), "code-1", first.Value, clientContext())
	require.False(t, decision.Failed())
	f.users.SetRole(decision.Session.UserID, identity.RoleSeller)

	second := f.mintState(t, "/seller/listings/42")
	decision = f.service.HandleCallback(context.Background(), "code-2", second.Value, clientContext())
	require.False(t, decision.Failed())
	require.Equal(t, "/seller/listings/42", decision.Target)

	events := f.sink.Events()
	require.Equal(t, "found", events[len(events)-1].Metadata["resolution"])
}

func TestHandleCallbackRoleDefaultsWithoutReturnURL(t *testing.T) {
	f := setupCallback(t)

	first := f.mintState(t, "/")
	decision := f.service.HandleCallback(context.Background(), "code-1", first.Value, clientContext())
	require.False(t, decision.Failed())
	userID := decision.Session.UserID

	f.users.SetRole(userID, identity.RoleBuyer)
	state := f.mintState(t, "")
	decision = f.service.HandleCallback(context.Background(), "code-2", state.Value, clientContext())
	require.Equal(t, authflow.RouteBuyerHome, decision.Target)

	f.users.SetRole(userID, identity.RoleSeller)
	state = f.mintState(t, "/")
	decision = f.service.HandleCallback(context.Background(), "code-3", state.Value, clientContext())
	require.Equal(t, authflow.RouteSellerHome, decision.Target)
}

func TestHandleCallbackMissingParams(t *testing.T) {
	f := setupCallback(t)

	for _, tc := range []struct{ code, state string }{
		{"", "some-state"},
		{"some-code", ""},
		{"", ""},
	} {
		decision := f.service.HandleCallback(context.Background(), tc.code, tc.state, clientContext())
		require.True(t, decision.Failed())
		require.Equal(t, authflow.FailureMissingParams, decision.Failure)
		require.Contains(t, decision.Target, authflow.RouteError)
	}
	require.Zero(t, f.provider.ExchangeCalls)
}

func TestHandleCallbackUnknownState(t *testing.T) {
	f := setupCallback(t)

	decision := f.service.HandleCallback(context.Background(), "auth-code", "forged-state", clientContext())

	require.Equal(t, authflow.FailureInvalidState, decision.Failure)
	require.Zero(t, f.provider.ExchangeCalls, "exchange must not run for an invalid state")

	events := f.sink.Events()
	require.Len(t, events, 1)
	require.Equal(t, audit.EventFailure, events[0].EventType)
	require.False(t, events[0].Success)
}

func TestHandleCallbackExpiredState(t *testing.T) {
	f := setupCallback(t)
	state := f.mintState(t, "/")
	f.now = f.now.Add(11 * time.Minute)

	decision := f.service.HandleCallback(context.Background(), "auth-code", state.Value, clientContext())

	require.Equal(t, authflow.FailureInvalidState, decision.Failure)
	require.Zero(t, f.provider.ExchangeCalls)
}

func TestHandleCallbackStateIsSingleUse(t *testing.T) {
	f := setupCallback(t)
	state := f.mintState(t, "/")

	first := f.service.HandleCallback(context.Background(), "auth-code", state.Value, clientContext())
	require.False(t, first.Failed())

	replay := f.service.HandleCallback(context.Background(), "auth-code", state.Value, clientContext())
	require.Equal(t, authflow.FailureInvalidState, replay.Failure)
	require.Equal(t, 1, f.provider.ExchangeCalls)
}

func TestHandleCallbackExchangeFailureRetriesThenFails(t *testing.T) {
	f := setupCallback(t)
	f.provider.ExchangeErr = errors.New("connection refused")
	state := f.mintState(t, "/")

	decision := f.service.HandleCallback(context.Background(), "auth-code", state.Value, clientContext())

	require.Equal(t, authflow.FailureTokenExchangeFailed, decision.Failure)
	// Connection errors classify as network failures with a five-attempt
	// budget.
	require.Equal(t, 5, f.provider.ExchangeCalls)
}

func TestHandleCallbackExchangeRecoversOnTransientFailure(t *testing.T) {
	f := setupCallback(t)
	f.provider.ExchangeErr = errors.New("request timeout")
	f.provider.FailExchangeTimes = 2
	state := f.mintState(t, "/")

	decision := f.service.HandleCallback(context.Background(), "auth-code", state.Value, clientContext())

	require.False(t, decision.Failed())
	require.Equal(t, 3, f.provider.ExchangeCalls)
	require.NotNil(t, decision.Session)
}

func TestHandleCallbackUserInfoFailure(t *testing.T) {
	f := setupCallback(t)
	f.provider.IdentityErr = errors.New("userinfo endpoint returned 502")
	state := f.mintState(t, "/")

	decision := f.service.HandleCallback(context.Background(), "auth-code", state.Value, clientContext())

	require.Equal(t, authflow.FailureUserInfoFailed, decision.Failure)
	require.Nil(t, decision.Session)
}

func TestHandleCallbackDegradesToSyntheticIdentity(t *testing.T) {
	f := setupCallback(t)
	f.users.FailCreate = errors.New("store write denied")
	f.users.FailGet = errors.New("store read denied")
	f.users.FailProbe = errors.New("store probe denied")
	state := f.mintState(t, "/")

	decision := f.service.HandleCallback(context.Background(), "auth-code", state.Value, clientContext())

	require.False(t, decision.Failed(), "resolution failure must not block authentication")
	require.True(t, strings.HasPrefix(decision.Session.UserID, "temp_"))
	require.Equal(t, authflow.RouteRoleSelection, decision.Target)

	// Nothing was persisted under the synthetic id.
	f.users.ClearFailures()
	_, err := f.users.GetByID(decision.Session.UserID)
	require.ErrorIs(t, err, identity.ErrUserNotFound)

	events := f.sink.Events()
	require.Equal(t, "synthesized", events[len(events)-1].Metadata["resolution"])
}

func TestHandleCallbackSessionCarriesFingerprint(t *testing.T) {
	f := setupCallback(t)
	state := f.mintState(t, "/")
	client := clientContext()

	decision := f.service.HandleCallback(context.Background(), "auth-code", state.Value, client)
	require.False(t, decision.Failed())

	stored, err := f.sessions.Get(decision.Session.ID)
	require.NoError(t, err)
	require.Equal(t, client.Fingerprint, stored.Fingerprint)
	require.Equal(t, "provider-access-auth-code", stored.SessionToken)
}

func TestBeginFlowStoresStateAndBuildsRedirect(t *testing.T) {
	f := setupCallback(t)

	url, err := f.service.BeginFlow("/seller/listings", 10*time.Minute)
	require.NoError(t, err)

	stateValue := f.provider.LastAuthParams[0]
	require.NotEmpty(t, stateValue)
	require.Contains(t, url, stateValue)
	require.NotEmpty(t, f.provider.LastAuthParams[1], "code verifier must be bound to the flow")
	require.NotEmpty(t, f.provider.LastAuthParams[2], "nonce must be bound to the flow")

	stored, err := f.states.Consume(stateValue, f.now)
	require.NoError(t, err)
	require.Equal(t, "/seller/listings", stored.ReturnURL)
	require.Equal(t, stateValue, stored.Value)
}
