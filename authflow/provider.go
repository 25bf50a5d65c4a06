package authflow

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/storefront-labs/authcore/identity"
)

// TokenSet is the result of a provider code exchange.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
}

// ProviderClient is the narrow interface to the upstream OAuth provider.
// The OIDC implementation below is the production one; tests substitute a
// fake.
type ProviderClient interface {
	// Exchange redeems the authorization code with the bound PKCE
	// verifier.
	Exchange(ctx context.Context, code, codeVerifier string) (*TokenSet, error)
	// FetchIdentity retrieves the user's profile with the access token.
	FetchIdentity(ctx context.Context, accessToken string) (*identity.ExternalIdentity, error)
	// AuthCodeURL builds the provider redirect for a fresh flow state.
	AuthCodeURL(state, codeVerifier, nonce string) string
}

// OIDCProvider implements ProviderClient against a discovered OIDC issuer.
type OIDCProvider struct {
	oauthConfig *oauth2.Config
	provider    *oidc.Provider
}

var _ ProviderClient = (*OIDCProvider)(nil)

// NewOIDCProvider discovers the issuer and prepares the oauth2 exchange
// configuration.
func NewOIDCProvider(ctx context.Context, issuerURL, clientID, clientSecret, redirectURL string) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, errors.Wrap(err, "[NewOIDCProvider] discovery")
	}
	return &OIDCProvider{
		provider: provider,
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  redirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
	}, nil
}

// Exchange redeems the authorization code.
func (p *OIDCProvider) Exchange(ctx context.Context, code, codeVerifier string) (*TokenSet, error) {
	token, err := p.oauthConfig.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, errors.Wrap(err, "[OIDCProvider.Exchange] token endpoint")
	}
	rawIDToken, _ := token.Extra("id_token").(string)
	return &TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      rawIDToken,
	}, nil
}

// FetchIdentity calls the provider's userinfo endpoint.
func (p *OIDCProvider) FetchIdentity(ctx context.Context, accessToken string) (*identity.ExternalIdentity, error) {
	userInfo, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	if err != nil {
		return nil, errors.Wrap(err, "[OIDCProvider.FetchIdentity] userinfo")
	}

	var claims struct {
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := userInfo.Claims(&claims); err != nil {
		return nil, errors.Wrap(err, "[OIDCProvider.FetchIdentity] claims")
	}

	return &identity.ExternalIdentity{
		Email:         userInfo.Email,
		Name:          claims.Name,
		AvatarURL:     claims.Picture,
		EmailVerified: userInfo.EmailVerified,
		AccessToken:   accessToken,
	}, nil
}

// AuthCodeURL builds the provider redirect with PKCE and nonce bound to
// the state.
func (p *OIDCProvider) AuthCodeURL(state, codeVerifier, nonce string) string {
	return p.oauthConfig.AuthCodeURL(state,
		oauth2.S256ChallengeOption(codeVerifier),
		oidc.Nonce(nonce),
	)
}
