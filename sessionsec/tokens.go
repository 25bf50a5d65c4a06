package sessionsec

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// TokenIssuer mints the session access token (a signed JWT scoped to one
// session) and the opaque refresh token paired with it.
type TokenIssuer struct {
	issuer       string
	secret       []byte
	accessExpiry time.Duration
	nowTime      func() time.Time
}

// NewTokenIssuer creates a token issuer. The secret signs session access
// tokens with HS256.
func NewTokenIssuer(issuer, secret string, accessExpiry time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("[NewTokenIssuer] signing secret is required")
	}
	return &TokenIssuer{
		issuer:       issuer,
		secret:       []byte(secret),
		accessExpiry: accessExpiry,
		nowTime:      time.Now,
	}, nil
}

// Issue creates a fresh token pair for a session.
func (t *TokenIssuer) Issue(sessionID, userID string) (TokenPair, error) {
	now := t.nowTime()
	claims := jwtlib.MapClaims{
		"iss": t.issuer,
		"sub": userID,
		"sid": sessionID,
		"iat": now.Unix(),
		"exp": now.Add(t.accessExpiry).Unix(),
		"jti": uuid.New().String(),
	}
	access, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return TokenPair{}, errors.Wrap(err, "[TokenIssuer.Issue] sign access token")
	}

	refresh := make([]byte, 32)
	if _, err := rand.Read(refresh); err != nil {
		return TokenPair{}, errors.Wrap(err, "[TokenIssuer.Issue] refresh token entropy")
	}

	return TokenPair{
		AccessToken:  access,
		RefreshToken: base64.RawURLEncoding.EncodeToString(refresh),
	}, nil
}
