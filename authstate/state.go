// Package authstate stores single-use OAuth state tokens minted before the
// redirect to the provider. A state binds the PKCE code verifier and nonce
// for one authorization round trip; consuming it is atomic so a replayed
// callback can never resolve the same state twice.
package authstate

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrStateNotFound covers both unknown and already-consumed states;
	// callers cannot distinguish the two.
	ErrStateNotFound = errors.New("state not found")
	ErrStateExpired  = errors.New("state expired")
)

// State is the flow state bound to one authorization redirect.
type State struct {
	Value        string
	CodeVerifier string
	Nonce        string
	ReturnURL    string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the state is past its expiry at the given time.
func (s *State) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Repo stores pending flow states.
type Repo interface {
	// Put stores a new state. The value must be unique.
	Put(state *State) error
	// Consume atomically removes and returns the state. A second call
	// with the same value returns ErrStateNotFound. An expired state is
	// removed and reported as ErrStateExpired.
	Consume(value string, now time.Time) (*State, error)
	// DeleteExpired removes states whose expiry is before the cutoff.
	DeleteExpired(cutoff time.Time) error
}

// New mints a fresh state with a random value, verifier, and nonce.
func New(returnURL string, ttl time.Duration, now time.Time) (*State, error) {
	value, err := randomToken(32)
	if err != nil {
		return nil, errors.Wrap(err, "[authstate.New] state value")
	}
	verifier, err := randomToken(32)
	if err != nil {
		return nil, errors.Wrap(err, "[authstate.New] code verifier")
	}
	nonce, err := randomToken(16)
	if err != nil {
		return nil, errors.Wrap(err, "[authstate.New] nonce")
	}
	return &State{
		Value:        value,
		CodeVerifier: verifier,
		Nonce:        nonce,
		ReturnURL:    returnURL,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}, nil
}

func randomToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
