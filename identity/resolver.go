package identity

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Outcome tags how a resolution produced its user, so callers can treat a
// synthesized identity as degraded instead of masking the distinction.
type Outcome string

const (
	// OutcomeFound means an existing record matched the external identity.
	OutcomeFound Outcome = "found"
	// OutcomeCreated means a new record was inserted.
	OutcomeCreated Outcome = "created"
	// OutcomeSynthesized means every strategy failed and a temporary,
	// non-persisted identity was minted to keep the login from blocking.
	OutcomeSynthesized Outcome = "synthesized"
)

// Resolution is the result of resolving an external identity.
type Resolution struct {
	User    *User
	Outcome Outcome
}

// Degraded reports whether downstream write-heavy steps should be skipped.
func (r Resolution) Degraded() bool {
	return r.Outcome == OutcomeSynthesized
}

// Resolver maps a verified external identity onto a local user record.
//
// A single lookup-or-create call is unreliable against a real store:
// another request can create the user between a presence check and the
// insert, and read-after-write lag can hide a row that exists. The
// strategies are therefore layered, each attempted only when the previous
// one did not find a match, and the final fallback synthesizes a temporary
// identity rather than returning a hard failure that blocks login.
type Resolver struct {
	repo    UserRepo
	log     zerolog.Logger
	nowTime func() time.Time
}

// ResolverOption modifies a Resolver instance.
type ResolverOption func(*Resolver)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.nowTime = nowFunc
	}
}

// NewResolver creates a resolver backed by the given user repository.
func NewResolver(repo UserRepo, log zerolog.Logger, options ...ResolverOption) (*Resolver, error) {
	if repo == nil {
		return nil, errors.New("[NewResolver] user repo is required")
	}
	r := &Resolver{
		repo:    repo,
		log:     log,
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

// Resolve finds or creates the local user for an external identity. It
// never returns an error: the synthetic fallback guarantees a usable
// (if degraded) identity, and the outcome tag carries the distinction.
func (r *Resolver) Resolve(ext ExternalIdentity) Resolution {
	// Create-first: the common case for a marketplace is a new visitor,
	// and the store's uniqueness constraint makes the insert race-safe.
	created, err := r.repo.Create(&User{
		Email:     ext.Email,
		Name:      ext.Name,
		AvatarURL: ext.AvatarURL,
		Role:      RoleUnset,
		CreatedAt: r.nowTime(),
	})
	if err == nil {
		return Resolution{User: created, Outcome: OutcomeCreated}
	}
	if !errors.Is(err, ErrEmailTaken) {
		r.log.Warn().Err(err).Str("email", ext.Email).Msg("create-first strategy failed")
	}

	// Direct lookup: either the conflict above or an unrelated create
	// failure; the record may well exist.
	user, err := r.repo.GetByEmail(ext.Email)
	if err == nil {
		return Resolution{User: user, Outcome: OutcomeFound}
	}
	if !errors.Is(err, ErrUserNotFound) && !errors.Is(err, ErrLookupDenied) {
		r.log.Warn().Err(err).Str("email", ext.Email).Msg("direct lookup strategy failed")
	}

	// Existence probe: stores that deny enumeration still answer
	// side-channel checks for existing identities. A positive probe makes
	// a re-query worth the round trip (read-after-write lag resolves).
	if exists, probeErr := r.repo.ExistsProbe(ext.Email); probeErr == nil && exists {
		if user, err := r.repo.GetByEmail(ext.Email); err == nil {
			return Resolution{User: user, Outcome: OutcomeFound}
		}
	}

	// Synthetic fallback: completing authentication wins over blocking it.
	// The degradation is logged for audit and the id is never a valid
	// store key, so nothing downstream can accidentally persist it.
	now := r.nowTime()
	synthetic := &User{
		ID:        newSyntheticID(now),
		Email:     ext.Email,
		Name:      ext.Name,
		AvatarURL: ext.AvatarURL,
		Role:      RoleUnset,
		CreatedAt: now,
	}
	r.log.Error().
		Str("email", ext.Email).
		Str("synthetic_id", synthetic.ID).
		Msg("all resolution strategies failed, synthesizing temporary identity")
	return Resolution{User: synthetic, Outcome: OutcomeSynthesized}
}
