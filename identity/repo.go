package identity

import "github.com/pkg/errors"

var (
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken is the uniqueness conflict from Create; the resolver
	// treats it as "the user already exists", not as a failure.
	ErrEmailTaken = errors.New("email already registered")
	// ErrLookupDenied is returned by stores that refuse direct enumeration
	// by email; the resolver falls through to the existence probe.
	ErrLookupDenied = errors.New("lookup denied")
)

// UserRepo is the narrow interface to the external identity store.
type UserRepo interface {
	// Create inserts a new user keyed by email. Returns ErrEmailTaken on
	// a uniqueness conflict.
	Create(user *User) (*User, error)
	GetByEmail(email string) (*User, error)
	GetByID(id string) (*User, error)
	// UpsertProfile idempotently ensures a profile row exists for the
	// user; callers treat failures as best-effort.
	UpsertProfile(user *User) error
	// ExistsProbe is a side-channel existence check usable when the store
	// denies direct lookup, such as requesting a recovery link, which
	// typical provider APIs permit only for existing identities.
	ExistsProbe(email string) (bool, error)
}
