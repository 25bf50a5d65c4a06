// Package identity holds the application's local user records and the
// resolver that maps a verified external identity onto one.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Role is the marketplace role a user picked during onboarding. A freshly
// resolved user has no role yet; role assignment happens in a later
// onboarding step outside this module.
type Role string

const (
	RoleUnset  Role = ""
	RoleSeller Role = "seller"
	RoleBuyer  Role = "buyer"
)

const syntheticIDPrefix = "temp_"

// ExternalIdentity is the profile returned by the provider token exchange.
// It is owned by a single callback invocation and discarded afterwards.
type ExternalIdentity struct {
	Email         string
	Name          string
	AvatarURL     string
	EmailVerified bool
	AccessToken   string
}

// User is the application's identity record.
type User struct {
	ID        string    `json:"id,omitempty"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Role      Role      `json:"role,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Synthetic reports whether the user is a temporary, non-persisted identity
// minted because resolution failed. Synthetic ids are never valid
// backing-store keys.
func (u *User) Synthetic() bool {
	return strings.HasPrefix(u.ID, syntheticIDPrefix)
}

// newSyntheticID mints a temporary identifier that cannot collide with a
// store-issued id.
func newSyntheticID(now time.Time) string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%s%d_%s", syntheticIDPrefix, now.UnixNano(), hex.EncodeToString(b))
}
