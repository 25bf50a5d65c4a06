package fakeuserrepo

import (
	"sync"

	"github.com/google/uuid"
	"github.com/storefront-labs/authcore/identity"
)

var _ identity.UserRepo = (*FakeUserRepo)(nil)

// FakeUserRepo is an in-memory UserRepo for tests. The Fail* knobs make
// individual strategies fail so resolver fallbacks can be exercised.
type FakeUserRepo struct {
	lock     sync.RWMutex
	users    map[string]*identity.User
	emailIds map[string]string // email to user id

	FailCreate  error
	FailGet     error
	// FailGetTimes limits FailGet to the first N lookups; zero means
	// every lookup fails while FailGet is set.
	FailGetTimes int
	FailProfile  error
	ProbeExists  bool
	FailProbe    error
	ProbeCalled  bool
	GetCallCount int
}

func NewFakeUserRepo() *FakeUserRepo {
	return &FakeUserRepo{
		users:    make(map[string]*identity.User),
		emailIds: make(map[string]string),
	}
}

func (ur *FakeUserRepo) Create(user *identity.User) (*identity.User, error) {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	if ur.FailCreate != nil {
		return nil, ur.FailCreate
	}
	if _, exists := ur.emailIds[user.Email]; exists {
		return nil, identity.ErrEmailTaken
	}

	cp := *user
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	ur.users[cp.ID] = &cp
	ur.emailIds[cp.Email] = cp.ID
	out := cp
	return &out, nil
}

func (ur *FakeUserRepo) GetByEmail(email string) (*identity.User, error) {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	ur.GetCallCount++
	if ur.FailGet != nil {
		if ur.FailGetTimes == 0 {
			return nil, ur.FailGet
		}
		ur.FailGetTimes--
		failErr := ur.FailGet
		if ur.FailGetTimes == 0 {
			ur.FailGet = nil
		}
		return nil, failErr
	}
	id, ok := ur.emailIds[email]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	cp := *ur.users[id]
	return &cp, nil
}

func (ur *FakeUserRepo) GetByID(id string) (*identity.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	user, ok := ur.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (ur *FakeUserRepo) UpsertProfile(user *identity.User) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	if ur.FailProfile != nil {
		return ur.FailProfile
	}
	if existing, ok := ur.users[user.ID]; ok {
		existing.Name = user.Name
		existing.AvatarURL = user.AvatarURL
	}
	return nil
}

func (ur *FakeUserRepo) ExistsProbe(email string) (bool, error) {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	ur.ProbeCalled = true
	if ur.FailProbe != nil {
		return false, ur.FailProbe
	}
	if _, ok := ur.emailIds[email]; ok {
		return true, nil
	}
	return ur.ProbeExists, nil
}

// SetRole updates a stored user's role, for tests that exercise the
// post-onboarding redirect decision.
func (ur *FakeUserRepo) SetRole(id string, role identity.Role) {
	ur.lock.Lock()
	defer ur.lock.Unlock()
	if user, ok := ur.users[id]; ok {
		user.Role = role
	}
}

// ClearFailures resets all failure knobs.
func (ur *FakeUserRepo) ClearFailures() {
	ur.lock.Lock()
	defer ur.lock.Unlock()
	ur.FailCreate = nil
	ur.FailGet = nil
	ur.FailProfile = nil
	ur.FailProbe = nil
}
