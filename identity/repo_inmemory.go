package identity

import (
	"sync"

	"github.com/google/uuid"
)

// InMemoryUserRepo is a thread-safe in-memory UserRepo. The backing
// identity store is an external collaborator; this repo stands in for it
// in deployments that have not attached the data backend, so records do
// not survive a restart.
type InMemoryUserRepo struct {
	mu      sync.RWMutex
	users   map[string]*User
	byEmail map[string]string
}

var _ UserRepo = (*InMemoryUserRepo)(nil)

// NewInMemoryUserRepo creates an empty in-memory user repository.
func NewInMemoryUserRepo() *InMemoryUserRepo {
	return &InMemoryUserRepo{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (r *InMemoryUserRepo) Create(user *User) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[user.Email]; exists {
		return nil, ErrEmailTaken
	}

	cp := *user
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	r.users[cp.ID] = &cp
	r.byEmail[cp.Email] = cp.ID
	out := cp
	return &out, nil
}

func (r *InMemoryUserRepo) GetByEmail(email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *r.users[id]
	return &cp, nil
}

func (r *InMemoryUserRepo) GetByID(id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (r *InMemoryUserRepo) UpsertProfile(user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.users[user.ID]; ok {
		existing.Name = user.Name
		existing.AvatarURL = user.AvatarURL
	}
	return nil
}

func (r *InMemoryUserRepo) ExistsProbe(email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byEmail[email]
	return ok, nil
}
