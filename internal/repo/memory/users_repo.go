package memory

import (
	"context"
	"sync"
	"time"

	"github.com/geocoder89/gearsauth/internal/domain/user"
	"github.com/google/uuid"
)

// UsersRepo is an in-process users store with the same semantics as the postgres repo.
type UsersRepo struct {
	mu      sync.RWMutex
	items   map[string]user.User // {"id": user}
	byEmail map[string]string    // {"normalized email": id}
}

func NewUsersRepo() *UsersRepo {
	return &UsersRepo{
		items:   make(map[string]user.User),
		byEmail: make(map[string]string),
	}
}

func (r *UsersRepo) Create(_ context.Context, u user.User) (user.User, error) {
	now := time.Now().UTC()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.SecurityStamp == "" {
		u.SecurityStamp = uuid.NewString()
	}
	u.Email = user.NormalizeEmail(u.Email)
	u.CreatedAt = now
	u.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byEmail[u.Email]; taken {
		return user.User{}, user.ErrEmailAlreadyUsed
	}

	r.items[u.ID] = u
	r.byEmail[u.Email] = u.ID

	return u, nil
}

func (r *UsersRepo) GetByEmail(_ context.Context, email string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[user.NormalizeEmail(email)]
	if !ok {
		return user.User{}, user.ErrUserNotFound
	}
	return r.items[id], nil
}

func (r *UsersRepo) GetByID(_ context.Context, id string) (user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.items[id]
	if !ok {
		return user.User{}, user.ErrUserNotFound
	}
	return u, nil
}

func (r *UsersRepo) UpdatePasswordHash(_ context.Context, id, expectedStamp, hash, newStamp string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.items[id]
	if !ok || u.SecurityStamp != expectedStamp {
		return user.ErrStaleUser
	}

	u.PasswordHash = hash
	u.SecurityStamp = newStamp
	u.UpdatedAt = time.Now().UTC()
	r.items[id] = u

	return nil
}

// SetActive and SetEmailConfirmed exist for fixtures; account management is not exposed over HTTP.
func (r *UsersRepo) SetActive(id string, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.items[id]; ok {
		u.IsActive = active
		r.items[id] = u
	}
}

func (r *UsersRepo) SetEmailConfirmed(id string, confirmed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.items[id]; ok {
		u.EmailConfirmed = confirmed
		r.items[id] = u
	}
}
