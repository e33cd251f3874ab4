// Package credentials is the system of record boundary for user identity and password material.
// Password hashes never leave this package except through the User value handed to the repo.
package credentials

import (
	"context"
	"errors"

	"github.com/geocoder89/gearsauth/internal/domain/user"
	"github.com/geocoder89/gearsauth/internal/security"
	"github.com/google/uuid"
)

// UsersRepository is satisfied by both the postgres and in-memory repos.
type UsersRepository interface {
	GetByEmail(ctx context.Context, email string) (user.User, error)
	GetByID(ctx context.Context, id string) (user.User, error)
	UpdatePasswordHash(ctx context.Context, id, expectedStamp, hash, newStamp string) error
}

type Store struct {
	repo UsersRepository
}

func NewStore(repo UsersRepository) *Store {
	return &Store{repo: repo}
}

func (s *Store) FindByEmail(ctx context.Context, email string) (user.User, error) {
	return s.repo.GetByEmail(ctx, user.NormalizeEmail(email))
}

func (s *Store) FindByID(ctx context.Context, id string) (user.User, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdatePasswordHash persists hash for u and rotates its security stamp.
// Fails with user.ErrStaleUser if u no longer reflects the stored row.
func (s *Store) UpdatePasswordHash(ctx context.Context, u user.User, hash string) error {
	if hash == "" {
		return security.ErrEmptyPassword
	}
	return s.repo.UpdatePasswordHash(ctx, u.ID, u.SecurityStamp, hash, uuid.NewString())
}

func (s *Store) HashPassword(_ user.User, plain string) (string, error) {
	return security.HashPassword(plain)
}

func (s *Store) CheckPassword(u user.User, plain string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return security.CheckPassword(u.PasswordHash, plain) == nil
}

// NeedsRehash reports hashes that predate argon2id.
func (s *Store) NeedsRehash(u user.User) bool {
	return u.PasswordHash != "" && security.NeedsRehash(u.PasswordHash)
}

func IsNotFound(err error) bool {
	return errors.Is(err, user.ErrUserNotFound)
}
