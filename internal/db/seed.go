package db

import (
	"context"
	"errors"

	"github.com/geocoder89/gearsauth/internal/config"
	"github.com/geocoder89/gearsauth/internal/domain/user"
	"github.com/geocoder89/gearsauth/internal/security"
)

type UserCreator interface {
	Create(ctx context.Context, u user.User) (user.User, error)
}

// EnsureSeedUser creates the configured dev user (active, email confirmed) if it is missing.
// Returns false when seeding is not configured or the user already exists.
func EnsureSeedUser(ctx context.Context, users UserCreator, cfg config.Config) (bool, error) {
	if cfg.SeedUserEmail == "" || cfg.SeedUserPassword == "" {
		return false, nil
	}

	hash, err := security.HashPassword(cfg.SeedUserPassword)

	if err != nil {
		return false, err
	}

	_, err = users.Create(ctx, user.User{
		Email:          cfg.SeedUserEmail,
		PasswordHash:   hash,
		Name:           cfg.SeedUserName,
		Role:           "admin",
		IsActive:       true,
		EmailConfirmed: true,
	})

	if errors.Is(err, user.ErrEmailAlreadyUsed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}
