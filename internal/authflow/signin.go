package authflow

import (
	"context"

	"github.com/geocoder89/gearsauth/internal/credentials"
	"github.com/geocoder89/gearsauth/internal/domain/user"
)

// SignIn checks, in order: the account exists and is active, its email is confirmed,
// the password matches. Only then is an access token issued.
func (s *Service) SignIn(ctx context.Context, email, password string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "authflow.SignIn")
	defer span.End()

	u, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if credentials.IsNotFound(err) {
			s.outcome(ctx, span, FlowSignIn, "unknown_user")
			return "", ErrNotFound
		}
		s.fail(span, err)
		return "", err
	}

	if !u.IsActive {
		s.outcome(ctx, span, FlowSignIn, "inactive_user")
		return "", ErrNotFound
	}

	if !u.EmailConfirmed {
		s.outcome(ctx, span, FlowSignIn, "unconfirmed")
		return "", ErrUnauthorized
	}

	if !s.store.CheckPassword(u, password) {
		s.outcome(ctx, span, FlowSignIn, "bad_password")
		return "", ErrUnauthorized
	}

	if s.store.NeedsRehash(u) {
		s.upgradeHash(ctx, u, password)
	}

	token, err := s.tokens.IssueAccessToken(u)
	if err != nil {
		s.fail(span, err)
		return "", err
	}

	s.outcome(ctx, span, FlowSignIn, "success")
	return token, nil
}

// upgradeHash moves a legacy bcrypt hash to argon2id. Failures only cost the upgrade.
func (s *Service) upgradeHash(ctx context.Context, u user.User, password string) {
	hash, err := s.store.HashPassword(u, password)
	if err == nil {
		err = s.store.UpdatePasswordHash(ctx, u, hash)
	}
	if err != nil {
		s.log.WarnContext(ctx, "password rehash failed", "user_id", u.ID, "err", err)
		return
	}
	s.log.InfoContext(ctx, "password hash upgraded", "user_id", u.ID)
}
