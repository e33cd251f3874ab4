package authflow

import (
	"context"
	"errors"

	"github.com/geocoder89/gearsauth/internal/auth"
	"github.com/geocoder89/gearsauth/internal/credentials"
	"github.com/geocoder89/gearsauth/internal/domain/user"
	"github.com/geocoder89/gearsauth/internal/notifications"
	"github.com/geocoder89/gearsauth/internal/resetlink"
)

// decoy stands in for ineligible accounts so that every request walks the same
// token and link construction path. Its token is never sent anywhere.
var decoy = user.User{ID: "00000000-0000-0000-0000-000000000000", SecurityStamp: "decoy"}

// RequestPasswordReset emails a reset link to email when it belongs to an active user.
// It reports nothing: unknown, inactive and failing cases are indistinguishable to the caller.
func (s *Service) RequestPasswordReset(ctx context.Context, email, origin string) {
	ctx, span := s.tracer.Start(ctx, "authflow.RequestPasswordReset")
	defer span.End()

	target, eligible, outcome := s.resetTarget(ctx, email)

	token, err := s.tokens.IssuePurposeToken(target, auth.PurposePasswordReset)
	if err != nil && eligible {
		eligible, outcome = false, "token_error"
		s.fail(span, err)
		s.log.ErrorContext(ctx, "issue reset token failed", "user_id", target.ID, "err", err)
	}

	link, err := resetlink.Build(origin, s.cfg.ResetLinkPath, resetlink.Params{ID: target.ID, Token: token})
	if err != nil && eligible {
		eligible, outcome = false, "link_error"
		s.fail(span, err)
		s.log.ErrorContext(ctx, "build reset link failed", "user_id", target.ID, "err", err)
	}

	if eligible {
		outcome = "dispatched"

		if !s.mailer.Dispatch(ctx, notifications.Message{
			To:      target.Email,
			Subject: ResetMailSubject,
			Body:    link,
		}) {
			outcome = "dispatch_dropped"
		}
	}

	s.outcome(ctx, span, FlowForgotPassword, outcome)
}

func (s *Service) resetTarget(ctx context.Context, email string) (user.User, bool, string) {
	u, err := s.store.FindByEmail(ctx, email)

	switch {
	case credentials.IsNotFound(err):
		return decoy, false, "unknown_user"
	case err != nil:
		s.log.ErrorContext(ctx, "reset lookup failed", "err", err)
		return decoy, false, "lookup_error"
	case !u.IsActive:
		return decoy, false, "inactive_user"
	default:
		return u, true, ""
	}
}

// ResetPassword replaces the password of user id when token is a live reset token for it.
// A successful reset rotates the user's security stamp, which kills every reset token
// issued before it, including this one.
func (s *Service) ResetPassword(ctx context.Context, id, token, newPassword string) error {
	ctx, span := s.tracer.Start(ctx, "authflow.ResetPassword")
	defer span.End()

	if id == "" || token == "" || newPassword == "" {
		s.outcome(ctx, span, FlowResetPassword, "invalid_input")
		return ErrEmptyInput
	}

	u, err := s.store.FindByID(ctx, id)
	if err != nil {
		if credentials.IsNotFound(err) {
			s.outcome(ctx, span, FlowResetPassword, "unknown_user")
			return ErrNotFound
		}
		s.fail(span, err)
		return err
	}

	if !u.IsActive {
		s.outcome(ctx, span, FlowResetPassword, "inactive_user")
		return ErrNotFound
	}

	if !s.tokens.VerifyPurposeToken(u, auth.PurposePasswordReset, token) {
		s.outcome(ctx, span, FlowResetPassword, "invalid_token")
		return ErrInvalidToken
	}

	hash, err := s.store.HashPassword(u, newPassword)
	if err != nil {
		s.fail(span, err)
		return err
	}

	if err := s.store.UpdatePasswordHash(ctx, u, hash); err != nil {
		// a concurrent reset won with the same token
		if errors.Is(err, user.ErrStaleUser) {
			s.outcome(ctx, span, FlowResetPassword, "token_consumed")
			return ErrInvalidToken
		}
		s.fail(span, err)
		return err
	}

	s.outcome(ctx, span, FlowResetPassword, "success")
	s.log.InfoContext(ctx, "password reset", "user_id", u.ID)
	return nil
}
