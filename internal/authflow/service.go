// Package authflow orchestrates sign-in and the password reset lifecycle on top of
// the credential store, the token manager and the mail dispatcher.
package authflow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/geocoder89/gearsauth/internal/auth"
	"github.com/geocoder89/gearsauth/internal/domain/user"
	"github.com/geocoder89/gearsauth/internal/notifications"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrNotFound     = errors.New("user not found")
	ErrInvalidToken = errors.New("invalid or expired reset token")
	ErrUnauthorized = errors.New("invalid credentials")
	ErrEmptyInput   = errors.New("required input is empty")
)

const (
	FlowSignIn         = "signin"
	FlowForgotPassword = "forgot_password"
	FlowResetPassword  = "reset_password"

	DefaultResetLinkPath = "forgot-password-complete"
	ResetMailSubject     = "Reset Password"
)

type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (user.User, error)
	FindByID(ctx context.Context, id string) (user.User, error)
	UpdatePasswordHash(ctx context.Context, u user.User, hash string) error
	HashPassword(u user.User, plain string) (string, error)
	CheckPassword(u user.User, plain string) bool
	NeedsRehash(u user.User) bool
}

type TokenManager interface {
	IssuePurposeToken(u user.User, purpose auth.Purpose) (string, error)
	VerifyPurposeToken(u user.User, purpose auth.Purpose, token string) bool
	IssueAccessToken(u user.User) (string, error)
}

// Mailer is fire-and-forget: false means the message was dropped, never that delivery failed.
type Mailer interface {
	Dispatch(ctx context.Context, msg notifications.Message) bool
}

type Recorder interface {
	AuthOutcome(flow, outcome string)
}

type Config struct {
	ResetLinkPath string
}

type Service struct {
	store  CredentialStore
	tokens TokenManager
	mailer Mailer
	cfg    Config
	log    *slog.Logger
	rec    Recorder
	tracer trace.Tracer
}

// New wires the service. rec may be nil.
func New(store CredentialStore, tokens TokenManager, mailer Mailer, cfg Config, log *slog.Logger, rec Recorder) *Service {
	if cfg.ResetLinkPath == "" {
		cfg.ResetLinkPath = DefaultResetLinkPath
	}
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		store:  store,
		tokens: tokens,
		mailer: mailer,
		cfg:    cfg,
		log:    log,
		rec:    rec,
		tracer: otel.Tracer("github.com/geocoder89/gearsauth/internal/authflow"),
	}
}

func (s *Service) outcome(ctx context.Context, span trace.Span, flow, outcome string) {
	span.SetAttributes(attribute.String("auth.outcome", outcome))

	if s.rec != nil {
		s.rec.AuthOutcome(flow, outcome)
	}
	s.log.DebugContext(ctx, "auth flow outcome", "flow", flow, "outcome", outcome)
}

func (s *Service) fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
