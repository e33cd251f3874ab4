package authflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/gearsauth/internal/auth"
	"github.com/geocoder89/gearsauth/internal/credentials"
	"github.com/geocoder89/gearsauth/internal/domain/user"
	"github.com/geocoder89/gearsauth/internal/notifications"
	"github.com/geocoder89/gearsauth/internal/repo/memory"
	"github.com/geocoder89/gearsauth/internal/security"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []notifications.Message
	drop bool
}

func (m *fakeMailer) Dispatch(_ context.Context, msg notifications.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.drop {
		return false
	}
	m.sent = append(m.sent, msg)
	return true
}

func (m *fakeMailer) messages() []notifications.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notifications.Message(nil), m.sent...)
}

type fakeRecorder struct {
	outcomes []string
}

func (r *fakeRecorder) AuthOutcome(flow, outcome string) {
	r.outcomes = append(r.outcomes, flow+":"+outcome)
}

func (r *fakeRecorder) last() string {
	if len(r.outcomes) == 0 {
		return ""
	}
	return r.outcomes[len(r.outcomes)-1]
}

type fixture struct {
	repo   *memory.UsersRepo
	store  *credentials.Store
	tokens *auth.Manager
	mailer *fakeMailer
	rec    *fakeRecorder
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		repo:   memory.NewUsersRepo(),
		tokens: auth.NewManager("test-secret", 15*time.Minute, time.Hour),
		mailer: &fakeMailer{},
		rec:    &fakeRecorder{},
	}
	f.store = credentials.NewStore(f.repo)
	f.svc = New(f.store, f.tokens, f.mailer, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)), f.rec)

	return f
}

func (f *fixture) addUser(t *testing.T, email, password string, active, confirmed bool) user.User {
	t.Helper()

	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword error: %v", err)
	}

	u, err := f.repo.Create(context.Background(), user.User{
		Email:          email,
		PasswordHash:   hash,
		Role:           "user",
		IsActive:       active,
		EmailConfirmed: confirmed,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	return u
}

func (f *fixture) reload(t *testing.T, id string) user.User {
	t.Helper()

	u, err := f.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	return u
}

func TestRequestPasswordReset_SendsLinkToActiveUser(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "root@root", "old-pass", true, true)

	f.svc.RequestPasswordReset(context.Background(), "  ROOT@root ", "https://app.example")

	msgs := f.mailer.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}

	msg := msgs[0]
	if msg.To != "root@root" || msg.Subject != "Reset Password" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	link, err := url.Parse(msg.Body)
	if err != nil {
		t.Fatalf("body is not a url: %v", err)
	}
	if link.Scheme != "https" || link.Host != "app.example" || link.Path != "/forgot-password-complete" {
		t.Fatalf("unexpected link: %s", msg.Body)
	}

	q := link.Query()
	if len(q) != 2 || q.Get("Id") != u.ID {
		t.Fatalf("unexpected query: %v", q)
	}
	if !f.tokens.VerifyPurposeToken(u, auth.PurposePasswordReset, q.Get("Token")) {
		t.Fatalf("link token should verify for the user")
	}
	if f.rec.last() != "forgot_password:dispatched" {
		t.Fatalf("unexpected outcome %q", f.rec.last())
	}
}

func TestRequestPasswordReset_IneligibleSendsNothing(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "inactive@example.com", "pw", false, true)

	tests := []struct {
		email   string
		outcome string
	}{
		{email: "nobody@example.com", outcome: "forgot_password:unknown_user"},
		{email: "inactive@example.com", outcome: "forgot_password:inactive_user"},
	}

	for _, tt := range tests {
		f.svc.RequestPasswordReset(context.Background(), tt.email, "https://app.example")

		if got := f.rec.last(); got != tt.outcome {
			t.Fatalf("%s: expected %q, got %q", tt.email, tt.outcome, got)
		}
	}

	if n := len(f.mailer.messages()); n != 0 {
		t.Fatalf("expected no mail for ineligible accounts, got %d", n)
	}
}

func TestRequestPasswordReset_FailuresAreSwallowed(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "root@root", "pw", true, true)

	f.svc.RequestPasswordReset(context.Background(), "root@root", "not a url")
	if f.rec.last() != "forgot_password:link_error" || len(f.mailer.messages()) != 0 {
		t.Fatalf("expected link error without mail, got %q", f.rec.last())
	}

	f.mailer.drop = true
	f.svc.RequestPasswordReset(context.Background(), "root@root", "https://app.example")
	if f.rec.last() != "forgot_password:dispatch_dropped" {
		t.Fatalf("expected dropped outcome, got %q", f.rec.last())
	}
}

func TestResetPassword_SucceedsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t, "root@root", "old-pass", true, true)

	tok, err := f.tokens.IssuePurposeToken(u, auth.PurposePasswordReset)
	if err != nil {
		t.Fatalf("IssuePurposeToken error: %v", err)
	}

	if err := f.svc.ResetPassword(ctx, u.ID, tok, "new-pass"); err != nil {
		t.Fatalf("ResetPassword error: %v", err)
	}

	after := f.reload(t, u.ID)
	if !f.store.CheckPassword(after, "new-pass") || f.store.CheckPassword(after, "old-pass") {
		t.Fatalf("stored hash should validate only the new password")
	}

	if err := f.svc.ResetPassword(ctx, u.ID, tok, "again"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected replayed token to be rejected, got %v", err)
	}
	if !f.store.CheckPassword(f.reload(t, u.ID), "new-pass") {
		t.Fatalf("replay must not change the password")
	}
}

func TestResetPassword_OtherTokensOutstandingAreRevoked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t, "root@root", "old-pass", true, true)

	first, _ := f.tokens.IssuePurposeToken(u, auth.PurposePasswordReset)
	second, _ := f.tokens.IssuePurposeToken(u, auth.PurposePasswordReset)

	if err := f.svc.ResetPassword(ctx, u.ID, second, "new-pass"); err != nil {
		t.Fatalf("ResetPassword error: %v", err)
	}
	if err := f.svc.ResetPassword(ctx, u.ID, first, "other"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected earlier token to be revoked, got %v", err)
	}
}

func TestResetPassword_Errors(t *testing.T) {
	f := newFixture(t)
	active := f.addUser(t, "root@root", "pw", true, true)
	inactive := f.addUser(t, "off@example.com", "pw", false, true)
	other := f.addUser(t, "test@test", "pw", true, true)

	activeTok, _ := f.tokens.IssuePurposeToken(active, auth.PurposePasswordReset)
	inactiveTok, _ := f.tokens.IssuePurposeToken(inactive, auth.PurposePasswordReset)
	otherTok, _ := f.tokens.IssuePurposeToken(other, auth.PurposePasswordReset)
	accessTok, _ := f.tokens.IssueAccessToken(active)

	tests := []struct {
		name  string
		id    string
		token string
		want  error
	}{
		{name: "unknown id", id: "00000000-0000-0000-0000-000000000001", token: activeTok, want: ErrNotFound},
		{name: "malformed id", id: "nope", token: activeTok, want: ErrNotFound},
		{name: "inactive user", id: inactive.ID, token: inactiveTok, want: ErrNotFound},
		{name: "token for other user", id: active.ID, token: otherTok, want: ErrInvalidToken},
		{name: "access token", id: active.ID, token: accessTok, want: ErrInvalidToken},
		{name: "garbage token", id: active.ID, token: "a b", want: ErrInvalidToken},
		{name: "empty token", id: active.ID, token: "", want: ErrEmptyInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.ResetPassword(context.Background(), tt.id, tt.token, "new-pass")
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if !f.store.CheckPassword(f.reload(t, active.ID), "pw") {
		t.Fatalf("failed resets must not touch the password")
	}
}

func TestSignIn(t *testing.T) {
	f := newFixture(t)
	confirmed := f.addUser(t, "root@root", "secret", true, true)
	f.addUser(t, "unconfirmed@example.com", "secret", true, false)
	f.addUser(t, "inactive@example.com", "secret", false, true)

	tests := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{name: "unknown", email: "nobody@example.com", password: "secret", want: ErrNotFound},
		{name: "inactive", email: "inactive@example.com", password: "secret", want: ErrNotFound},
		{name: "unconfirmed with right password", email: "unconfirmed@example.com", password: "secret", want: ErrUnauthorized},
		{name: "wrong password", email: "root@root", password: "nope", want: ErrUnauthorized},
		{name: "ok", email: "ROOT@root", password: "secret", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := f.svc.SignIn(context.Background(), tt.email, tt.password)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}

			if tt.want != nil {
				if tok != "" {
					t.Fatalf("expected no token on failure")
				}
				return
			}

			claims, err := f.tokens.VerifyAccessToken(tok)
			if err != nil {
				t.Fatalf("issued token should verify: %v", err)
			}
			if claims.UserID != confirmed.ID {
				t.Fatalf("token issued for wrong user: %+v", claims)
			}
		})
	}
}

func TestSignIn_UpgradesLegacyHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	legacy, _ := security.HashPasswordBcrypt("secret")
	u, err := f.repo.Create(ctx, user.User{Email: "old@example.com", PasswordHash: legacy, IsActive: true, EmailConfirmed: true})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if _, err := f.svc.SignIn(ctx, "old@example.com", "secret"); err != nil {
		t.Fatalf("SignIn error: %v", err)
	}

	after := f.reload(t, u.ID)
	if security.NeedsRehash(after.PasswordHash) {
		t.Fatalf("expected argon2id hash after sign-in, got %q", after.PasswordHash)
	}
	if !f.store.CheckPassword(after, "secret") {
		t.Fatalf("upgraded hash must still validate")
	}
}

type failingStore struct {
	*credentials.Store
	err error
}

func (s failingStore) FindByEmail(context.Context, string) (user.User, error) {
	return user.User{}, s.err
}

func (s failingStore) FindByID(context.Context, string) (user.User, error) {
	return user.User{}, s.err
}

func TestStoreErrorsPropagateExceptForForgotPassword(t *testing.T) {
	boom := errors.New("db down")
	f := newFixture(t)
	svc := New(failingStore{Store: f.store, err: boom}, f.tokens, f.mailer, Config{}, nil, f.rec)

	svc.RequestPasswordReset(context.Background(), "root@root", "https://app.example")
	if f.rec.last() != "forgot_password:lookup_error" {
		t.Fatalf("expected lookup error outcome, got %q", f.rec.last())
	}

	if _, err := svc.SignIn(context.Background(), "root@root", "pw"); !errors.Is(err, boom) {
		t.Fatalf("expected store error from SignIn, got %v", err)
	}
	if err := svc.ResetPassword(context.Background(), "id", "tok", "pw"); !errors.Is(err, boom) {
		t.Fatalf("expected store error from ResetPassword, got %v", err)
	}
}
