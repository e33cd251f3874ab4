package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/geocoder89/gearsauth/internal/auth"
	"github.com/geocoder89/gearsauth/internal/authflow"
	"github.com/geocoder89/gearsauth/internal/credentials"
	"github.com/geocoder89/gearsauth/internal/domain/user"
	apphttp "github.com/geocoder89/gearsauth/internal/http"
	"github.com/geocoder89/gearsauth/internal/http/handlers"
	"github.com/geocoder89/gearsauth/internal/notifications"
	"github.com/geocoder89/gearsauth/internal/observability"
	"github.com/geocoder89/gearsauth/internal/origin"
	"github.com/geocoder89/gearsauth/internal/ratelimit"
	"github.com/geocoder89/gearsauth/internal/repo/memory"
	"github.com/geocoder89/gearsauth/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type env struct {
	router http.Handler
	repo   *memory.UsersRepo
	mail   chan notifications.Message
	prom   *observability.Prom
}

func setupAuthTestRouter(t *testing.T, limit int) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))

	repo := memory.NewUsersRepo()
	store := credentials.NewStore(repo)
	tokens := auth.NewManager("test-secret-key", 15*time.Minute, time.Hour)
	prom := observability.NewTestProm()

	mail := make(chan notifications.Message, 16)
	sender := notifications.SenderFunc(func(_ context.Context, msg notifications.Message) error {
		mail <- msg
		return nil
	})

	dispatcher := notifications.NewDispatcher(sender, notifications.DispatcherConfig{
		QueueSize: 8,
		Workers:   1,
		OnResult:  prom.MailResult,
	}, logger)
	t.Cleanup(func() { _ = dispatcher.Close(context.Background()) })

	svc := authflow.New(store, tokens, dispatcher, authflow.Config{}, logger, prom)

	router := apphttp.NewRouter(apphttp.RouterDeps{
		Env:     "test",
		Log:     logger,
		Prom:    prom,
		Auth:    handlers.NewAuthHandler(svc, origin.Resolver{}),
		Health:  handlers.NewHealthHandler(nil),
		Tokens:  tokens,
		Limiter: ratelimit.NewMemory(limit, time.Minute),
	})

	return &env{router: router, repo: repo, mail: mail, prom: prom}
}

func (e *env) seedUser(t *testing.T, email, password string, confirmed bool) user.User {
	t.Helper()

	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	u, err := e.repo.Create(context.Background(), user.User{
		Email:          email,
		PasswordHash:   hash,
		Name:           "Test",
		Role:           "user",
		IsActive:       true,
		EmailConfirmed: confirmed,
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func (e *env) nextMail(t *testing.T) notifications.Message {
	t.Helper()

	select {
	case msg := <-e.mail:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("no mail dispatched")
		return notifications.Message{}
	}
}

func doRequest(router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Host = "app.example"

	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	return w
}

func mustReadJSON[T any](t *testing.T, w *httptest.ResponseRecorder, out *T) {
	t.Helper()
	err := json.Unmarshal(w.Body.Bytes(), out)
	if err != nil {
		t.Fatalf("failed to unmarshal json: %v, body=%s", err, w.Body.String())
	}
}

func TestAuthIntegration_ForgotReset_SignIn(t *testing.T) {
	e := setupAuthTestRouter(t, 100)
	u := e.seedUser(t, "root@root", "old-password", true)

	w := doRequest(e.router, http.MethodPost, "/auth/forgot-password", `{"email":"root@root"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("forgot-password: expected 200, got %d body=%s", w.Code, w.Body.String())
	}

	msg := e.nextMail(t)
	if msg.To != "root@root" || msg.Subject != "Reset Password" {
		t.Fatalf("unexpected mail: %+v", msg)
	}

	link, err := url.Parse(msg.Body)
	if err != nil {
		t.Fatalf("mail body is not a link: %v", err)
	}
	if link.String() == "" || link.Host != "app.example" || link.Path != "/forgot-password-complete" {
		t.Fatalf("unexpected link %q", msg.Body)
	}
	if link.Query().Get("Id") != u.ID {
		t.Fatalf("link carries wrong id: %q", msg.Body)
	}

	resetBody, _ := json.Marshal(map[string]string{
		"id":       link.Query().Get("Id"),
		"token":    link.Query().Get("Token"),
		"password": "new-password",
	})

	w = doRequest(e.router, http.MethodPost, "/api/auth/reset-password", string(resetBody), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reset-password: expected 200, got %d body=%s", w.Code, w.Body.String())
	}

	// the link is dead after one use
	w = doRequest(e.router, http.MethodPost, "/auth/reset-password", string(resetBody), nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("replayed reset: expected 422, got %d body=%s", w.Code, w.Body.String())
	}

	w = doRequest(e.router, http.MethodPost, "/signin", `{"email":"root@root","password":"old-password"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("old password: expected 401, got %d", w.Code)
	}

	w = doRequest(e.router, http.MethodPost, "/api/signin", `{"email":"root@root","password":"new-password"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("signin: expected 200, got %d body=%s", w.Code, w.Body.String())
	}

	var signIn handlers.SignInResponse
	mustReadJSON(t, w, &signIn)
	if signIn.Token == "" {
		t.Fatalf("expected non-empty token")
	}

	w = doRequest(e.router, http.MethodGet, "/auth/me", "", map[string]string{"Authorization": "Bearer " + signIn.Token})
	if w.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d body=%s", w.Code, w.Body.String())
	}

	var me map[string]string
	mustReadJSON(t, w, &me)
	if me["id"] != u.ID || me["email"] != "root@root" {
		t.Fatalf("unexpected identity: %v", me)
	}

	// a reset token is not an access token
	w = doRequest(e.router, http.MethodGet, "/auth/me", "", map[string]string{"Authorization": "Bearer " + link.Query().Get("Token")})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("reset token as bearer: expected 401, got %d", w.Code)
	}

	if got := testutil.ToFloat64(e.prom.AuthOutcomes.WithLabelValues("reset_password", "success")); got != 1 {
		t.Fatalf("expected one successful reset recorded, got %v", got)
	}
}

func TestAuthIntegration_ForgotPassword_Uniform(t *testing.T) {
	e := setupAuthTestRouter(t, 100)
	inactive := e.seedUser(t, "off@example.com", "pw", true)
	e.repo.SetActive(inactive.ID, false)

	var bodies []string
	for _, email := range []string{"nobody@example.com", "off@example.com"} {
		w := doRequest(e.router, http.MethodPost, "/auth/forgot-password", `{"email":"`+email+`"}`, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", email, w.Code)
		}
		bodies = append(bodies, w.Body.String())
	}

	if bodies[0] != bodies[1] || bodies[0] != "{}" {
		t.Fatalf("responses must be identical, got %v", bodies)
	}

	select {
	case msg := <-e.mail:
		t.Fatalf("no mail expected, got %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAuthIntegration_SignIn_Errors(t *testing.T) {
	e := setupAuthTestRouter(t, 100)
	e.seedUser(t, "unconfirmed@example.com", "secret", false)

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "unknown", body: `{"email":"nobody@example.com","password":"secret"}`, want: http.StatusNotFound},
		{name: "unconfirmed", body: `{"email":"unconfirmed@example.com","password":"secret"}`, want: http.StatusUnauthorized},
		{name: "invalid email", body: `{"email":"root","password":"secret"}`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(e.router, http.MethodPost, "/signin", tt.body, nil)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d body=%s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestAuthIntegration_RateLimited(t *testing.T) {
	e := setupAuthTestRouter(t, 2)

	for i := 0; i < 2; i++ {
		w := doRequest(e.router, http.MethodPost, "/signin", `{"email":"a@b","password":"x"}`, nil)
		if w.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d limited too early", i)
		}
	}

	w := doRequest(e.router, http.MethodPost, "/signin", `{"email":"a@b","password":"x"}`, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestAuthIntegration_RequiresJSON(t *testing.T) {
	e := setupAuthTestRouter(t, 100)

	w := doRequest(e.router, http.MethodPost, "/signin", `{"email":"a@b","password":"x"}`, map[string]string{"Content-Type": "text/plain"})
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", w.Code)
	}
}

func TestAuthIntegration_DocsMounted(t *testing.T) {
	e := setupAuthTestRouter(t, 100)

	ui := doRequest(e.router, http.MethodGet, "/docs", "", nil)
	if ui.Code != http.StatusOK {
		t.Fatalf("/docs: expected 200, got %d", ui.Code)
	}

	spec := doRequest(e.router, http.MethodGet, "/docs/openapi.yaml", "", nil)
	if spec.Code != http.StatusOK {
		t.Fatalf("/docs/openapi.yaml: expected 200, got %d", spec.Code)
	}
	for _, path := range []string{"/auth/forgot-password:", "/auth/reset-password:", "/signin:"} {
		if !strings.Contains(spec.Body.String(), path) {
			t.Fatalf("expected %s documented", path)
		}
	}
}
