package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/gearsauth/internal/auth"
	"github.com/geocoder89/gearsauth/internal/authflow"
	"github.com/geocoder89/gearsauth/internal/config"
	"github.com/geocoder89/gearsauth/internal/credentials"
	"github.com/geocoder89/gearsauth/internal/db"
	httpx "github.com/geocoder89/gearsauth/internal/http"
	"github.com/geocoder89/gearsauth/internal/http/handlers"
	"github.com/geocoder89/gearsauth/internal/notifications"
	"github.com/geocoder89/gearsauth/internal/observability"
	"github.com/geocoder89/gearsauth/internal/origin"
	"github.com/geocoder89/gearsauth/internal/outbox"
	"github.com/geocoder89/gearsauth/internal/queue/redisclient"
	"github.com/geocoder89/gearsauth/internal/ratelimit"
	"github.com/geocoder89/gearsauth/internal/repo/postgres"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load the config set up
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	for _, w := range cfg.Warnings() {
		log.Warn("unsafe configuration", "env", cfg.Env, "detail", w)
	}

	if err := run(cfg, log); err != nil {
		log.Error("api exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "gearsauth-api", cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		sctx, cancel := config.WithTimeout(5 * time.Second)
		defer cancel()
		_ = shutdownTracer(sctx)
	}()

	prom := observability.NewProm(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)

	pool, err := db.NewPool(ctx, cfg.DBURL, 10)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	usersRepo := postgres.NewUsersRepo(pool, prom)
	jobsRepo := postgres.NewJobsRepo(pool, prom)

	seeded, err := db.EnsureSeedUser(ctx, usersRepo, cfg)
	if err != nil {
		return fmt.Errorf("seed user: %w", err)
	}
	if seeded {
		log.Info("seed user created", "email", cfg.SeedUserEmail)
	}

	checks := map[string]handlers.Check{
		"postgres": pool.Ping,
	}

	var limiter ratelimit.Limiter
	if cfg.RateLimitRequests > 0 {
		if cfg.RedisAddr != "" {
			rc := redisclient.New(redisclient.Config{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			defer rc.Close()

			limiter = rc.Limiter(cfg.RateLimitRequests, cfg.RateLimitWindow())
			checks["redis"] = rc.Ping
		} else {
			limiter = ratelimit.NewMemory(cfg.RateLimitRequests, cfg.RateLimitWindow())
		}
	}

	dispatcher := notifications.NewDispatcher(mailSender(cfg, log, jobsRepo), notifications.DispatcherConfig{
		QueueSize: cfg.MailQueueSize,
		Workers:   cfg.MailWorkers,
		OnResult:  prom.MailResult,
	}, log)

	tokens := auth.NewManager(cfg.JWTSecret, cfg.AccessTTL(), cfg.ResetTokenTTL())

	svc := authflow.New(
		credentials.NewStore(usersRepo),
		tokens,
		dispatcher,
		authflow.Config{ResetLinkPath: cfg.ResetLinkPath},
		log,
		prom,
	)

	router := httpx.NewRouter(httpx.RouterDeps{
		Env:  cfg.Env,
		Log:  log,
		Prom: prom,
		Auth: handlers.NewAuthHandler(svc, origin.Resolver{
			Fixed:          cfg.PublicOrigin,
			TrustForwarded: cfg.TrustProxyHeaders,
		}),
		Health:            handlers.NewHealthHandler(checks),
		Tokens:            tokens,
		Limiter:           limiter,
		CORSOrigins:       cfg.CORSOrigins,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)

	go func() {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env)
		err := srv.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	// Graceful shutdown
	log.Info("server shutting down")

	shutdownCtx, cancel := config.WithTimeout(10 * time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
	}

	// queued reset mails still get their chance once requests have stopped
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Error("mail dispatcher did not drain", "err", err)
	}

	log.Info("shutdown complete")
	return nil
}

// mailSender picks where reset mail goes: the outbox table for the worker,
// or straight to SMTP (or the log when no relay is configured).
func mailSender(cfg config.Config, log *slog.Logger, jobs outbox.JobCreator) notifications.Sender {
	if cfg.UseMailOutbox {
		return outbox.NewSender(jobs, cfg.MailMaxAttempts)
	}

	return directSender(cfg, log)
}

func directSender(cfg config.Config, log *slog.Logger) notifications.Sender {
	var inner notifications.Sender = notifications.NewLogNotifier(log)

	if cfg.SMTPHost != "" {
		inner = notifications.NewSMTPNotifier(notifications.SMTPConfig{
			Host:       cfg.SMTPHost,
			Port:       cfg.SMTPPort,
			Username:   cfg.SMTPUsername,
			Password:   cfg.SMTPPassword,
			From:       cfg.MailFrom,
			RequireTLS: cfg.SMTPRequireTLS,
		})
	}

	return notifications.NewProtectedNotifier(inner, notifications.ProtectedNotifierConfig{
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	})
}
