package config

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Env   string
	Port  int
	DBURL string

	MigrateOnStart bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret            string
	JWTAccessTTLMinutes  int
	ResetTokenTTLMinutes int

	// link construction
	PublicOrigin      string
	TrustProxyHeaders bool
	ResetLinkPath     string
	CORSOrigins       []string

	OTLPEndpoint string

	SMTPHost       string
	SMTPPort       int
	SMTPUsername   string
	SMTPPassword   string
	SMTPRequireTLS bool
	MailFrom       string

	RateLimitRequests      int
	RateLimitWindowSeconds int

	MailQueueSize     int
	MailWorkers       int
	UseMailOutbox     bool
	MailMaxAttempts   int
	WorkerConcurrency int
	WorkerPollMillis  int
	WorkerLockSeconds int
	WorkerHealthPort  int

	SeedUserEmail    string
	SeedUserPassword string
	SeedUserName     string
}

func Load() Config {
	// a missing .env is the normal case outside local dev
	_ = godotenv.Load()

	return Config{
		Env:   getEnv("APP_ENV", "dev"),
		Port:  getEnvInt("PORT", 8080),
		DBURL: getEnv("DB_URL", buildDBURL()),

		MigrateOnStart: getEnvBool("MIGRATE_ON_START", true),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		JWTSecret:            getEnv("JWT_SECRET", defaultJWTSecret),
		JWTAccessTTLMinutes:  getEnvInt("JWT_ACCESS_TTL_MINUTES", 15),
		ResetTokenTTLMinutes: getEnvInt("RESET_TOKEN_TTL_MINUTES", 60),

		PublicOrigin:      getEnv("PUBLIC_ORIGIN", ""),
		TrustProxyHeaders: getEnvBool("TRUST_PROXY_HEADERS", false),
		ResetLinkPath:     getEnv("RESET_LINK_PATH", "forgot-password-complete"),
		CORSOrigins:       getEnvList("CORS_ALLOWED_ORIGINS"),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		SMTPHost:       getEnv("SMTP_HOST", ""),
		SMTPPort:       getEnvInt("SMTP_PORT", 587),
		SMTPUsername:   getEnv("SMTP_USERNAME", ""),
		SMTPPassword:   getEnv("SMTP_PASSWORD", ""),
		SMTPRequireTLS: getEnvBool("SMTP_REQUIRE_TLS", false),
		MailFrom:       getEnv("MAIL_FROM", "no-reply@gears.local"),

		RateLimitRequests:      getEnvInt("RATE_LIMIT_REQUESTS", 10),
		RateLimitWindowSeconds: getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60),

		MailQueueSize:     getEnvInt("MAIL_QUEUE_SIZE", 256),
		MailWorkers:       getEnvInt("MAIL_WORKERS", 2),
		UseMailOutbox:     getEnvBool("MAIL_USE_OUTBOX", true),
		MailMaxAttempts:   getEnvInt("MAIL_MAX_ATTEMPTS", 5),
		WorkerConcurrency: getEnvInt("WORKER_CONCURRENCY", 4),
		WorkerPollMillis:  getEnvInt("WORKER_POLL_MS", 250),
		WorkerLockSeconds: getEnvInt("WORKER_LOCK_TTL_SECONDS", 120),
		WorkerHealthPort:  getEnvInt("WORKER_HEALTH_PORT", 8081),

		SeedUserEmail:    getEnv("SEED_USER_EMAIL", ""),
		SeedUserPassword: getEnv("SEED_USER_PASSWORD", ""),
		SeedUserName:     getEnv("SEED_USER_NAME", "Root"),
	}
}

func (c Config) AccessTTL() time.Duration {
	return time.Duration(c.JWTAccessTTLMinutes) * time.Minute
}

func (c Config) ResetTokenTTL() time.Duration {
	return time.Duration(c.ResetTokenTTLMinutes) * time.Minute
}

func (c Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

// Warnings lists settings that are tolerable in dev but unsafe in a deployed env.
func (c Config) Warnings() []string {
	if c.Env == "dev" || c.Env == "test" {
		return nil
	}

	var out []string
	if c.PublicOrigin == "" {
		out = append(out, "PUBLIC_ORIGIN is not set: reset links are built from the request Host header, which the client controls")
	}
	if c.JWTSecret == defaultJWTSecret {
		out = append(out, "JWT_SECRET is the built-in development value")
	}
	return out
}

func buildDBURL() string {
	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "gears")
	pass := getEnv("DB_PASSWORD", "gears")
	name := getEnv("DB_NAME", "gears")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			slog.Warn("invalid integer env var, using fallback", "key", key, "value", v, "fallback", fallback)
			return fallback
		}

		return num
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("invalid boolean env var, using fallback", "key", key, "value", v, "fallback", fallback)
			return fallback
		}
		return b
	}
	return fallback
}

func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}

	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
