package config

import (
	"strings"
	"testing"
)

func TestWarnings(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{
			name: "dev tolerates defaults",
			cfg:  Config{Env: "dev", JWTSecret: defaultJWTSecret},
		},
		{
			name: "test tolerates defaults",
			cfg:  Config{Env: "test", JWTSecret: defaultJWTSecret},
		},
		{
			name: "prod without public origin",
			cfg:  Config{Env: "prod", JWTSecret: "s3cret"},
			want: []string{"PUBLIC_ORIGIN"},
		},
		{
			name: "prod with default secret",
			cfg:  Config{Env: "prod", JWTSecret: defaultJWTSecret, PublicOrigin: "https://app.example"},
			want: []string{"JWT_SECRET"},
		},
		{
			name: "prod configured",
			cfg:  Config{Env: "prod", JWTSecret: "s3cret", PublicOrigin: "https://app.example"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.Warnings()
			if len(got) != len(tt.want) {
				t.Fatalf("got %d warnings %v, want %d", len(got), got, len(tt.want))
			}
			for i, key := range tt.want {
				if !strings.HasPrefix(got[i], key) {
					t.Fatalf("warning %d = %q, want it to name %s", i, got[i], key)
				}
			}
		})
	}
}

func TestLoad_PublicOriginFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("PUBLIC_ORIGIN", "https://app.example")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg := Load()

	if cfg.PublicOrigin != "https://app.example" {
		t.Fatalf("PublicOrigin = %q", cfg.PublicOrigin)
	}
	if w := cfg.Warnings(); len(w) != 0 {
		t.Fatalf("expected no warnings, got %v", w)
	}
}
