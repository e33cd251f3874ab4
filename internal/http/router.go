package http

import (
	"log/slog"

	"github.com/geocoder89/gearsauth/internal/http/handlers"
	"github.com/geocoder89/gearsauth/internal/http/middlewares"
	"github.com/geocoder89/gearsauth/internal/observability"
	"github.com/geocoder89/gearsauth/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const maxBodyBytes = 16 << 10

type RouterDeps struct {
	Env  string
	Log  *slog.Logger
	Prom *observability.Prom

	Auth   *handlers.AuthHandler
	Health *handlers.HealthHandler
	Tokens middlewares.TokenVerifier

	// Limiter may be nil to disable rate limiting.
	Limiter ratelimit.Limiter

	CORSOrigins []string
	// TrustProxyHeaders lets gin take the client IP from X-Forwarded-For.
	TrustProxyHeaders bool
}

func NewRouter(d RouterDeps) *gin.Engine {
	if d.Env != "dev" && d.Env != "test" {
		gin.SetMode(gin.ReleaseMode)
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}

	handlers.RegisterValidators()

	r := gin.New()

	if !d.TrustProxyHeaders {
		_ = r.SetTrustedProxies(nil)
	}

	// middleware
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("gearsauth"))
	r.Use(middlewares.RequestID())
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(d.CORSOrigins))
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.RequestLogger(d.Log))

	// health
	if d.Health != nil {
		r.GET("/healthz", d.Health.Healthz)
		r.GET("/readyz", d.Health.Readyz)
	}
	if d.Prom != nil {
		r.GET("/metrics", gin.WrapH(d.Prom.Handler()))
	}

	// docs
	r.GET("/docs", handlers.SwaggerUI)
	r.GET("/docs/openapi.yaml", handlers.OpenAPISpec)

	authChain := []gin.HandlerFunc{
		middlewares.RequireJSON(),
		middlewares.MaxBodyBytes(maxBodyBytes),
	}
	if d.Limiter != nil {
		var onLimited func(string)
		if d.Prom != nil {
			onLimited = func(route string) { d.Prom.RateLimited.WithLabelValues(route).Inc() }
		}
		authChain = append(authChain, middlewares.RateLimit(d.Limiter, middlewares.KeyByIP, d.Log, onLimited))
	}

	with := func(h gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, authChain...), h)
	}

	r.POST("/auth/forgot-password", with(d.Auth.ForgotPassword)...)
	r.POST("/auth/reset-password", with(d.Auth.ResetPassword)...)
	r.POST("/signin", with(d.Auth.SignIn)...)

	// routes the original web client calls
	api := r.Group("/api")
	api.POST("/forgot-password", with(d.Auth.ForgotPassword)...)
	api.POST("/auth/reset-password", with(d.Auth.ResetPassword)...)
	api.POST("/signin", with(d.Auth.SignIn)...)

	if d.Tokens != nil {
		authMw := middlewares.NewAuthMiddleware(d.Tokens)
		r.GET("/auth/me", authMw.RequireAuth(), d.Auth.Me)
	}

	return r
}
