package middlewares

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/geocoder89/gearsauth/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// RateLimit enforces l for a derived key. Backend errors fail open.
// onLimited, when set, is called with the route of every rejected request.
func RateLimit(l ratelimit.Limiter, keyFn func(*gin.Context) string, log *slog.Logger, onLimited func(route string)) gin.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}

	return func(c *gin.Context) {
		key := keyFn(c)

		if key == "" {
			// fallback to IP if key cannot be derived
			key = KeyByIP(c)
		}

		route := c.FullPath()
		d, err := l.Allow(c.Request.Context(), route+"|"+key)

		if err != nil {
			log.WarnContext(c.Request.Context(), "rate limiter unavailable, allowing request",
				"route", route,
				"err", err,
			)
			c.Next()
			return
		}

		if !d.Allowed {
			if onLimited != nil {
				onLimited(route)
			}

			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
			abortWithError(c, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please try again shortly.")
			return
		}

		c.Next()
	}
}

// for unauthenticated endpoints: rate limit by IP
func KeyByIP(c *gin.Context) string {
	return "ip:" + clientIP(c)
}

func clientIP(c *gin.Context) string {
	// Gin's ClientIP respects X-Forwarded-For / X-Real-IP only for trusted proxies.
	ip := c.ClientIP()

	host, _, err := net.SplitHostPort(ip)

	if err == nil && host != "" {
		return host
	}

	return ip
}
