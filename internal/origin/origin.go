package origin

import (
	"net/http"
	"strings"
)

// Resolver derives the scheme+host that reset links are rooted at.
type Resolver struct {
	// Fixed overrides everything derived from the request when set.
	Fixed string
	// TrustForwarded honours X-Forwarded-Proto / X-Forwarded-Host from a fronting proxy.
	TrustForwarded bool
}

func (r Resolver) Resolve(req *http.Request) string {
	if r.Fixed != "" {
		return strings.TrimRight(r.Fixed, "/")
	}

	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	host := req.Host

	if r.TrustForwarded {
		if p := firstValue(req.Header.Get("X-Forwarded-Proto")); p == "http" || p == "https" {
			scheme = p
		}
		if h := firstValue(req.Header.Get("X-Forwarded-Host")); h != "" {
			host = h
		}
	}

	return scheme + "://" + host
}

// proxies chain values as "a, b"; the client-facing one comes first
func firstValue(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.ToLower(strings.TrimSpace(first))
}
