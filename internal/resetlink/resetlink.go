// Package resetlink composes the user-facing password reset URL.
package resetlink

import (
	"errors"
	"net/url"
	"strings"
)

var ErrInvalidOrigin = errors.New("origin must be an absolute url")

// Params are the values carried in the link's query string.
type Params struct {
	ID    string
	Token string
}

// Build roots path at origin and attaches exactly two query parameters, Id and Token.
// Any path, query or fragment already on origin is replaced.
func Build(origin, path string, p Params) (string, error) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return "", errors.Join(ErrInvalidOrigin, err)
	}

	if u.Scheme == "" || u.Host == "" {
		return "", ErrInvalidOrigin
	}

	q := url.Values{}
	q.Set("Id", p.ID)
	q.Set("Token", p.Token)

	out := url.URL{
		Scheme:   u.Scheme,
		User:     u.User,
		Host:     u.Host,
		Path:     "/" + strings.TrimLeft(path, "/"),
		RawQuery: q.Encode(),
	}

	return out.String(), nil
}
