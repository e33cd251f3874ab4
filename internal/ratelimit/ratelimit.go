// Package ratelimit implements fixed-window request limiting, in process or shared through redis.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

var ErrUnavailable = errors.New("rate limiter backend unavailable")

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}
