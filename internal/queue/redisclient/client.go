// Package redisclient owns the shared redis connection used for rate limiting.
package redisclient

import (
	"context"
	"time"

	"github.com/geocoder89/gearsauth/internal/ratelimit"
	"github.com/redis/go-redis/v9"
)

type Client struct {
	redisdb *redis.Client
}

type Config struct {
	Addr     string
	Password string
	DB       int
}

func New(cfg Config) *Client {
	redisdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	return &Client{redisdb: redisdb}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.redisdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.redisdb.Close()
}

func (c *Client) Raw() *redis.Client {
	return c.redisdb
}

// Limiter returns a fixed-window limiter shared by every API replica on this redis.
func (c *Client) Limiter(limit int, window time.Duration) ratelimit.Limiter {
	return ratelimit.NewRedis(c.redisdb, limit, window)
}
