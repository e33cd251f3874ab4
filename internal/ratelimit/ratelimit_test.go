package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemory_FixedWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(2, time.Minute)
	m.now = func() time.Time { return now }

	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, _ := m.Allow(ctx, "1.2.3.4")
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	d, _ := m.Allow(ctx, "1.2.3.4")
	if d.Allowed {
		t.Fatalf("third request should be limited")
	}
	if d.RetryAfter != time.Minute {
		t.Fatalf("expected retry after 1m, got %v", d.RetryAfter)
	}

	if d, _ := m.Allow(ctx, "5.6.7.8"); !d.Allowed {
		t.Fatalf("other keys have their own window")
	}

	now = now.Add(time.Minute)
	if d, _ := m.Allow(ctx, "1.2.3.4"); !d.Allowed {
		t.Fatalf("new window should allow again")
	}
}

func TestMemory_SweepsExpiredBuckets(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(1, time.Second)
	m.now = func() time.Time { return now }

	_, _ = m.Allow(context.Background(), "a")
	_, _ = m.Allow(context.Background(), "b")

	now = now.Add(2 * time.Second)
	_, _ = m.Allow(context.Background(), "c")

	if len(m.clients) != 1 {
		t.Fatalf("expected expired buckets swept, have %d", len(m.clients))
	}
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestRedis_FixedWindow(t *testing.T) {
	mr, client := newMiniRedis(t)
	l := NewRedis(client, 2, 30*time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, "ip:1.2.3.4")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d should be allowed (err=%v)", i, err)
		}
	}

	d, err := l.Allow(ctx, "ip:1.2.3.4")
	if err != nil {
		t.Fatalf("Allow error: %v", err)
	}
	if d.Allowed {
		t.Fatalf("third request should be limited")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 30*time.Second {
		t.Fatalf("unexpected retry after %v", d.RetryAfter)
	}

	if ttl := mr.TTL(keyPrefix + "ip:1.2.3.4"); ttl != 30*time.Second {
		t.Fatalf("expected ttl set on first hit, got %v", ttl)
	}

	mr.FastForward(31 * time.Second)

	if d, _ := l.Allow(ctx, "ip:1.2.3.4"); !d.Allowed {
		t.Fatalf("expected new window after expiry")
	}
}

func TestRedis_Unavailable(t *testing.T) {
	mr, client := newMiniRedis(t)
	mr.Close()

	_, err := NewRedis(client, 1, time.Second).Allow(context.Background(), "k")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
