package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const denyKeyPrefix = "cornd:deny:"

// DenyCache is a best-effort Redis fast path for the admission
// decider. After a successful purchase the client is marked denied for
// the remainder of the window, letting repeat offenders be rejected
// without touching Postgres. Every failure degrades to a miss: the
// cache can shorten the deny path but never produce an Allow.
type DenyCache struct {
	client  *redis.Client
	timeout time.Duration
	onHit   func()
}

// Option configures a DenyCache.
type Option func(*DenyCache)

// WithHitHook registers a callback invoked on every cache-served deny,
// used to feed the metrics registry without coupling to it.
func WithHitHook(fn func()) Option {
	return func(c *DenyCache) {
		c.onHit = fn
	}
}

// New creates a DenyCache over an existing Redis client.
func New(client *redis.Client, timeout time.Duration, opts ...Option) *DenyCache {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	c := &DenyCache{client: client, timeout: timeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DeniedFor reports whether the client is inside a cached deny window
// and how long remains of it.
func (c *DenyCache) DeniedFor(ctx context.Context, clientID string) (time.Duration, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	remaining, err := c.client.TTL(ctx, denyKeyPrefix+clientID).Result()
	if err != nil {
		log.Debug().Err(err).Str("client_id", clientID).Msg("deny cache lookup failed, falling through to ledger")
		return 0, false
	}
	// TTL returns negative durations for missing or non-expiring keys.
	if remaining <= 0 {
		return 0, false
	}
	if c.onHit != nil {
		c.onHit()
	}
	return remaining, true
}

// MarkPurchased records that the client just purchased and must wait
// out the window. Errors are logged and dropped; the ledger already
// holds the authoritative record.
func (c *DenyCache) MarkPurchased(ctx context.Context, clientID string, window time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Set(ctx, denyKeyPrefix+clientID, "1", window).Err(); err != nil {
		log.Debug().Err(err).Str("client_id", clientID).Msg("deny cache write failed")
	}
}
