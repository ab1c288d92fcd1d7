// Package idempotency implements the SubmitTask/AcceptWebhook gate
// (SPEC_FULL.md §4.1): HMAC-SHA256 signature verification with a 5-minute
// replay window, an optional Redis fast-path dedup cache in front of the
// Postgres unique index, and inbox-row replay detection for webhooks.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaycore/orchestrator/internal/observability"
)

// FailMode controls behavior when the Redis fast-path cache is unreachable.
type FailMode string

const (
	// FailOpen processes the request as new when Redis errors, relying on
	// the Postgres unique constraint as the backstop.
	FailOpen FailMode = "open"
	// FailClosed rejects the request when Redis errors.
	FailClosed FailMode = "closed"
)

// DefaultKeyPrefix namespaces idempotency keys in the shared Redis instance.
const DefaultKeyPrefix = "idempotency:"

// Cache is the Redis fast-path dedup cache. Its answer is not
// authoritative: Gate.ResolveSubmission still does the Postgres lookup
// whether or not the key was seen, and the unique index there is what
// actually enforces the guarantee.
type Cache struct {
	client   *redis.Client
	prefix   string
	failMode FailMode
	logger   observability.Logger
}

// NewCache creates a Redis-backed idempotency Cache. client may be nil, in
// which case Seen always reports "new" (equivalent to running with the
// cache disabled) so the Postgres unique index remains the sole gate.
func NewCache(client *redis.Client, failMode FailMode, logger observability.Logger) *Cache {
	if failMode == "" {
		failMode = FailOpen
	}
	return &Cache{client: client, prefix: DefaultKeyPrefix, failMode: failMode, logger: logger}
}

// Seen atomically marks key as seen for ttl and reports whether it was
// already present. An empty key always reports "new" (no dedup applies).
func (c *Cache) Seen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" || c.client == nil {
		return false, nil
	}

	ok, err := c.client.SetNX(ctx, c.prefix+key, "1", ttl).Result()
	if err != nil {
		return c.handleError(key, err)
	}
	// SetNX returns true when the key was newly set, i.e. not seen before.
	return !ok, nil
}

func (c *Cache) handleError(key string, err error) (bool, error) {
	if c.failMode == FailOpen {
		c.logger.Warn("idempotency cache unavailable, failing open",
			"idempotency_key", key, "error", err)
		return false, nil
	}
	c.logger.Error("idempotency cache unavailable, failing closed",
		"idempotency_key", key, "error", err)
	return false, fmt.Errorf("idempotency cache check: %w", err)
}
