package ingest

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupKeyPrefix = "dedup:sig:"

// DefaultDedupTTL is the default idempotency window for a seen signature.
const DefaultDedupTTL = 600 * time.Second

// Dedup is an atomic "set if absent with TTL" primitive over the
// same Redis instance as the durable stream, using SET key value NX EX ttl.
type Dedup struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewDedup wraps an existing Redis client. It points at the same Redis
// instance as the counter store and state manager by design.
func NewDedup(rdb *redis.Client, ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &Dedup{rdb: rdb, ttl: ttl}
}

// FirstOccurrence returns true iff key has not been seen within the TTL
// window, atomically marking it seen as a side effect.
func (d *Dedup) FirstOccurrence(ctx context.Context, key string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, dedupKeyPrefix+key, 1, d.ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}
