package cache

import (
	"context"
	"time"
)

// Cache is the subset of Redis the services depend on.
type Cache interface {
	BasicOps
	CounterOps
	ZSetOps

	Ping(ctx context.Context) error
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get returns "" with a nil error when the key is missing.
	Get(ctx context.Context, key string) (string, error)
	// Set stores a value; ttl 0 means no expiry.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// CounterOps defines the fixed-window counter primitives.
type CounterOps interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	// TTL returns a negative duration for keys without expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// ZSetOps defines sorted set operations used by leaderboards.
type ZSetOps interface {
	ZAdd(ctx context.Context, key string, members ...ZMember) error
	ZRem(ctx context.Context, key string, members ...string) error
	// ZScore reports found=false when the member is absent.
	ZScore(ctx context.Context, key, member string) (score float64, found bool, err error)
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZMember, error)
	ZCard(ctx context.Context, key string) (int64, error)
}

// ZMember is a sorted set entry.
type ZMember struct {
	Member string
	Score  float64
}
