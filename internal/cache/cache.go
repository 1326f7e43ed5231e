// Package cache provides the byte-slice caches behind the public feed: a
// Redis-backed one shared between replicas and an in-process ristretto
// cache for single-instance deployments.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tbourn/genstudio-backend/internal/config"
)

// Redis stores entries in a Redis database under a key prefix.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(ctx context.Context, cfg config.CacheConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	return &Redis{rdb: rdb, prefix: "genstudio:"}, nil
}

// Get returns the cached value. Errors are logged and reported as a miss.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache get failed")
		return nil, false
	}
	return b, true
}

// Set stores val for ttl. Errors are logged.
func (r *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	if err := r.rdb.Set(ctx, r.prefix+key, val, ttl).Err(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
}

// Close releases the connection pool.
func (r *Redis) Close() error { return r.rdb.Close() }

// Local is an in-process cache bounded by total value size.
type Local struct {
	c *ristretto.Cache[string, []byte]
}

// NewLocal builds a cache holding up to maxBytes of values.
func NewLocal(maxKeys, maxBytes int64) (*Local, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxKeys * 10,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create local cache: %w", err)
	}
	return &Local{c: c}, nil
}

// Get returns the cached value.
func (l *Local) Get(_ context.Context, key string) ([]byte, bool) {
	return l.c.Get(key)
}

// Set stores val for ttl. The write is visible once Set returns.
func (l *Local) Set(_ context.Context, key string, val []byte, ttl time.Duration) {
	l.c.SetWithTTL(key, val, int64(len(val)), ttl)
	l.c.Wait()
}

// Close stops the cache's background goroutines.
func (l *Local) Close() error {
	l.c.Close()
	return nil
}
