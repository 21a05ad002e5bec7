// Package redis provides a nonce replay guard shared across scraper replicas.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultPrefix namespaces nonce keys.
const DefaultPrefix = "catalog:nonce:"

// Config holds connection settings.
type Config struct {
	Address   string
	Password  string
	DB        int
	PoolSize  int
	KeyPrefix string
}

// Guard claims nonces with SETNX so only the first request within the TTL wins.
type Guard struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewGuard connects to Redis and pings it.
func NewGuard(ctx context.Context, cfg Config) (*Guard, error) {
	if cfg.Address == "" {
		cfg.Address = "localhost:6379"
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 10
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewGuardWithClient(rdb, cfg.KeyPrefix), nil
}

// NewGuardWithClient wraps an existing client.
func NewGuardWithClient(rdb redis.UniversalClient, prefix string) *Guard {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Guard{rdb: rdb, prefix: prefix}
}

// Claim reports whether nonce was unused and reserves it for ttl.
func (g *Guard) Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, g.prefix+nonce, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim nonce: %w", err)
	}
	return ok, nil
}

// Health pings Redis.
func (g *Guard) Health(ctx context.Context) error {
	return g.rdb.Ping(ctx).Err()
}

// Close releases the connection pool.
func (g *Guard) Close() error {
	return g.rdb.Close()
}
