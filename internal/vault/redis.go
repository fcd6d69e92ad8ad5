// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces vault keys in a shared redis.
const DefaultRedisPrefix = "sessionguard:vault:"

// RedisBackend keeps payloads in redis, relying on key expiry for the TTL.
type RedisBackend struct {
	rdb    redis.UniversalClient
	prefix string
	owned  bool
}

// NewRedisBackend wraps an existing client. Close does not close rdb.
func NewRedisBackend(rdb redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{rdb: rdb, prefix: prefix}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(addr string) (*RedisBackend, error) {
	if addr == "" {
		return nil, errors.New("redis vault address is empty")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis vault unavailable at %s: %w", addr, err)
	}

	b := NewRedisBackend(rdb, "")
	b.owned = true
	return b, nil
}

// Save stores payload under key with the given expiry.
func (b *RedisBackend) Save(ctx context.Context, key, payload string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := b.rdb.Set(ctx, b.prefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("vault save: %w", err)
	}
	return nil
}

// Load returns the payload for key.
func (b *RedisBackend) Load(ctx context.Context, key string) (string, error) {
	payload, err := b.rdb.Get(ctx, b.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("vault load: %w", err)
	}
	return payload, nil
}

// Delete removes key.
func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.rdb.Del(ctx, b.prefix+key).Err(); err != nil {
		return fmt.Errorf("vault delete: %w", err)
	}
	return nil
}

// TTL returns the remaining lifetime of key.
func (b *RedisBackend) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := b.rdb.TTL(ctx, b.prefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("vault ttl: %w", err)
	}
	// go-redis reports a missing key as -2.
	if d == -2 || d == -2*time.Second {
		return 0, ErrNotFound
	}
	return d, nil
}

// Close closes the client if the backend created it.
func (b *RedisBackend) Close() error {
	if b.owned {
		return b.rdb.Close()
	}
	return nil
}
