// Package data provides data access layer implementations.
package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store key prefixes. Keys are built with BuildStoreKey.
const (
	// StoreKeyBuffer prefixes conversation buffer state: buffer:{conversation}
	StoreKeyBuffer = "buffer"
	// StoreKeyMetrics prefixes flushed metric aggregates: metrics:{jobType}:{field}
	StoreKeyMetrics = "metrics"
)

// ErrStoreNotFound is returned when a store key does not exist.
var ErrStoreNotFound = errors.New("store: key not found")

// StoreClient is the shared low-latency store interface: plain
// get/set/increment/expire operations. Implementations must be
// thread-safe.
type StoreClient interface {
	// Get retrieves a raw value. Returns ErrStoreNotFound if the key
	// doesn't exist.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value with the specified TTL.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Increment adds delta to an integer key and returns the new value.
	Increment(ctx context.Context, key string, delta int64) (int64, error)

	// Expire sets a key's TTL.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes a key.
	Delete(ctx context.Context, key string) error
}

// redisStore is the Redis-based implementation of StoreClient.
type redisStore struct {
	client *redis.Client
}

// NewStoreClient creates a new Redis-based store client. If the Redis
// client is nil, store operations fail and callers degrade gracefully.
func NewStoreClient(rdb *redis.Client) StoreClient {
	return &redisStore{client: rdb}
}

func (s *redisStore) Get(ctx context.Context, key string) (string, error) {
	if s.client == nil {
		return "", errors.New("store: redis client is nil")
	}

	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrStoreNotFound
		}
		return "", fmt.Errorf("store: failed to get key %s: %w", key, err)
	}
	return val, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if s.client == nil {
		return errors.New("store: redis client is nil")
	}

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("store: failed to set key %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	if s.client == nil {
		return 0, errors.New("store: redis client is nil")
	}

	val, err := s.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("store: failed to increment key %s: %w", key, err)
	}
	return val, nil
}

func (s *redisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if s.client == nil {
		return errors.New("store: redis client is nil")
	}

	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("store: failed to expire key %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if s.client == nil {
		return errors.New("store: redis client is nil")
	}

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("store: failed to delete key %s: %w", key, err)
	}
	return nil
}

// BuildStoreKey constructs a store key with the appropriate prefix.
// Examples:
//   - BuildStoreKey(StoreKeyBuffer, "conv-1", "gen") -> "buffer:conv-1:gen"
//   - BuildStoreKey(StoreKeyMetrics, "issue_invoice", "count") -> "metrics:issue_invoice:count"
func BuildStoreKey(prefix string, parts ...string) string {
	key := prefix
	for _, part := range parts {
		key += ":" + part
	}
	return key
}
