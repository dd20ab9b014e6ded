package data

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// BufferStateRepo implements biz.BufferStateRepo on Redis. Generation is
// a plain counter key; messages live in a per-generation list so a
// drain and a late append of the previous window can never mix.
type BufferStateRepo struct {
	rdb    *redis.Client
	logger *log.Helper
}

// NewBufferStateRepo creates a new buffer state repository.
func NewBufferStateRepo(d *Data, logger log.Logger) *BufferStateRepo {
	return &BufferStateRepo{
		rdb:    d.GetRedisClient(),
		logger: log.NewHelper(logger),
	}
}

// Generation returns the conversation's current buffer generation.
func (r *BufferStateRepo) Generation(ctx context.Context, conversationID string) (int64, error) {
	if r.rdb == nil {
		return 0, fmt.Errorf("redis client is nil")
	}

	key := generationKey(conversationID)
	val, err := r.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get buffer generation: %w", err)
	}

	gen, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse buffer generation: %w", err)
	}
	return gen, nil
}

// Append pushes a message onto the generation's buffer list and returns
// the new length. TTL is refreshed on every append so an abandoned
// buffer expires on its own.
func (r *BufferStateRepo) Append(ctx context.Context, conversationID string, generation int64, message string, ttl time.Duration) (int64, error) {
	if r.rdb == nil {
		return 0, fmt.Errorf("redis client is nil")
	}

	key := messagesKey(conversationID, generation)
	size, err := r.rdb.RPush(ctx, key, message).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to append buffer message: %w", err)
	}

	if err := r.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		r.logger.Warnf("Failed to set buffer TTL for conversation %s: %v", conversationID, err)
	}

	return size, nil
}

// Drain takes all messages of the generation and advances the
// conversation to the next one. Advancing first makes a racing flush of
// the same generation read an already-deleted list and back off.
func (r *BufferStateRepo) Drain(ctx context.Context, conversationID string, generation int64) ([]string, error) {
	if r.rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	genKey := generationKey(conversationID)
	msgKey := messagesKey(conversationID, generation)

	// Advance only if still on this generation (a concurrent drain may
	// have moved on already).
	current, err := r.Generation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if current != generation {
		return nil, nil
	}

	if err := r.rdb.Set(ctx, genKey, strconv.FormatInt(generation+1, 10), 24*time.Hour).Err(); err != nil {
		return nil, fmt.Errorf("failed to advance buffer generation: %w", err)
	}

	messages, err := r.rdb.LRange(ctx, msgKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read buffered messages: %w", err)
	}

	if err := r.rdb.Del(ctx, msgKey).Err(); err != nil {
		r.logger.Warnf("Failed to delete drained buffer for conversation %s: %v", conversationID, err)
	}

	return messages, nil
}

// generationKey builds the generation counter key.
// Format: buffer:{conversation}:gen
func generationKey(conversationID string) string {
	return BuildStoreKey(StoreKeyBuffer, conversationID, "gen")
}

// messagesKey builds the per-generation message list key.
// Format: buffer:{conversation}:{generation}:msgs
func messagesKey(conversationID string, generation int64) string {
	return BuildStoreKey(StoreKeyBuffer, conversationID, strconv.FormatInt(generation, 10), "msgs")
}
