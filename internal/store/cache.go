// Package store implements conversation persistence: a Redis hot cache, the
// Postgres durable store, and the dual-store facade the orchestrator uses.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/finanzas-ai/coordinator/internal/model"
	"github.com/finanzas-ai/coordinator/pkg/metrics"
)

// ErrNotFound is returned by KV implementations on a missing key.
var ErrNotFound = errors.New("store: key not found")

// KV is the minimal key-value surface the cache needs.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// RedisKV backs KV with Redis.
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV wraps an existing Redis client.
func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (r *RedisKV) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// dedupTTL bounds how long a processed message id is remembered.
const dedupTTL = 24 * time.Hour

// ConversationCache is the hot-path view of conversation state, keyed by
// normalized phone number.
type ConversationCache struct {
	kv  KV
	ttl time.Duration
}

// NewConversationCache creates a cache with the given entry TTL.
func NewConversationCache(kv KV, ttl time.Duration) *ConversationCache {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &ConversationCache{kv: kv, ttl: ttl}
}

// Key returns the cache key for a phone number.
func (c *ConversationCache) Key(phone string) string {
	return "conv:" + NormalizePhone(phone)
}

// Get returns the cached conversation for a phone, or nil on a miss. Entries
// past their embedded expiry are deleted and reported as a miss, so a cache
// backend that has not evicted yet can never serve stale flow state.
func (c *ConversationCache) Get(ctx context.Context, phone string) (*model.CachedConversation, error) {
	data, err := c.kv.Get(ctx, c.Key(phone))
	if errors.Is(err, ErrNotFound) {
		metrics.RecordCacheOperation("get", "miss")
		return nil, nil
	}
	if err != nil {
		metrics.RecordCacheOperation("get", "error")
		return nil, err
	}

	var cached model.CachedConversation
	if err := json.Unmarshal(data, &cached); err != nil {
		metrics.RecordCacheOperation("get", "corrupt")
		_ = c.kv.Delete(ctx, c.Key(phone))
		return nil, nil
	}

	if cached.IsExpired() {
		metrics.RecordCacheOperation("get", "expired")
		_ = c.kv.Delete(ctx, c.Key(phone))
		return nil, nil
	}

	metrics.RecordCacheOperation("get", "hit")
	return &cached, nil
}

// Put writes the cached conversation with a refreshed TTL.
func (c *ConversationCache) Put(ctx context.Context, cached *model.CachedConversation) error {
	cached.TouchExpiry(c.ttl)

	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("marshal cached conversation: %w", err)
	}

	if err := c.kv.Set(ctx, c.Key(cached.PhoneNumber), data, c.ttl); err != nil {
		metrics.RecordCacheOperation("put", "error")
		return err
	}
	metrics.RecordCacheOperation("put", "ok")
	return nil
}

// Delete removes the cached conversation for a phone.
func (c *ConversationCache) Delete(ctx context.Context, phone string) error {
	if err := c.kv.Delete(ctx, c.Key(phone)); err != nil {
		metrics.RecordCacheOperation("delete", "error")
		return err
	}
	metrics.RecordCacheOperation("delete", "ok")
	return nil
}

// MarkProcessed records a message id and reports whether it was new. A false
// result means the message was already processed and must not be re-run.
func (c *ConversationCache) MarkProcessed(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return true, nil
	}
	return c.kv.SetNX(ctx, "msg:"+messageID, []byte("1"), dedupTTL)
}

// NormalizePhone strips everything but digits, so "whatsapp:+51 999-888-777"
// and "+51999888777" share one cache entry.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
