// Package store implements the keyed cache the job runner writes to
// and the API reads from: a map from canonical urlkey to a map of
// {timestamp → encoded fingerprint}, with a year-sentinel entry
// recording "no captures this year" and a TTL reset on every write.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// YearSentinel is the value written under a 4-digit year key to mean
// "no captures exist for this urlkey in this year".
const YearSentinel = "-1"

// Cache is the cache store's contract. It is implemented by
// RedisCache and by any in-memory fake used in job-runner tests.
type Cache interface {
	PutMany(ctx context.Context, urlkey string, entries map[string]string, ttl time.Duration) error
	PutYearSentinel(ctx context.Context, urlkey, year string, ttl time.Duration) error
	Get(ctx context.Context, urlkey, field string) (string, bool, error)
	Keys(ctx context.Context, urlkey string) ([]string, error)
	MultiGet(ctx context.Context, urlkey string, fields []string) ([]Entry, error)
	ScanYear(ctx context.Context, urlkey, year string) ([]string, error)
}

// Entry is one (timestamp, value) pair as returned by MultiGet; Found
// is false when the field did not exist so callers can preserve input
// order without losing the distinction between "absent" and "empty".
type Entry struct {
	Field string
	Value string
	Found bool
}

// RedisCache backs Cache with a Redis hash per urlkey.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing *redis.Client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// PutMany writes every entry in one HSET call, then resets the
// group's TTL — HSET of multiple fields is a single Redis command, so
// this is atomic with respect to other writers by construction.
func (c *RedisCache) PutMany(ctx context.Context, urlkey string, entries map[string]string, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(entries))
	for k, v := range entries {
		fields[k] = v
	}
	if err := c.client.HSet(ctx, urlkey, fields).Err(); err != nil {
		return fmt.Errorf("store: HSET %s: %w", urlkey, err)
	}
	if err := c.client.Expire(ctx, urlkey, ttl).Err(); err != nil {
		return fmt.Errorf("store: EXPIRE %s: %w", urlkey, err)
	}
	return nil
}

// PutYearSentinel writes the negative-cache sentinel under the
// 4-digit year key and resets the group TTL.
func (c *RedisCache) PutYearSentinel(ctx context.Context, urlkey, year string, ttl time.Duration) error {
	return c.PutMany(ctx, urlkey, map[string]string{year: YearSentinel}, ttl)
}

// Get reads a single field. The bool return distinguishes "absent"
// from an empty string value; reads never touch the group's TTL.
func (c *RedisCache) Get(ctx context.Context, urlkey, field string) (string, bool, error) {
	val, err := c.client.HGet(ctx, urlkey, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: HGET %s %s: %w", urlkey, field, err)
	}
	return val, true, nil
}

// Keys returns every field stored under urlkey, in no particular
// order.
func (c *RedisCache) Keys(ctx context.Context, urlkey string) ([]string, error) {
	keys, err := c.client.HKeys(ctx, urlkey).Result()
	if err != nil {
		return nil, fmt.Errorf("store: HKEYS %s: %w", urlkey, err)
	}
	return keys, nil
}

// MultiGet reads several fields in one round trip, preserving input
// order.
func (c *RedisCache) MultiGet(ctx context.Context, urlkey string, fields []string) ([]Entry, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	values, err := c.client.HMGet(ctx, urlkey, fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("store: HMGET %s: %w", urlkey, err)
	}
	entries := make([]Entry, len(fields))
	for i, field := range fields {
		entries[i].Field = field
		if values[i] == nil {
			continue
		}
		if s, ok := values[i].(string); ok {
			entries[i].Value = s
			entries[i].Found = true
		}
	}
	return entries, nil
}

// ScanYear filters Keys to those whose first 4 characters equal year.
func (c *RedisCache) ScanYear(ctx context.Context, urlkey, year string) ([]string, error) {
	keys, err := c.Keys(ctx, urlkey)
	if err != nil {
		return nil, err
	}
	var matched []string
	for _, k := range keys {
		if len(k) >= 4 && k[:4] == year {
			matched = append(matched, k)
		}
	}
	return matched, nil
}
