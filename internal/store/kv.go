// Package store persists tenant state: credential blobs and key entries,
// session status and pairing payloads in Redis, and transport device key
// material in sqlite.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV is a thin prefixed view over a Redis client. Every key handed to it is
// relative; the prefix is added on the way in and stripped on the way out.
type KV struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewKV wraps rdb, namespacing all keys under prefix.
func NewKV(rdb redis.UniversalClient, prefix string) *KV {
	return &KV{rdb: rdb, prefix: prefix}
}

// Ping checks the server is reachable.
func (k *KV) Ping(ctx context.Context) error {
	return k.rdb.Ping(ctx).Err()
}

// Close closes the underlying client.
func (k *KV) Close() error {
	return k.rdb.Close()
}

// Get returns the value at key and whether it exists.
func (k *KV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := k.rdb.Get(ctx, k.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// MGet returns the values found at keys. Missing keys are absent from the map.
func (k *KV) MGet(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = k.prefix + key
	}

	vals, err := k.rdb.MGet(ctx, full...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = s
		}
	}
	return out, nil
}

// Set writes value at key with the given expiry. A zero ttl means no expiry.
func (k *KV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return k.rdb.Set(ctx, k.prefix+key, value, ttl).Err()
}

// Del removes keys. Missing keys are ignored.
func (k *KV) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = k.prefix + key
	}
	return k.rdb.Del(ctx, full...).Err()
}

// Keys lists the relative keys matching a glob pattern.
func (k *KV) Keys(ctx context.Context, pattern string) ([]string, error) {
	found, err := k.rdb.Keys(ctx, escapeGlob(k.prefix)+pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan %q: %w", pattern, err)
	}
	for i, key := range found {
		found[i] = strings.TrimPrefix(key, k.prefix)
	}
	return found, nil
}

// TTL returns the remaining lifetime of key. Negative values mean the key
// has no expiry (-1) or does not exist (-2).
func (k *KV) TTL(ctx context.Context, key string) (time.Duration, error) {
	return k.rdb.TTL(ctx, k.prefix+key).Result()
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// escapeGlob quotes glob metacharacters so s matches only itself.
func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
