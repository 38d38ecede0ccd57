// Package cache is the key/value store with per-entry expiry used for idempotent memoization.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	TTLSearch   = 30 * 24 * time.Hour
	TTLAudio    = 30 * 24 * time.Hour
	TTLImage    = 30 * 24 * time.Hour
	TTLBatch    = 90 * 24 * time.Hour
	TTLVideo    = 90 * 24 * time.Hour
	TTLLineage  = 90 * 24 * time.Hour
	TTLRecache  = 24 * time.Hour
	TTLProgress = 24 * time.Hour
	TTLResult   = 24 * time.Hour
)

// Cache is safe for concurrent use. A ttl <= 0 means no expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool, error) {
	var zero T
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return zero, ok, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return out, true, nil
}

func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}
