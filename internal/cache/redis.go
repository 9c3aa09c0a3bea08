package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a Redis instance, for deployments where
// several relay replicas should share one fallback dataset.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis wraps an existing client. All keys are stored under prefix;
// entries expire after ttl (non-positive means no expiry).
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

// Get implements Store. A missing key is a miss, not an error; anything
// else the client reports is a backend error.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, time.Time{}, false, fmt.Errorf("redis entry %q corrupt: %w", key, err)
	}
	return e.Value, e.StoredAt, true, nil
}

// Set implements Store.
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	data, err := json.Marshal(entry{Value: value, StoredAt: time.Now()})
	if err != nil {
		return fmt.Errorf("marshal cache entry %q: %w", key, err)
	}

	ttl := r.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}
