package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

// setIfVersionScript writes KEYS[1] only while KEYS[2] still holds the version
// the caller read before loading the value. A missing version counts as 0.
var setIfVersionScript = redis.NewScript(`
local current = redis.call("GET", KEYS[2]) or "0"
if current ~= ARGV[2] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`)

// CacheRepository stores JSON read views and publishes notifications on Redis.
type CacheRepository struct {
	client redis.Cmdable
}

// NewCacheRepository constructs a cache repository. A nil client turns every
// read into a miss and every write into a no-op.
func NewCacheRepository(client redis.Cmdable) *CacheRepository {
	return &CacheRepository{client: client}
}

// Get retrieves and unmarshals the cached value into dest.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return nil
}

// Version returns the counter stored at versionKey, 0 when absent.
func (r *CacheRepository) Version(ctx context.Context, versionKey string) (int64, error) {
	if r.client == nil {
		return 0, nil
	}
	v, err := r.client.Get(ctx, versionKey).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis get %s: %w", versionKey, err)
	}
	return v, nil
}

// SetIfVersion stores value at key only if versionKey still equals version.
// It reports whether the write happened.
func (r *CacheRepository) SetIfVersion(ctx context.Context, key string, value interface{}, ttl time.Duration, versionKey string, version int64) (bool, error) {
	if r.client == nil {
		return false, nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	ms := ttl.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	written, err := setIfVersionScript.Run(ctx, r.client, []string{key, versionKey},
		payload, strconv.FormatInt(version, 10), ms).Int()
	if err != nil {
		return false, fmt.Errorf("redis conditional set %s: %w", key, err)
	}
	return written == 1, nil
}

// Invalidate bumps every version key and deletes the cached values in one
// MULTI block. Version keys never expire so a counter cannot repeat.
func (r *CacheRepository) Invalidate(ctx context.Context, keys []string, versionKeys []string) error {
	if r.client == nil || (len(keys) == 0 && len(versionKeys) == 0) {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, vk := range versionKeys {
			pipe.Incr(ctx, vk)
		}
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate %v: %w", keys, err)
	}
	return nil
}

// Publish sends value as JSON on a pub/sub channel.
func (r *CacheRepository) Publish(ctx context.Context, channel string, value interface{}) error {
	if r.client == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", channel, err)
	}
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}
