package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes a lease only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig tunes lease acquisition.
type RedisConfig struct {
	Prefix     string
	LeaseTTL   time.Duration
	RetryDelay time.Duration
	MaxDelay   time.Duration
	Logger     *zap.Logger
}

// Redis is a Locker backed by SET NX PX leases, for deployments running
// several API replicas against one database.
//
// A lease expires after LeaseTTL and is never renewed, so the lease alone does
// not guarantee exclusion for a holder that runs longer than LeaseTTL. The
// Postgres store still serializes the rows with SELECT ... FOR UPDATE inside
// the transaction; keep LeaseTTL well above the lock acquire timeout plus the
// longest transaction.
type Redis struct {
	client     redis.Cmdable
	prefix     string
	leaseTTL   time.Duration
	retryDelay time.Duration
	maxDelay   time.Duration
	logger     *zap.Logger
}

// NewRedis constructs a lease-based locker.
func NewRedis(client redis.Cmdable, cfg RedisConfig) *Redis {
	if cfg.Prefix == "" {
		cfg.Prefix = "registrar:lock:"
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 200 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Redis{
		client:     client,
		prefix:     cfg.Prefix,
		leaseTTL:   cfg.LeaseTTL,
		retryDelay: cfg.RetryDelay,
		maxDelay:   cfg.MaxDelay,
		logger:     cfg.Logger,
	}
}

// Acquire takes a lease per key in sorted order, retrying with backoff until ctx is done.
func (r *Redis) Acquire(ctx context.Context, keys ...string) (Release, error) {
	keys = Normalize(keys)
	token := uuid.NewString()
	held := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := r.acquireOne(ctx, r.prefix+key, token); err != nil {
			r.releaseAll(held, token)
			return nil, err
		}
		held = append(held, r.prefix+key)
	}
	var once sync.Once
	return func() { once.Do(func() { r.releaseAll(held, token) }) }, nil
}

func (r *Redis) acquireOne(ctx context.Context, key, token string) error {
	delay := r.retryDelay
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.leaseTTL).Result()
		if err != nil {
			if ctx.Err() != nil {
				return contextErr(ctx)
			}
			return fmt.Errorf("redis lease %s: %w", key, err)
		}
		if ok {
			return nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return contextErr(ctx)
		case <-timer.C:
		}
		delay *= 2
		if delay > r.maxDelay {
			delay = r.maxDelay
		}
	}
}

func (r *Redis) releaseAll(keys []string, token string) {
	// Release must not depend on the caller's context, which may already be done.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := len(keys) - 1; i >= 0; i-- {
		if err := releaseScript.Run(ctx, r.client, []string{keys[i]}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			r.logger.Warn("failed to release lease", zap.String("key", keys[i]), zap.Error(err))
		}
	}
}

func contextErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}
