package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, RedisConfig{
		Prefix:     "test:lock:",
		LeaseTTL:   5 * time.Second,
		RetryDelay: time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}), m
}

func shortContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	t.Cleanup(cancel)
	return ctx
}

func TestRedisSecondAcquireTimesOut(t *testing.T) {
	l, m := newRedisLocker(t)

	release, err := l.Acquire(context.Background(), SectionKey("a"))
	require.NoError(t, err)
	require.True(t, m.Exists("test:lock:section:a"))
	assert.Equal(t, 5*time.Second, m.TTL("test:lock:section:a"))

	_, err = l.Acquire(shortContext(t), SectionKey("a"))
	assert.ErrorIs(t, err, ErrTimeout)

	release()
	assert.False(t, m.Exists("test:lock:section:a"))

	again, err := l.Acquire(shortContext(t), SectionKey("a"))
	require.NoError(t, err)
	again()
}

func TestRedisReleaseLeavesForeignLease(t *testing.T) {
	l, m := newRedisLocker(t)

	release, err := l.Acquire(context.Background(), StudentKey("s1"))
	require.NoError(t, err)

	// The lease expired and another replica now holds the key.
	require.NoError(t, m.Set("test:lock:student:s1", "other-replica"))
	release()

	got, err := m.Get("test:lock:student:s1")
	require.NoError(t, err)
	assert.Equal(t, "other-replica", got)
}

func TestRedisPartialAcquireIsRolledBack(t *testing.T) {
	l, m := newRedisLocker(t)
	require.NoError(t, m.Set("test:lock:section:b", "other-replica"))

	// Keys are taken in sorted order: section:a succeeds, section:b never frees.
	_, err := l.Acquire(shortContext(t), SectionKey("b"), SectionKey("a"))
	assert.ErrorIs(t, err, ErrTimeout)

	assert.False(t, m.Exists("test:lock:section:a"))
	got, err := m.Get("test:lock:section:b")
	require.NoError(t, err)
	assert.Equal(t, "other-replica", got)
}

func TestRedisReleaseIsIdempotent(t *testing.T) {
	l, m := newRedisLocker(t)

	release, err := l.Acquire(context.Background(), SectionKey("a"))
	require.NoError(t, err)
	release()

	next, err := l.Acquire(context.Background(), SectionKey("a"))
	require.NoError(t, err)
	release()
	assert.True(t, m.Exists("test:lock:section:a"), "a stale release must not free the new holder")
	next()
	assert.False(t, m.Exists("test:lock:section:a"))
}
