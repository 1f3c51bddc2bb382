package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSortsAndDeduplicates(t *testing.T) {
	keys := Normalize([]string{StudentKey("s1"), SectionKey("b"), "", SectionKey("a"), SectionKey("b")})
	assert.Equal(t, []string{"section:a", "section:b", "student:s1"}, keys)
}

func TestLocalSerializesSameKey(t *testing.T) {
	l := NewLocal()
	var inside int32
	var maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), SectionKey("cs101"))
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, l.Size())
}

func TestLocalTimeout(t *testing.T) {
	l := NewLocal()
	release, err := l.Acquire(context.Background(), SectionKey("cs101"))
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, SectionKey("cs101"))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestLocalPartialAcquireIsRolledBack(t *testing.T) {
	l := NewLocal()
	release, err := l.Acquire(context.Background(), SectionKey("b"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, SectionKey("a"), SectionKey("b"))
	require.ErrorIs(t, err, ErrTimeout)

	// section:a must have been released by the failed call.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	releaseA, err := l.Acquire(ctx2, SectionKey("a"))
	require.NoError(t, err)
	releaseA()
	release()
	assert.Equal(t, 0, l.Size())
}

func TestLocalOppositeOrderDoesNotDeadlock(t *testing.T) {
	l := NewLocal()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), SectionKey("a"), SectionKey("b"))
			if assert.NoError(t, err) {
				release()
			}
		}()
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), SectionKey("b"), SectionKey("a"))
			if assert.NoError(t, err) {
				release()
			}
		}()
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("opposite-order acquisitions deadlocked")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	l := NewLocal()
	release, err := l.Acquire(context.Background(), SectionKey("a"))
	require.NoError(t, err)
	release()
	release()
	assert.Equal(t, 0, l.Size())
}
