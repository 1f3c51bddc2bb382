package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPeriodicSkipsOverlappingRun(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	var runs int32
	var skipped int32
	p := NewPeriodic("waitlist-sweep", time.Hour, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		close(entered)
		<-unblock
		return nil
	}, func(name string, ran bool, _ time.Duration, _ error) {
		if !ran {
			atomic.AddInt32(&skipped, 1)
		}
	}, zap.NewNop())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ran, err := p.RunOnce(context.Background())
		assert.True(t, ran)
		assert.NoError(t, err)
	}()

	<-entered
	ran, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)

	close(unblock)
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
	assert.Equal(t, int32(1), atomic.LoadInt32(&skipped))
}

func TestPeriodicRunsAgainAfterCompletion(t *testing.T) {
	var runs int32
	p := NewPeriodic("invoice-sweep", time.Hour, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return errors.New("billing unavailable")
	}, nil, nil)

	ran, err := p.RunOnce(context.Background())
	assert.True(t, ran)
	assert.Error(t, err)
	ran, err = p.RunOnce(context.Background())
	assert.True(t, ran)
	assert.Error(t, err)
	assert.Equal(t, int32(2), runs)
}

func TestPeriodicStartTicks(t *testing.T) {
	ticked := make(chan struct{}, 1)
	p := NewPeriodic("tick", 5*time.Millisecond, func(ctx context.Context) error {
		select {
		case ticked <- struct{}{}:
		default:
		}
		return nil
	}, nil, nil)
	p.Start(context.Background())
	defer p.Stop()

	select {
	case <-ticked:
	case <-time.After(time.Second):
		t.Fatal("periodic job never ticked")
	}
}

func TestPeriodicStopWaitsForInFlightRun(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	var finished int32
	p := NewPeriodic("invoice-sweep", 5*time.Millisecond, func(ctx context.Context) error {
		once.Do(func() { close(entered) })
		<-unblock
		atomic.StoreInt32(&finished, 1)
		return nil
	}, nil, nil)
	p.Start(context.Background())

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("periodic job never ticked")
	}

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a run was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(unblock)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop never returned")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&finished))
}

func TestQueueCoalescesPendingKeys(t *testing.T) {
	release := make(chan struct{})
	var handled int32
	q := NewQueue("seat-freed", func(ctx context.Context, job Job) error {
		<-release
		atomic.AddInt32(&handled, 1)
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 8, Coalesce: true})
	q.Start(context.Background())
	defer q.Stop()

	// First job occupies the worker; the next three share a key while pending.
	require.NoError(t, q.Enqueue(Job{Type: "seat_freed", Key: "busy"}))
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		_, pending := q.waiting["busy"]
		return !pending
	}, time.Second, time.Millisecond)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(Job{Type: "seat_freed", Key: "sec-1"}))
	}
	close(release)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&handled) == 2 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&handled))
}

func TestQueueRejectsBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	assert.ErrorIs(t, q.Enqueue(Job{Type: "noop"}), ErrNotStarted)

	q.Start(context.Background())
	q.Stop()
	assert.ErrorIs(t, q.Enqueue(Job{Type: "noop"}), ErrNotStarted)
}

func TestQueueEnqueueDoesNotBlockWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	q := NewQueue("tiny", func(ctx context.Context, job Job) error {
		started <- struct{}{}
		<-release
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())
	defer q.Stop()
	defer close(release)

	require.NoError(t, q.Enqueue(Job{Type: "a"}))
	<-started
	require.NoError(t, q.Enqueue(Job{Type: "b"}))

	done := make(chan error, 1)
	go func() { done <- q.Enqueue(Job{Type: "c"}) }()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrFull)
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full buffer")
	}
}

func TestQueueRetriesWithBackoff(t *testing.T) {
	var attempts int32
	q := NewQueue("flaky", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{MaxRetries: 3, RetryDelay: time.Millisecond, Logger: zap.NewNop()})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "j1", Type: "deliver"}))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&attempts) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 4*time.Millisecond, q.backoff(3))
}
