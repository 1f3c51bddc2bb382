// Package lock provides keyed mutual exclusion for registration resources.
//
// Callers acquire every key an operation touches in a single Acquire call.
// Keys are sorted and de-duplicated before acquisition so any two operations
// sharing keys take them in the same global order.
package lock

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrTimeout is returned when keys could not be acquired before the context deadline.
var ErrTimeout = errors.New("lock: acquire timed out")

// Release frees every key held by a successful Acquire. It is safe to call more than once.
type Release func()

// Locker acquires a set of keys atomically from the caller's perspective.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (Release, error)
}

// SectionKey names the serialization key for a course section.
func SectionKey(sectionID string) string { return "section:" + sectionID }

// StudentKey names the serialization key for a student.
func StudentKey(studentID string) string { return "student:" + studentID }

// Normalize sorts and de-duplicates keys, dropping empty ones.
func Normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

type slot struct {
	sem  chan struct{}
	refs int
}

// Local is an in-process Locker. Each key owns a one-token semaphore that is
// created on first use and discarded once no goroutine references it.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// NewLocal constructs an in-process locker.
func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// Acquire blocks until all keys are held or ctx is done.
func (l *Local) Acquire(ctx context.Context, keys ...string) (Release, error) {
	keys = Normalize(keys)
	held := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := l.acquireOne(ctx, key); err != nil {
			l.releaseAll(held)
			return nil, err
		}
		held = append(held, key)
	}
	var once sync.Once
	return func() { once.Do(func() { l.releaseAll(held) }) }, nil
}

func (l *Local) acquireOne(ctx context.Context, key string) error {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.unref(key, s)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
}

func (l *Local) releaseAll(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		l.mu.Lock()
		s := l.slots[keys[i]]
		l.mu.Unlock()
		if s == nil {
			continue
		}
		<-s.sem
		l.unref(keys[i], s)
	}
}

func (l *Local) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// Size reports how many keys currently have waiters or holders.
func (l *Local) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
