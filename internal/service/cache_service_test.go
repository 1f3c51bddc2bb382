package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

type fakeCacheRepo struct {
	mu       sync.Mutex
	values   map[string][]byte
	versions map[string]int64
	calls    int

	// beforeSet runs once, outside the lock, ahead of the first conditional write.
	beforeSet     func()
	invalidateErr []error
}

func newFakeCacheRepo() *fakeCacheRepo {
	return &fakeCacheRepo{values: map[string][]byte{}, versions: map[string]int64{}}
}

func (r *fakeCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	raw, ok := r.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (r *fakeCacheRepo) Version(_ context.Context, versionKey string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.versions[versionKey], nil
}

func (r *fakeCacheRepo) SetIfVersion(_ context.Context, key string, value interface{}, _ time.Duration, versionKey string, version int64) (bool, error) {
	if hook := r.beforeSet; hook != nil {
		r.beforeSet = nil
		hook()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.versions[versionKey] != version {
		return false, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	r.values[key] = raw
	return true, nil
}

func (r *fakeCacheRepo) Invalidate(ctx context.Context, keys []string, versionKeys []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.invalidateErr = append(r.invalidateErr, ctx.Err())
	for _, vk := range versionKeys {
		r.versions[vk]++
	}
	for _, k := range keys {
		delete(r.values, k)
	}
	return nil
}

func (r *fakeCacheRepo) has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.values[key]
	return ok
}

func TestCacheServiceHitMissAndInvalidate(t *testing.T) {
	ctx := context.Background()
	repo := newFakeCacheRepo()
	cache := NewCacheService(repo, NewMetricsService(), time.Minute, nil, true)

	var got models.SectionState
	assert.False(t, cache.Get(ctx, SectionStateKey("A"), &got))

	version, ok := cache.SectionVersion(ctx, "A")
	require.True(t, ok)
	cache.SetSection(ctx, "A", models.SectionState{Status: models.SectionStatusOpen}, version)
	require.True(t, cache.Get(ctx, SectionStateKey("A"), &got))
	assert.Equal(t, models.SectionStatusOpen, got.Status)

	cache.InvalidateSections(ctx, "A")
	assert.False(t, cache.Get(ctx, SectionStateKey("A"), &got))

	// A view loaded before the invalidation is refused.
	cache.SetSection(ctx, "A", models.SectionState{Status: models.SectionStatusFull}, version)
	assert.False(t, repo.has(SectionStateKey("A")))
}

func TestCacheServiceDisabledIsNoop(t *testing.T) {
	ctx := context.Background()
	repo := newFakeCacheRepo()
	cache := NewCacheService(repo, nil, 0, nil, false)

	var got models.SectionState
	assert.False(t, cache.Get(ctx, SectionStateKey("A"), &got))
	_, ok := cache.SectionVersion(ctx, "A")
	assert.False(t, ok)
	cache.SetSection(ctx, "A", got, 0)
	cache.InvalidateSections(ctx, "A")
	assert.Zero(t, repo.calls)

	var nilCache *CacheService
	assert.False(t, nilCache.Enabled())
	nilCache.InvalidateSections(ctx, "A")
}

func TestCacheInvalidationIgnoresCancelledRequest(t *testing.T) {
	repo := newFakeCacheRepo()
	cache := NewCacheService(repo, nil, time.Minute, nil, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cache.InvalidateSections(ctx, "A", "B")

	require.Len(t, repo.invalidateErr, 1)
	assert.NoError(t, repo.invalidateErr[0])
	assert.Equal(t, int64(1), repo.versions[sectionVersionKey("A")])
	assert.Equal(t, int64(1), repo.versions[sectionVersionKey("B")])
}

func TestSectionStateCacheDropsViewLoadedBeforeRegister(t *testing.T) {
	repo := newFakeCacheRepo()
	cache := NewCacheService(repo, nil, time.Minute, nil, true)
	f := newFixture(t, func(cfg *RegistrationServiceConfig) { cfg.Cache = cache })
	f.addSection(t, "A", 2, 3)

	// The reader has loaded the store; a registration commits before it writes back.
	repo.beforeSet = func() { f.register(t, "s1", "A", OutcomeEnrolled) }
	first, err := f.svc.GetSectionState(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 0, first.Section.EnrolledCount)
	assert.False(t, repo.has(SectionStateKey("A")))

	second, err := f.svc.GetSectionState(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 1, second.Section.EnrolledCount)

	cached, err := f.svc.GetSectionState(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, 1, cached.Section.EnrolledCount)
	assert.True(t, repo.has(SectionStateKey("A")))
}
