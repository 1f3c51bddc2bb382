package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

const (
	sectionStateKeyPrefix   = "registrar:section_state:"
	sectionVersionKeyPrefix = "registrar:section_version:"
	invalidateTimeout       = 2 * time.Second
)

// CacheRepository abstracts persistence for versioned cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Version(ctx context.Context, versionKey string) (int64, error)
	SetIfVersion(ctx context.Context, key string, value interface{}, ttl time.Duration, versionKey string, version int64) (bool, error)
	Invalidate(ctx context.Context, keys []string, versionKeys []string) error
}

// CacheService holds short-lived section-state read views. It never backs a
// mutation decision; all methods are no-ops when disabled or nil.
//
// Every section carries a version that each invalidation bumps. A reader
// records the version before loading the store and writes back only if it is
// unchanged, so a load that raced a mutation is never cached.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// SectionStateKey is the cache key for a section's read view.
func SectionStateKey(sectionID string) string {
	return sectionStateKeyPrefix + sectionID
}

func sectionVersionKey(sectionID string) string {
	return sectionVersionKeyPrefix + sectionID
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get attempts to retrieve a cached entry. It returns true on a hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) bool {
	if !s.Enabled() {
		return false
	}
	err := s.repo.Get(ctx, key, dest)
	s.metrics.RecordCacheOperation(err == nil)
	if err != nil && !errors.Is(err, appErrors.ErrCacheMiss) {
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	}
	return err == nil
}

// SectionVersion reads the section's version ahead of a store load. ok is
// false when the value must not be written back.
func (s *CacheService) SectionVersion(ctx context.Context, sectionID string) (version int64, ok bool) {
	if !s.Enabled() {
		return 0, false
	}
	version, err := s.repo.Version(ctx, sectionVersionKey(sectionID))
	if err != nil {
		s.logger.Warn("cache version read failed", zap.String("section_id", sectionID), zap.Error(err))
		return 0, false
	}
	return version, true
}

// SetSection stores a section view loaded at version. Failures are logged only.
func (s *CacheService) SetSection(ctx context.Context, sectionID string, value interface{}, version int64) {
	if !s.Enabled() {
		return
	}
	written, err := s.repo.SetIfVersion(ctx, SectionStateKey(sectionID), value, s.defaultTTL, sectionVersionKey(sectionID), version)
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("section_id", sectionID), zap.Error(err))
		return
	}
	if !written {
		s.logger.Debug("stale section view discarded", zap.String("section_id", sectionID), zap.Int64("version", version))
	}
}

// InvalidateSections bumps the versions and drops the read views of the given
// sections. It runs after a commit and outlives the caller's cancellation.
func (s *CacheService) InvalidateSections(ctx context.Context, sectionIDs ...string) {
	if !s.Enabled() || len(sectionIDs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()

	keys := make([]string, len(sectionIDs))
	versions := make([]string, len(sectionIDs))
	for i, id := range sectionIDs {
		keys[i] = SectionStateKey(id)
		versions[i] = sectionVersionKey(id)
	}
	if err := s.repo.Invalidate(ctx, keys, versions); err != nil {
		s.logger.Warn("cache invalidate failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
