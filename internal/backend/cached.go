package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sandeepkv93/remindd/internal/model"
	"github.com/sandeepkv93/remindd/internal/storage"
)

var ErrNoCache = errors.New("backend: upstream unavailable and no cached reminders")

type Lister interface {
	ListReminders(ctx context.Context) ([]model.Reminder, error)
}

// Cache is the storage surface behind CachedSource.
type Cache interface {
	ReplaceReminders(ctx context.Context, in []model.Reminder, cachedAt time.Time) error
	ListReminders(ctx context.Context, filter storage.ReminderListFilter) ([]model.Reminder, error)
	CachedAt(ctx context.Context) (time.Time, error)
}

// CachedSource reads through to the upstream list and falls back to the last
// stored copy when the upstream fails.
type CachedSource struct {
	upstream Lister
	cache    Cache
	now      func() time.Time
	logger   *zap.Logger
}

func NewCachedSource(upstream Lister, cache Cache, now func() time.Time, logger *zap.Logger) *CachedSource {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedSource{upstream: upstream, cache: cache, now: now, logger: logger}
}

func (s *CachedSource) ListReminders(ctx context.Context) ([]model.Reminder, error) {
	fresh, err := s.upstream.ListReminders(ctx)
	if err == nil {
		if cacheErr := s.cache.ReplaceReminders(ctx, fresh, s.now()); cacheErr != nil {
			s.logger.Warn("caching reminders failed", zap.Error(cacheErr))
		}
		return fresh, nil
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) && (statusErr.Code == http.StatusUnauthorized || statusErr.Code == http.StatusForbidden) {
		return nil, err
	}
	cachedAt, cacheErr := s.cache.CachedAt(ctx)
	if cacheErr != nil {
		if errors.Is(cacheErr, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrNoCache, err)
		}
		return nil, errors.Join(err, cacheErr)
	}
	stale, cacheErr := s.cache.ListReminders(ctx, storage.ReminderListFilter{Status: string(model.StatusPending)})
	if cacheErr != nil {
		return nil, errors.Join(err, cacheErr)
	}
	s.logger.Warn("backend unavailable, using cached reminders",
		zap.Error(err),
		zap.Time("cached_at", cachedAt),
		zap.Int("count", len(stale)),
	)
	return stale, nil
}
