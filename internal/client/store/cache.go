package store

import (
	"context"
	"time"

	"github.com/dmitrijs2005/famsync/internal/client/models"
	cacherepo "github.com/dmitrijs2005/famsync/internal/client/repositories/cache"
)

func (s *Store) UpsertCacheEntry(ctx context.Context, e *models.CacheEntry) error {
	return s.direct().cache.Upsert(ctx, e)
}

func (s *Store) GetCacheEntry(ctx context.Context, key string) (*models.CacheEntry, error) {
	return s.direct().cache.Get(ctx, key)
}

// RecordCacheHit bumps the access time and counter of an entry.
func (s *Store) RecordCacheHit(ctx context.Context, key string, at time.Time) error {
	return s.direct().cache.Touch(ctx, key, at)
}

// RecordCacheMiss bumps the per-type miss counter.
func (s *Store) RecordCacheMiss(ctx context.Context, entityType string) error {
	_, err := s.direct().meta.Increment(ctx, cacheMissPrefix+entityType, 1)
	return err
}

func (s *Store) RemoveCacheEntry(ctx context.Context, key string) (bool, error) {
	return s.direct().cache.Delete(ctx, key)
}

func (s *Store) InvalidateCacheType(ctx context.Context, entityType string) ([]string, error) {
	return s.direct().cache.DeleteByType(ctx, entityType)
}

// InvalidateCachePattern removes entries whose key matches glob.
func (s *Store) InvalidateCachePattern(ctx context.Context, glob string) ([]string, error) {
	return s.direct().cache.DeleteByPattern(ctx, glob)
}

func (s *Store) CacheUsage(ctx context.Context) ([]models.CacheUsage, error) {
	return s.direct().cache.Usage(ctx)
}

// CacheTx runs fn against the cache metadata table inside one transaction.
func (s *Store) CacheTx(ctx context.Context, fn func(r cacherepo.Repository) error) error {
	return s.tx(ctx, func(r repos) error {
		return fn(r.cache)
	})
}
