package cache

import (
	"context"
	"time"

	"github.com/dmitrijs2005/famsync/internal/client/models"
)

// Repository describes the cache metadata table. Blob bytes live elsewhere;
// delete methods return the removed keys so the caller can drop the blobs.
type Repository interface {
	// Upsert inserts an entry or refreshes size, expiry and access time of an
	// existing one. AccessCount and CreatedAt of an existing row are kept.
	Upsert(ctx context.Context, e *models.CacheEntry) error
	Get(ctx context.Context, key string) (*models.CacheEntry, error)

	// Touch records one access.
	Touch(ctx context.Context, key string, at time.Time) error

	Delete(ctx context.Context, key string) (bool, error)
	DeleteKeys(ctx context.Context, keys []string) error
	DeleteByType(ctx context.Context, entityType string) ([]string, error)
	DeleteByPattern(ctx context.Context, glob string) ([]string, error)
	DeleteExpired(ctx context.Context, entityType string, now time.Time) ([]string, error)

	// ListLRU returns the entries of a type, least recently accessed first.
	ListLRU(ctx context.Context, entityType string) ([]models.CacheEntry, error)
	Usage(ctx context.Context) ([]models.CacheUsage, error)
	TypeUsage(ctx context.Context, entityType string) (models.CacheUsage, error)
}
