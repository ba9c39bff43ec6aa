package models

import "time"

// CacheEntry is the metadata row of one cached blob.
type CacheEntry struct {
	EntityType     string
	EntityID       string
	CacheKey       string
	SizeBytes      int64
	LastAccessedAt time.Time
	ExpiresAt      time.Time
	AccessCount    int64
	CreatedAt      time.Time
}

// CacheKey builds the blob key for an entity.
func CacheKey(entityType, entityID string) string {
	return entityType + "/" + entityID
}

// CacheUsage aggregates cache rows of one entity type.
type CacheUsage struct {
	EntityType string
	Items      int64
	SizeBytes  int64
}
