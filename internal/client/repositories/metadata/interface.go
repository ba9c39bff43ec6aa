package metadata

import (
	"context"
)

// Repository is a key/value store for sync state and counters.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// List returns every entry whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string][]byte, error)

	// Increment adds delta to the integer stored under key (missing keys
	// count as zero) and returns the new value.
	Increment(ctx context.Context, key string, delta int64) (int64, error)
}
