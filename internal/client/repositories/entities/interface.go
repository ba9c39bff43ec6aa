package entities

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/famsync/internal/client/models"
)

// SyncState is what a remote acknowledgement writes back onto an entity.
type SyncState struct {
	Version  int64
	Dirty    bool
	Base     json.RawMessage
	SyncedAt time.Time
}

type Repository interface {
	Insert(ctx context.Context, e *models.Entity) error
	Update(ctx context.Context, e *models.Entity) error
	Upsert(ctx context.Context, e *models.Entity) error

	// Get looks up an entity by id, falling back to its local id.
	Get(ctx context.Context, entityType models.EntityType, id string) (*models.Entity, error)
	Query(ctx context.Context, entityType models.EntityType, f models.Filter, order models.Order, limit, offset int) ([]models.Entity, error)

	MarkDirty(ctx context.Context, entityType models.EntityType, id string) error

	// MarkSynced records a successful sync at version. It reports whether
	// anything changed; repeating the call with the same version is a no-op.
	MarkSynced(ctx context.Context, entityType models.EntityType, id string, version int64, at time.Time) (bool, error)
	SetSyncState(ctx context.Context, entityType models.EntityType, id string, s SyncState) error

	// Remap replaces the id of an entity, keeping its local id.
	Remap(ctx context.Context, entityType models.EntityType, oldID, newID string) error
	Delete(ctx context.Context, entityType models.EntityType, id string) error

	// PurgeTombstones deletes synced tombstones updated before olderThan that
	// have no active queue row.
	PurgeTombstones(ctx context.Context, olderThan time.Time) (int64, error)
	CountDirty(ctx context.Context) (int64, error)
}
