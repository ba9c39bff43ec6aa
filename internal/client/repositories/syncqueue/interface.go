package syncqueue

import (
	"context"
	"time"

	"github.com/dmitrijs2005/famsync/internal/client/models"
)

// Repository persists sync queue rows. It knows nothing about folding or
// retry policy; those live in the store and the processor.
type Repository interface {
	Insert(ctx context.Context, op *models.Operation) error
	Update(ctx context.Context, op *models.Operation) error
	Delete(ctx context.Context, id string) error

	Get(ctx context.Context, id string) (*models.Operation, error)
	// GetActive returns the pending or syncing row of an entity.
	GetActive(ctx context.Context, entityType models.EntityType, entityID string) (*models.Operation, error)

	// ListEligible returns pending rows due at now, highest priority first,
	// then oldest first.
	ListEligible(ctx context.Context, now time.Time, limit int) ([]models.Operation, error)
	ListByStatus(ctx context.Context, statuses ...models.OperationStatus) ([]models.Operation, error)
	CountByStatus(ctx context.Context) (map[models.OperationStatus]int64, error)

	// ReclaimStale moves syncing rows last touched at or before cutoff back to
	// pending.
	ReclaimStale(ctx context.Context, cutoff, now time.Time) (int64, error)
	RemapEntity(ctx context.Context, entityType models.EntityType, oldID, newID string) error
}
