package records

import (
	"context"

	"github.com/dmitrijs2005/famsync/internal/server/models"
)

// Repository stores authority records. Writes are optimistic: Insert fails
// when the record already exists and Update fails when the stored version
// moved, both with common.ErrVersionConflict.
type Repository interface {
	Get(ctx context.Context, userID, entityType, entityID string) (*models.Record, error)
	Insert(ctx context.Context, rec *models.Record) error
	Update(ctx context.Context, rec *models.Record, expectedVersion int64) error
	Count(ctx context.Context, userID string) (int, error)
}
