package conflicts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/famsync/internal/client/models"
)

// Repository is the append-mostly audit log of conflicts. Rows are never
// deleted.
type Repository interface {
	Insert(ctx context.Context, c *models.ConflictRecord) error
	MarkResolved(ctx context.Context, id string, resolved []byte, strategy models.Strategy, at time.Time) error
	ListUnresolved(ctx context.Context) ([]models.ConflictRecord, error)
	List(ctx context.Context, limit int) ([]models.ConflictRecord, error)
}
