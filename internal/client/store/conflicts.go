package store

import (
	"context"

	"github.com/dmitrijs2005/famsync/internal/client/models"
)

// LogConflict appends a conflict record to the audit log.
func (s *Store) LogConflict(ctx context.Context, c *models.ConflictRecord) error {
	if c.ID == "" {
		c.ID = s.newID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.clock()
	}
	return s.direct().conflicts.Insert(ctx, c)
}

func (s *Store) GetUnresolvedConflicts(ctx context.Context) ([]models.ConflictRecord, error) {
	return s.direct().conflicts.ListUnresolved(ctx)
}

// ListConflicts returns the newest limit records; limit <= 0 returns all.
func (s *Store) ListConflicts(ctx context.Context, limit int) ([]models.ConflictRecord, error) {
	return s.direct().conflicts.List(ctx, limit)
}
