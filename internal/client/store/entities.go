package store

import (
	"context"
	"time"

	"github.com/dmitrijs2005/famsync/internal/client/models"
)

func (s *Store) Insert(ctx context.Context, e *models.Entity) error {
	s.defaults(e)
	return s.direct().entities.Insert(ctx, e)
}

func (s *Store) Update(ctx context.Context, e *models.Entity) error {
	s.defaults(e)
	return s.direct().entities.Update(ctx, e)
}

func (s *Store) Upsert(ctx context.Context, e *models.Entity) error {
	s.defaults(e)
	return s.direct().entities.Upsert(ctx, e)
}

func (s *Store) defaults(e *models.Entity) {
	if e.LocalID == "" {
		e.LocalID = e.ID
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = s.clock()
	}
}

// Get returns an entity by id or local id.
func (s *Store) Get(ctx context.Context, entityType models.EntityType, id string) (*models.Entity, error) {
	return s.direct().entities.Get(ctx, entityType, id)
}

func (s *Store) Query(ctx context.Context, entityType models.EntityType, f models.Filter, order models.Order, limit, offset int) ([]models.Entity, error) {
	return s.direct().entities.Query(ctx, entityType, f, order, limit, offset)
}

func (s *Store) MarkDirty(ctx context.Context, entityType models.EntityType, id string) error {
	return s.direct().entities.MarkDirty(ctx, entityType, id)
}

// MarkSynced records that the entity matches the remote at newVersion.
// Calling it again with the same version changes nothing.
func (s *Store) MarkSynced(ctx context.Context, entityType models.EntityType, id string, newVersion int64) error {
	_, err := s.direct().entities.MarkSynced(ctx, entityType, id, newVersion, s.clock())
	return err
}

// PurgeTombstones physically deletes synced tombstones older than olderThan.
func (s *Store) PurgeTombstones(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := s.direct().entities.PurgeTombstones(ctx, s.clock().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info(ctx, "purged tombstones", "count", n)
	}
	return n, nil
}

func (s *Store) CountDirty(ctx context.Context) (int64, error) {
	return s.direct().entities.CountDirty(ctx)
}
