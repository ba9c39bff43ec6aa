package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/famsync/internal/client/models"
	"github.com/dmitrijs2005/famsync/internal/common"
)

// AddToSyncQueue enqueues op, folding it into the entity's active row when
// one exists. It returns the resulting row, or nil when the fold cancelled
// the pending work entirely (a create deleted before it was sent).
func (s *Store) AddToSyncQueue(ctx context.Context, op models.Operation) (*models.Operation, error) {
	if err := s.prepare(&op); err != nil {
		return nil, err
	}

	var result *models.Operation
	err := s.tx(ctx, func(r repos) error {
		var err error
		result, err = s.enqueue(ctx, r, op)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SaveAndEnqueue writes the entity (marked dirty) and enqueues op for it in
// one transaction.
func (s *Store) SaveAndEnqueue(ctx context.Context, e *models.Entity, op models.Operation) (*models.Operation, error) {
	op.EntityType = e.Type
	op.EntityID = e.ID
	if op.DeviceID == "" {
		op.DeviceID = e.DeviceID
	}
	if err := s.prepare(&op); err != nil {
		return nil, err
	}
	if e.LocalID == "" {
		e.LocalID = e.ID
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = op.CreatedAt
	}
	e.IsDirty = true

	var result *models.Operation
	err := s.tx(ctx, func(r repos) error {
		if err := r.entities.Upsert(ctx, e); err != nil {
			return err
		}

		var err error
		result, err = s.enqueue(ctx, r, op)
		if err != nil {
			return err
		}

		// a create that never left the device needs no tombstone
		if result == nil && op.Type == models.OpDelete && e.SyncVersion == 0 {
			return r.entities.Delete(ctx, e.Type, e.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MutateAndEnqueue loads an entity, lets fn change it and describe the
// operation, then writes the entity (marked dirty) and enqueues the
// operation in one transaction. A missing entity yields ErrorNotFound.
func (s *Store) MutateAndEnqueue(ctx context.Context, entityType models.EntityType, id string, fn func(e *models.Entity) (models.Operation, error)) (*models.Entity, *models.Operation, error) {
	var (
		entity *models.Entity
		result *models.Operation
	)
	err := s.tx(ctx, func(r repos) error {
		e, err := r.entities.Get(ctx, entityType, id)
		if err != nil {
			return err
		}
		op, err := fn(e)
		if err != nil {
			return err
		}
		op.EntityType = e.Type
		op.EntityID = e.ID
		if op.DeviceID == "" {
			op.DeviceID = e.DeviceID
		}
		if err := s.prepare(&op); err != nil {
			return err
		}
		e.UpdatedAt = op.CreatedAt
		e.IsDirty = true
		if err := r.entities.Upsert(ctx, e); err != nil {
			return err
		}

		result, err = s.enqueue(ctx, r, op)
		if err != nil {
			return err
		}
		if result == nil && op.Type == models.OpDelete && e.SyncVersion == 0 {
			if err := r.entities.Delete(ctx, e.Type, e.ID); err != nil {
				return err
			}
		}
		entity = e
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return entity, result, nil
}

func (s *Store) prepare(op *models.Operation) error {
	if !op.Type.Valid() {
		return fmt.Errorf("%w: operation type %q", common.ErrValidation, op.Type)
	}
	if !op.EntityType.Valid() {
		return fmt.Errorf("%w: %q", common.ErrUnknownEntityType, op.EntityType)
	}
	if op.EntityID == "" {
		return fmt.Errorf("%w: empty entity id", common.ErrValidation)
	}
	if len(op.Payload) > 0 && !json.Valid(op.Payload) {
		return fmt.Errorf("%w: payload is not valid JSON", common.ErrValidation)
	}

	now := s.clock()
	if op.ID == "" {
		op.ID = s.newID()
	}
	op.Status = models.StatusPending
	op.RetryCount = 0
	op.Revision = 0
	op.LastError = ""
	if op.CreatedAt.IsZero() {
		op.CreatedAt = now
	}
	op.UpdatedAt = now
	op.NextRetryAt = now
	return nil
}

func (s *Store) enqueue(ctx context.Context, r repos, op models.Operation) (*models.Operation, error) {
	existing, err := r.queue.GetActive(ctx, op.EntityType, op.EntityID)
	if errors.Is(err, common.ErrorNotFound) {
		if err := r.queue.Insert(ctx, &op); err != nil {
			return nil, err
		}
		return &op, nil
	}
	if err != nil {
		return nil, err
	}

	folded, outcome, err := fold(*existing, op)
	if err != nil {
		return nil, err
	}

	switch outcome {
	case foldRemoved:
		if err := r.queue.Delete(ctx, existing.ID); err != nil {
			return nil, err
		}
		s.log.Debug(ctx, "queued create cancelled by delete", "entity", op.EntityID)
		return nil, nil
	case foldUnchanged:
		return existing, nil
	}

	if err := r.queue.Update(ctx, &folded); err != nil {
		return nil, err
	}
	return &folded, nil
}

// GetPendingOperations returns up to limit pending rows that are due,
// ordered by priority desc, then creation time.
func (s *Store) GetPendingOperations(ctx context.Context, limit int) ([]models.Operation, error) {
	return s.direct().queue.ListEligible(ctx, s.clock(), limit)
}

func (s *Store) GetOperation(ctx context.Context, id string) (*models.Operation, error) {
	return s.direct().queue.Get(ctx, id)
}

// ListOperations lists queue rows with the given statuses, or all rows.
func (s *Store) ListOperations(ctx context.Context, statuses ...models.OperationStatus) ([]models.Operation, error) {
	return s.direct().queue.ListByStatus(ctx, statuses...)
}

func (s *Store) CountOperations(ctx context.Context) (map[models.OperationStatus]int64, error) {
	return s.direct().queue.CountByStatus(ctx)
}

// UpdateOperationStatus sets the status of a row. Completed rows are
// deleted.
func (s *Store) UpdateOperationStatus(ctx context.Context, id string, status models.OperationStatus) error {
	return s.tx(ctx, func(r repos) error {
		if status == models.StatusCompleted {
			return r.queue.Delete(ctx, id)
		}
		op, err := r.queue.Get(ctx, id)
		if err != nil {
			return err
		}
		op.Status = status
		op.UpdatedAt = s.clock()
		return r.queue.Update(ctx, op)
	})
}

// BeginSyncing moves a pending row to syncing and returns it. The returned
// Revision must be handed back on completion.
func (s *Store) BeginSyncing(ctx context.Context, id string) (*models.Operation, error) {
	var result *models.Operation
	err := s.tx(ctx, func(r repos) error {
		op, err := r.queue.Get(ctx, id)
		if err != nil {
			return err
		}
		if op.Status != models.StatusPending {
			return fmt.Errorf("%w: operation %s is %s", common.ErrSyncInProgress, id, op.Status)
		}
		op.Status = models.StatusSyncing
		op.UpdatedAt = s.clock()
		if err := r.queue.Update(ctx, op); err != nil {
			return err
		}
		result = op
		return nil
	})
	return result, err
}

// CompleteOperation removes a row after the remote accepted it. When a later
// mutation was folded in while the row was in flight, the row is requeued
// instead.
func (s *Store) CompleteOperation(ctx context.Context, id string, dispatchedRevision int64) error {
	return s.tx(ctx, func(r repos) error {
		return s.complete(ctx, r, id, dispatchedRevision)
	})
}

func (s *Store) complete(ctx context.Context, r repos, id string, dispatchedRevision int64) error {
	op, err := r.queue.Get(ctx, id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if op.Revision == dispatchedRevision {
		return r.queue.Delete(ctx, id)
	}
	if op.Type == models.OpCreate {
		op.Type = models.OpUpdate
	}
	s.requeue(op)
	return r.queue.Update(ctx, op)
}

func (s *Store) requeue(op *models.Operation) {
	now := s.clock()
	op.Status = models.StatusPending
	op.RetryCount = 0
	op.NextRetryAt = now
	op.UpdatedAt = now
	op.LastError = ""
}

// ScheduleRetry puts a row back to pending with the given retry state.
func (s *Store) ScheduleRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastErr string) error {
	return s.tx(ctx, func(r repos) error {
		op, err := r.queue.Get(ctx, id)
		if err != nil {
			return err
		}
		op.Status = models.StatusPending
		op.RetryCount = retryCount
		op.NextRetryAt = nextRetryAt.UTC()
		op.LastError = lastErr
		op.UpdatedAt = s.clock()
		return r.queue.Update(ctx, op)
	})
}

// FailOperation marks a row terminal (failed or conflict). It stays in the
// queue for manual retry.
func (s *Store) FailOperation(ctx context.Context, id string, status models.OperationStatus, lastErr string) error {
	if status != models.StatusFailed && status != models.StatusConflict {
		return fmt.Errorf("%w: %q is not a terminal status", common.ErrValidation, status)
	}
	return s.tx(ctx, func(r repos) error {
		op, err := r.queue.Get(ctx, id)
		if err != nil {
			return err
		}
		op.Status = status
		op.LastError = lastErr
		op.UpdatedAt = s.clock()
		return r.queue.Update(ctx, op)
	})
}

// RetryOperation re-arms a failed or conflict row. If the entity already has
// a newer pending row, the newer one is folded into the retried one so the
// older mutation still goes first. A newer row that is in flight cannot be
// folded and yields ErrSyncInProgress.
func (s *Store) RetryOperation(ctx context.Context, id string) (*models.Operation, error) {
	var result *models.Operation
	err := s.tx(ctx, func(r repos) error {
		op, err := r.queue.Get(ctx, id)
		if err != nil {
			return err
		}
		if op.Status != models.StatusFailed && op.Status != models.StatusConflict {
			return fmt.Errorf("%w: operation %s is %s", common.ErrValidation, id, op.Status)
		}

		s.requeue(op)

		active, err := r.queue.GetActive(ctx, op.EntityType, op.EntityID)
		switch {
		case errors.Is(err, common.ErrorNotFound):
			if err := r.queue.Update(ctx, op); err != nil {
				return err
			}
			result = op
			return nil
		case err != nil:
			return err
		case active.Status == models.StatusSyncing:
			return fmt.Errorf("%w: %s/%s", common.ErrSyncInProgress, op.EntityType, op.EntityID)
		}

		folded, outcome, err := fold(*op, *active)
		if err != nil {
			return err
		}
		if err := r.queue.Delete(ctx, active.ID); err != nil {
			return err
		}
		switch outcome {
		case foldRemoved:
			if err := r.queue.Delete(ctx, op.ID); err != nil {
				return err
			}
			return dropUnsynced(ctx, r, op.EntityType, op.EntityID)
		case foldUnchanged:
			folded = *op
		}
		if err := r.queue.Update(ctx, &folded); err != nil {
			return err
		}
		result = &folded
		return nil
	})
	return result, err
}

// ReclaimStale returns syncing rows untouched for at least olderThan to
// pending. Zero reclaims every syncing row, which is what startup wants: a
// process has one drain, so any syncing row it finds before its first drain
// was left by a previous process.
func (s *Store) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := s.clock()
	n, err := s.direct().queue.ReclaimStale(ctx, now.Add(-olderThan), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info(ctx, "reclaimed stale operations", "count", n)
	}
	return n, nil
}

func dropUnsynced(ctx context.Context, r repos, entityType models.EntityType, id string) error {
	e, err := r.entities.Get(ctx, entityType, id)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if e.SyncVersion > 0 {
		return nil
	}
	return r.entities.Delete(ctx, entityType, e.ID)
}
