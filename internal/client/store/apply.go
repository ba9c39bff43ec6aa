package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dmitrijs2005/famsync/internal/client/models"
	"github.com/dmitrijs2005/famsync/internal/client/repositories/entities"
	"github.com/dmitrijs2005/famsync/internal/common"
)

// ApplySuccess commits a remote acknowledgement of op (as dispatched, with
// its revision): the entity id is remapped if the remote assigned a new
// one, the entity is marked synced, and the queue row is deleted or, when a
// mutation was folded in while in flight, requeued.
func (s *Store) ApplySuccess(ctx context.Context, op models.Operation, res models.RemoteResult) error {
	return s.tx(ctx, func(r repos) error {
		now := s.clock()
		entityID := op.EntityID

		if op.Type == models.OpCreate && res.EntityID != "" && res.EntityID != op.EntityID {
			err := r.entities.Remap(ctx, op.EntityType, op.EntityID, res.EntityID)
			if err != nil && !errors.Is(err, common.ErrorNotFound) {
				return err
			}
			if err := r.queue.RemapEntity(ctx, op.EntityType, op.EntityID, res.EntityID); err != nil {
				return err
			}
			entityID = res.EntityID
		}

		row, err := r.queue.Get(ctx, op.ID)
		if errors.Is(err, common.ErrorNotFound) {
			row = nil
		} else if err != nil {
			return err
		}
		moved := row != nil && row.Revision != op.Revision

		e, err := r.entities.Get(ctx, op.EntityType, entityID)
		switch {
		case errors.Is(err, common.ErrorNotFound):
		case err != nil:
			return err
		default:
			version := res.SyncVersion
			if version == 0 {
				version = e.SyncVersion + 1
			}
			if !moved {
				if _, err := r.entities.MarkSynced(ctx, op.EntityType, e.ID, version, now); err != nil {
					return err
				}
			} else {
				base := json.RawMessage(op.Payload)
				if op.Type != models.OpCreate {
					if base, err = models.MergeObjects(e.BasePayload, op.Payload); err != nil {
						return err
					}
				}
				if err := r.entities.SetSyncState(ctx, op.EntityType, e.ID, entities.SyncState{
					Version: version, Dirty: true, Base: base, SyncedAt: now,
				}); err != nil {
					return err
				}
			}
		}

		if row == nil {
			return nil
		}
		return s.complete(ctx, r, op.ID, op.Revision)
	})
}

// Resolution is a resolved conflict ready to be written back.
type Resolution struct {
	// Record is appended to the conflict log as is.
	Record models.ConflictRecord

	Payload   json.RawMessage
	Deleted   bool
	UpdatedAt time.Time

	RemoteVersion int64
	RemotePayload json.RawMessage
	RemoteDeleted bool

	// MatchesRemote means no follow-up write is needed.
	MatchesRemote bool
}

// ApplyResolution logs the conflict, writes the resolved entity and clears or
// requeues the queue row in one transaction. If the row picked up another
// local mutation since dispatch, the local payload is kept and the row is
// requeued against the new remote version instead.
func (s *Store) ApplyResolution(ctx context.Context, op models.Operation, res Resolution) error {
	return s.tx(ctx, func(r repos) error {
		now := s.clock()

		rec := res.Record
		if rec.ID == "" {
			rec.ID = s.newID()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		if rec.ResolvedAt == nil {
			rec.ResolvedAt = &now
		}
		if err := r.conflicts.Insert(ctx, &rec); err != nil {
			return err
		}

		row, err := r.queue.Get(ctx, op.ID)
		if errors.Is(err, common.ErrorNotFound) {
			row = nil
		} else if err != nil {
			return err
		}
		moved := row != nil && row.Revision != op.Revision

		e, err := r.entities.Get(ctx, op.EntityType, op.EntityID)
		if errors.Is(err, common.ErrorNotFound) {
			e = &models.Entity{ID: op.EntityID, LocalID: op.EntityID, Type: op.EntityType, DeviceID: op.DeviceID}
		} else if err != nil {
			return err
		}

		e.SyncVersion = res.RemoteVersion
		e.BasePayload = res.RemotePayload
		e.LastSyncedAt = &now
		if !moved {
			e.Payload = res.Payload
			e.IsDeleted = res.Deleted
			e.UpdatedAt = res.UpdatedAt
			e.IsDirty = !res.MatchesRemote
		} else {
			e.IsDirty = true
		}
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = now
		}
		if err := r.entities.Upsert(ctx, e); err != nil {
			return err
		}

		if row == nil {
			return nil
		}
		if !moved && res.MatchesRemote {
			return r.queue.Delete(ctx, row.ID)
		}

		row.Type = followUp(e.IsDeleted, res.RemoteDeleted)
		row.Payload = e.Payload
		if row.Type == models.OpDelete {
			row.Payload = nil
		}
		s.requeue(row)
		return r.queue.Update(ctx, row)
	})
}

func followUp(localDeleted, remoteDeleted bool) models.OperationType {
	switch {
	case localDeleted:
		return models.OpDelete
	case remoteDeleted:
		return models.OpCreate
	default:
		return models.OpUpdate
	}
}

// RecordUnresolved logs a conflict that could not be resolved and parks the
// queue row in the conflict state, in one transaction.
func (s *Store) RecordUnresolved(ctx context.Context, opID string, rec models.ConflictRecord, reason string) error {
	return s.tx(ctx, func(r repos) error {
		now := s.clock()
		if rec.ID == "" {
			rec.ID = s.newID()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
		rec.ResolvedAt = nil
		if err := r.conflicts.Insert(ctx, &rec); err != nil {
			return err
		}

		op, err := r.queue.Get(ctx, opID)
		if err != nil {
			return err
		}
		op.Status = models.StatusConflict
		op.LastError = reason
		op.UpdatedAt = now
		return r.queue.Update(ctx, op)
	})
}
