package store

import (
	"fmt"

	"github.com/dmitrijs2005/famsync/internal/client/models"
	"github.com/dmitrijs2005/famsync/internal/common"
)

type foldOutcome int

const (
	foldUpdated foldOutcome = iota
	foldRemoved
	foldUnchanged
)

// fold combines a newer mutation into the active queue row of the same
// entity. The queue position (CreatedAt) of the existing row is kept.
func fold(existing, next models.Operation) (models.Operation, foldOutcome, error) {
	out := existing

	switch existing.Type {
	case models.OpCreate:
		switch next.Type {
		case models.OpCreate, models.OpUpdate:
			if err := mergeInto(&out, next); err != nil {
				return out, foldUpdated, err
			}
		case models.OpDelete:
			if existing.Status == models.StatusPending {
				return out, foldRemoved, nil
			}
			out.Type = models.OpDelete
			out.Payload = next.Payload
		}

	case models.OpUpdate:
		switch next.Type {
		case models.OpCreate, models.OpUpdate:
			if err := mergeInto(&out, next); err != nil {
				return out, foldUpdated, err
			}
		case models.OpDelete:
			out.Type = models.OpDelete
			out.Payload = next.Payload
		}

	case models.OpDelete:
		switch next.Type {
		case models.OpCreate:
			out.Type = models.OpUpdate
			out.Payload = next.Payload
		case models.OpUpdate:
			return out, foldUnchanged, fmt.Errorf("%w: %s/%s", common.ErrEntityDeleted, existing.EntityType, existing.EntityID)
		case models.OpDelete:
			return out, foldUnchanged, nil
		}

	default:
		return out, foldUnchanged, fmt.Errorf("%w: unknown operation type %q", common.ErrValidation, existing.Type)
	}

	if next.Priority > out.Priority {
		out.Priority = next.Priority
	}
	if next.DeviceID != "" {
		out.DeviceID = next.DeviceID
	}
	out.UpdatedAt = next.UpdatedAt
	out.Revision++
	return out, foldUpdated, nil
}

func mergeInto(op *models.Operation, next models.Operation) error {
	merged, err := models.MergeObjects(op.Payload, next.Payload)
	if err != nil {
		return fmt.Errorf("merge payload: %w", err)
	}
	op.Payload = merged
	return nil
}
