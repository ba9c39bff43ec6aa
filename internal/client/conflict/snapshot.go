package conflict

import (
	"fmt"

	"github.com/dmitrijs2005/famsync/internal/client/models"
)

// FromEntity builds the local snapshot of a stored entity.
func FromEntity(e *models.Entity) (Snapshot, error) {
	data, err := models.DecodePayload(e.Type, e.Payload)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode local payload: %w", err)
	}
	return Snapshot{
		Version:   e.SyncVersion,
		UpdatedAt: e.UpdatedAt,
		DeviceID:  e.DeviceID,
		Deleted:   e.IsDeleted,
		Data:      data,
	}, nil
}

// BaseOf returns the last synced ancestor of e, or nil if it was never synced.
func BaseOf(e *models.Entity) (*Snapshot, error) {
	if len(e.BasePayload) == 0 {
		return nil, nil
	}
	data, err := models.DecodePayload(e.Type, e.BasePayload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base payload: %w", err)
	}
	return &Snapshot{Version: e.SyncVersion, Data: data}, nil
}

// FromRemote builds the remote snapshot reported with a conflict.
func FromRemote(t models.EntityType, rc *models.RemoteConflict) (Snapshot, error) {
	data, err := models.DecodePayload(t, rc.Data)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode remote payload: %w", err)
	}
	return Snapshot{
		Version:   rc.RemoteVersion,
		UpdatedAt: rc.UpdatedAt,
		DeviceID:  rc.DeviceID,
		Deleted:   rc.Deleted,
		Data:      data,
	}, nil
}
