// Package services contains the application services of the famsync client.
//
// EntityService is the write path used by the host application: every
// mutation updates the local entity and enqueues its sync operation in one
// transaction, so the UI never waits on the network. AuthService keeps the
// device identity and the authority access token in local metadata.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/famsync/internal/client/cache"
	"github.com/dmitrijs2005/famsync/internal/client/models"
	"github.com/dmitrijs2005/famsync/internal/common"
	"github.com/dmitrijs2005/famsync/internal/logging"
)

// EntityStore is the part of the local store the entity service writes to.
type EntityStore interface {
	Get(ctx context.Context, entityType models.EntityType, id string) (*models.Entity, error)
	Query(ctx context.Context, entityType models.EntityType, f models.Filter, order models.Order, limit, offset int) ([]models.Entity, error)
	SaveAndEnqueue(ctx context.Context, e *models.Entity, op models.Operation) (*models.Operation, error)
	MutateAndEnqueue(ctx context.Context, entityType models.EntityType, id string, fn func(e *models.Entity) (models.Operation, error)) (*models.Entity, *models.Operation, error)
}

// Cache is the read-through payload cache.
type Cache interface {
	AddToCache(ctx context.Context, entityType, entityID string, data []byte) error
	Get(ctx context.Context, entityType, entityID string) ([]byte, bool, error)
	RemoveFromCache(ctx context.Context, entityType, entityID string) error
}

// ListOptions narrows List. Zero values list every live entity, newest
// first.
type ListOptions struct {
	Dirty          *bool
	IncludeDeleted bool
	Limit          int
	Offset         int
}

type EntityService struct {
	store    EntityStore
	cache    Cache
	deviceID string
	log      logging.Logger
}

type EntityOption func(*EntityService)

func WithCache(c Cache) EntityOption {
	return func(s *EntityService) { s.cache = c }
}

func WithDeviceID(id string) EntityOption {
	return func(s *EntityService) { s.deviceID = id }
}

func WithLogger(l logging.Logger) EntityOption {
	return func(s *EntityService) { s.log = l }
}

func NewEntityService(st EntityStore, opts ...EntityOption) *EntityService {
	s := &EntityService{store: st, log: logging.Nop()}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("module", "entity_service")
	return s
}

// validate checks that payload is a JSON object decoding into the typed
// payload of t.
func validate(t models.EntityType, payload json.RawMessage) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", common.ErrUnknownEntityType, t)
	}
	if !models.IsJSONObject(payload) {
		return fmt.Errorf("%w: payload must be a JSON object", common.ErrValidation)
	}
	_, err := models.DecodePayload(t, payload)
	return err
}

// Create stores a new entity and enqueues its create operation. An empty id
// gets a generated one. Creating over a tombstone revives the entity.
func (s *EntityService) Create(ctx context.Context, t models.EntityType, id string, payload json.RawMessage) (*models.Entity, error) {
	if err := validate(t, payload); err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
	}

	e := &models.Entity{ID: id, Type: t, DeviceID: s.deviceID, Payload: payload}

	existing, err := s.store.Get(ctx, t, id)
	switch {
	case errors.Is(err, common.ErrorNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to load entity: %w", err)
	case !existing.IsDeleted:
		return nil, fmt.Errorf("%w: %s %s already exists", common.ErrValidation, t, id)
	default:
		e.LocalID = existing.LocalID
		e.SyncVersion = existing.SyncVersion
		e.BasePayload = existing.BasePayload
	}

	_, err = s.store.SaveAndEnqueue(ctx, e, models.Operation{
		Type:     models.OpCreate,
		Payload:  payload,
		DeviceID: s.deviceID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save entity: %w", err)
	}

	s.log.Debug(ctx, "entity created", "type", t, "id", id)
	s.cachePut(ctx, e)
	return e, nil
}

// Update merges patch into the entity's top-level fields and enqueues the
// patch as an update.
func (s *EntityService) Update(ctx context.Context, t models.EntityType, id string, patch json.RawMessage) (*models.Entity, error) {
	if !models.IsJSONObject(patch) {
		return nil, fmt.Errorf("%w: patch must be a JSON object", common.ErrValidation)
	}

	e, _, err := s.store.MutateAndEnqueue(ctx, t, id, func(e *models.Entity) (models.Operation, error) {
		if e.IsDeleted {
			return models.Operation{}, fmt.Errorf("%w: %s/%s", common.ErrEntityDeleted, t, id)
		}
		merged, err := models.MergeObjects(e.Payload, patch)
		if err != nil {
			return models.Operation{}, fmt.Errorf("failed to merge patch: %w", err)
		}
		if err := validate(t, merged); err != nil {
			return models.Operation{}, err
		}
		e.Payload = merged
		return models.Operation{Type: models.OpUpdate, Payload: patch, DeviceID: s.deviceID}, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug(ctx, "entity updated", "type", t, "id", e.ID)
	s.cachePut(ctx, e)
	return e, nil
}

// Delete tombstones the entity and enqueues a delete. Deleting a tombstone
// is a no-op.
func (s *EntityService) Delete(ctx context.Context, t models.EntityType, id string) error {
	e, err := s.store.Get(ctx, t, id)
	if err != nil {
		return err
	}
	if e.IsDeleted {
		return nil
	}

	_, _, err = s.store.MutateAndEnqueue(ctx, t, id, func(e *models.Entity) (models.Operation, error) {
		e.IsDeleted = true
		return models.Operation{Type: models.OpDelete, DeviceID: s.deviceID}, nil
	})
	if err != nil {
		return err
	}

	s.log.Debug(ctx, "entity deleted", "type", t, "id", id)
	if s.cache != nil {
		if err := s.cache.RemoveFromCache(ctx, cache.TypeFor(t), e.ID); err != nil {
			s.log.Warn(ctx, "failed to drop cached payload", "id", e.ID, "error", err)
		}
	}
	return nil
}

// Get returns a live entity. Tombstones are reported as not found.
func (s *EntityService) Get(ctx context.Context, t models.EntityType, id string) (*models.Entity, error) {
	e, err := s.store.Get(ctx, t, id)
	if err != nil {
		return nil, err
	}
	if e.IsDeleted {
		return nil, fmt.Errorf("%w: %s/%s", common.ErrorNotFound, t, id)
	}
	return e, nil
}

// Payload returns the payload of a live entity, served from the cache when
// present.
func (s *EntityService) Payload(ctx context.Context, t models.EntityType, id string) (json.RawMessage, error) {
	if s.cache != nil {
		data, ok, err := s.cache.Get(ctx, cache.TypeFor(t), id)
		if err != nil {
			s.log.Warn(ctx, "cache read failed", "id", id, "error", err)
		} else if ok {
			return data, nil
		}
	}

	e, err := s.Get(ctx, t, id)
	if err != nil {
		return nil, err
	}
	s.cachePut(ctx, e)
	return e.Payload, nil
}

func (s *EntityService) List(ctx context.Context, t models.EntityType, opts ListOptions) ([]models.Entity, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", common.ErrUnknownEntityType, t)
	}
	f := models.Filter{Dirty: opts.Dirty, IncludeDeleted: opts.IncludeDeleted}
	return s.store.Query(ctx, t, f, models.OrderUpdatedAtDesc, opts.Limit, opts.Offset)
}

func (s *EntityService) cachePut(ctx context.Context, e *models.Entity) {
	if s.cache == nil || len(e.Payload) == 0 {
		return
	}
	if err := s.cache.AddToCache(ctx, cache.TypeFor(e.Type), e.ID, e.Payload); err != nil {
		s.log.Warn(ctx, "failed to cache payload", "id", e.ID, "error", err)
	}
}
