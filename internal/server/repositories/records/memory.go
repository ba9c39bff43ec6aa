package records

import (
	"context"
	"slices"
	"sync"

	"github.com/dmitrijs2005/famsync/internal/common"
	"github.com/dmitrijs2005/famsync/internal/server/models"
)

type recordKey struct {
	userID, entityType, entityID string
}

// MemoryRepository keeps records in a map. It is safe for concurrent use.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[recordKey]models.Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[recordKey]models.Record)}
}

func (r *MemoryRepository) Get(_ context.Context, userID, entityType, entityID string) (*models.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[recordKey{userID, entityType, entityID}]
	if !ok {
		return nil, common.ErrorNotFound
	}
	rec.Data = slices.Clone(rec.Data)
	return &rec, nil
}

func (r *MemoryRepository) Insert(_ context.Context, rec *models.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := recordKey{rec.UserID, rec.EntityType, rec.EntityID}
	if _, ok := r.records[k]; ok {
		return common.ErrVersionConflict
	}
	r.store(k, rec)
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, rec *models.Record, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := recordKey{rec.UserID, rec.EntityType, rec.EntityID}
	cur, ok := r.records[k]
	if !ok || cur.Version != expectedVersion {
		return common.ErrVersionConflict
	}
	r.store(k, rec)
	return nil
}

func (r *MemoryRepository) Count(_ context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for k, rec := range r.records {
		if k.userID == userID && !rec.Deleted {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) store(k recordKey, rec *models.Record) {
	cp := *rec
	cp.Data = slices.Clone(rec.Data)
	r.records[k] = cp
}
