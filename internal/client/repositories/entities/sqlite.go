package entities

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/famsync/internal/client/models"
	"github.com/dmitrijs2005/famsync/internal/common"
	"github.com/dmitrijs2005/famsync/internal/dbx"
)

const columns = `entity_type, id, local_id, sync_version, is_dirty, is_deleted,
	updated_at, last_synced_at, device_id, payload, base_payload`

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Insert(ctx context.Context, e *models.Entity) error {
	query := `INSERT INTO entities (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, args(e)...); err != nil {
		return fmt.Errorf("failed to insert entity: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, e *models.Entity) error {
	query := `UPDATE entities SET local_id = ?, sync_version = ?, is_dirty = ?, is_deleted = ?,
		updated_at = ?, last_synced_at = ?, device_id = ?, payload = ?, base_payload = ?
		WHERE entity_type = ? AND id = ?`
	res, err := r.db.ExecContext(ctx, query,
		e.LocalID, e.SyncVersion, e.IsDirty, e.IsDeleted,
		e.UpdatedAt.UnixMilli(), nullMillis(e.LastSyncedAt), e.DeviceID, payloadBytes(e.Payload), nullBytes(e.BasePayload),
		string(e.Type), e.ID)
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}
	return expectOne(res)
}

// Upsert inserts an entity or overwrites every column of an existing one.
func (r *SQLiteRepository) Upsert(ctx context.Context, e *models.Entity) error {
	query := `INSERT INTO entities (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, id) DO UPDATE SET
			local_id = excluded.local_id,
			sync_version = excluded.sync_version,
			is_dirty = excluded.is_dirty,
			is_deleted = excluded.is_deleted,
			updated_at = excluded.updated_at,
			last_synced_at = excluded.last_synced_at,
			device_id = excluded.device_id,
			payload = excluded.payload,
			base_payload = excluded.base_payload`
	if _, err := r.db.ExecContext(ctx, query, args(e)...); err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, entityType models.EntityType, id string) (*models.Entity, error) {
	query := `SELECT ` + columns + ` FROM entities
		WHERE entity_type = ? AND (id = ? OR local_id = ?)
		ORDER BY id = ? DESC LIMIT 1`
	e, err := scan(r.db.QueryRowContext(ctx, query, string(entityType), id, id, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) Query(ctx context.Context, entityType models.EntityType, f models.Filter, order models.Order, limit, offset int) ([]models.Entity, error) {
	var (
		where  = []string{"entity_type = ?"}
		params = []any{string(entityType)}
	)

	if !f.IncludeDeleted {
		where = append(where, "is_deleted = 0")
	}
	if f.Dirty != nil {
		where = append(where, "is_dirty = ?")
		params = append(params, *f.Dirty)
	}
	if !f.UpdatedAfter.IsZero() {
		where = append(where, "updated_at > ?")
		params = append(params, f.UpdatedAfter.UnixMilli())
	}
	if len(f.IDs) > 0 {
		where = append(where, "id IN (?"+strings.Repeat(", ?", len(f.IDs)-1)+")")
		for _, id := range f.IDs {
			params = append(params, id)
		}
	}

	if limit <= 0 {
		limit = -1
	}
	params = append(params, limit, offset)

	query := `SELECT ` + columns + ` FROM entities WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY ` + orderBy(order) + ` LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var result []models.Entity
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) MarkDirty(ctx context.Context, entityType models.EntityType, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE entities SET is_dirty = 1 WHERE entity_type = ? AND id = ?`,
		string(entityType), id)
	if err != nil {
		return fmt.Errorf("failed to mark entity dirty: %w", err)
	}
	return expectOne(res)
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, entityType models.EntityType, id string, version int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE entities
		SET sync_version = ?, is_dirty = 0, base_payload = payload, last_synced_at = ?
		WHERE entity_type = ? AND id = ? AND NOT (sync_version = ? AND is_dirty = 0)`,
		version, at.UnixMilli(), string(entityType), id, version)
	if err != nil {
		return false, fmt.Errorf("failed to mark entity synced: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	if _, err := r.Get(ctx, entityType, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *SQLiteRepository) SetSyncState(ctx context.Context, entityType models.EntityType, id string, s SyncState) error {
	res, err := r.db.ExecContext(ctx, `UPDATE entities
		SET sync_version = ?, is_dirty = ?, base_payload = ?, last_synced_at = ?
		WHERE entity_type = ? AND id = ?`,
		s.Version, s.Dirty, nullBytes(s.Base), s.SyncedAt.UnixMilli(), string(entityType), id)
	if err != nil {
		return fmt.Errorf("failed to set entity sync state: %w", err)
	}
	return expectOne(res)
}

func (r *SQLiteRepository) Remap(ctx context.Context, entityType models.EntityType, oldID, newID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE entities SET id = ? WHERE entity_type = ? AND id = ?`,
		newID, string(entityType), oldID)
	if err != nil {
		return fmt.Errorf("failed to remap entity id: %w", err)
	}
	return expectOne(res)
}

func (r *SQLiteRepository) Delete(ctx context.Context, entityType models.EntityType, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM entities WHERE entity_type = ? AND id = ?`, string(entityType), id)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) PurgeTombstones(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM entities
		WHERE is_deleted = 1 AND is_dirty = 0 AND updated_at < ?
		AND NOT EXISTS (
			SELECT 1 FROM sync_queue q
			WHERE q.entity_type = entities.entity_type AND q.entity_id = entities.id
			AND q.status IN ('pending', 'syncing')
		)`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge tombstones: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) CountDirty(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE is_dirty = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count dirty entities: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Entity, error) {
	var (
		e          models.Entity
		entityType string
		updatedAt  int64
		syncedAt   sql.NullInt64
		payload    []byte
		base       []byte
	)
	err := s.Scan(&entityType, &e.ID, &e.LocalID, &e.SyncVersion, &e.IsDirty, &e.IsDeleted,
		&updatedAt, &syncedAt, &e.DeviceID, &payload, &base)
	if err != nil {
		return nil, err
	}

	e.Type = models.EntityType(entityType)
	e.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if syncedAt.Valid {
		t := time.UnixMilli(syncedAt.Int64).UTC()
		e.LastSyncedAt = &t
	}
	e.Payload = payload
	if base != nil {
		e.BasePayload = base
	}
	return &e, nil
}

func args(e *models.Entity) []any {
	return []any{
		string(e.Type), e.ID, e.LocalID, e.SyncVersion, e.IsDirty, e.IsDeleted,
		e.UpdatedAt.UnixMilli(), nullMillis(e.LastSyncedAt), e.DeviceID, payloadBytes(e.Payload), nullBytes(e.BasePayload),
	}
}

func orderBy(o models.Order) string {
	switch o {
	case models.OrderUpdatedAtAsc:
		return "updated_at ASC, id ASC"
	case models.OrderID:
		return "id ASC"
	default:
		return "updated_at DESC, id ASC"
	}
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func payloadBytes(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}

func nullBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
