// Package syncqueue provides SQLite persistence for queued sync operations.
package syncqueue

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

const columns = `id, operation_type, entity_type, entity_id, payload, priority, status,
	retry_count, next_retry_at, created_at, updated_at, device_id, revision, last_error`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Insert(ctx context.Context, op *models.Operation) error {
	query := `INSERT INTO sync_queue (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		op.ID, string(op.Type), string(op.EntityType), op.EntityID, []byte(op.Payload), op.Priority, string(op.Status),
		op.RetryCount, op.NextRetryAt.UnixMilli(), op.CreatedAt.UnixMilli(), op.UpdatedAt.UnixMilli(),
		op.DeviceID, op.Revision, op.LastError)
	if err != nil {
		return fmt.Errorf("failed to insert operation: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, op *models.Operation) error {
	query := `UPDATE sync_queue SET operation_type = ?, entity_id = ?, payload = ?, priority = ?, status = ?,
		retry_count = ?, next_retry_at = ?, updated_at = ?, device_id = ?, revision = ?, last_error = ?
		WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query,
		string(op.Type), op.EntityID, []byte(op.Payload), op.Priority, string(op.Status),
		op.RetryCount, op.NextRetryAt.UnixMilli(), op.UpdatedAt.UnixMilli(), op.DeviceID, op.Revision, op.LastError,
		op.ID)
	if err != nil {
		return fmt.Errorf("failed to update operation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete operation: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Operation, error) {
	return r.one(ctx, `SELECT `+columns+` FROM sync_queue WHERE id = ?`, id)
}

func (r *SQLiteRepository) GetActive(ctx context.Context, entityType models.EntityType, entityID string) (*models.Operation, error) {
	return r.one(ctx, `SELECT `+columns+` FROM sync_queue
		WHERE entity_type = ? AND entity_id = ? AND status IN ('pending', 'syncing')`,
		string(entityType), entityID)
}

func (r *SQLiteRepository) ListEligible(ctx context.Context, now time.Time, limit int) ([]models.Operation, error) {
	if limit <= 0 {
		limit = -1
	}
	return r.many(ctx, `SELECT `+columns+` FROM sync_queue
		WHERE status = 'pending' AND next_retry_at <= ?
		ORDER BY priority DESC, created_at ASC, rowid ASC
		LIMIT ?`, now.UnixMilli(), limit)
}

func (r *SQLiteRepository) ListByStatus(ctx context.Context, statuses ...models.OperationStatus) ([]models.Operation, error) {
	query := `SELECT ` + columns + ` FROM sync_queue`
	var params []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)`
		for _, s := range statuses {
			params = append(params, string(s))
		}
	}
	query += ` ORDER BY priority DESC, created_at ASC, rowid ASC`
	return r.many(ctx, query, params...)
}

func (r *SQLiteRepository) CountByStatus(ctx context.Context) (map[models.OperationStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count operations: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.OperationStatus]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[models.OperationStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *SQLiteRepository) ReclaimStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE sync_queue SET status = 'pending', updated_at = ?
		WHERE status = 'syncing' AND updated_at <= ?`, now.UnixMilli(), cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale operations: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) RemapEntity(ctx context.Context, entityType models.EntityType, oldID, newID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sync_queue SET entity_id = ? WHERE entity_type = ? AND entity_id = ?`,
		newID, string(entityType), oldID)
	if err != nil {
		return fmt.Errorf("failed to remap operation entity: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) one(ctx context.Context, query string, args ...any) (*models.Operation, error) {
	op, err := scan(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}
	return op, nil
}

func (r *SQLiteRepository) many(ctx context.Context, query string, args ...any) ([]models.Operation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select operations: %w", err)
	}
	defer rows.Close()

	var result []models.Operation
	for rows.Next() {
		op, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		result = append(result, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Operation, error) {
	var (
		op                              models.Operation
		opType, entityType, status      string
		nextRetry, createdAt, updatedAt int64
		payload                         []byte
	)
	err := s.Scan(&op.ID, &opType, &entityType, &op.EntityID, &payload, &op.Priority, &status,
		&op.RetryCount, &nextRetry, &createdAt, &updatedAt, &op.DeviceID, &op.Revision, &op.LastError)
	if err != nil {
		return nil, err
	}

	op.Type = models.OperationType(opType)
	op.EntityType = models.EntityType(entityType)
	op.Status = models.OperationStatus(status)
	op.Payload = payload
	op.NextRetryAt = time.UnixMilli(nextRetry).UTC()
	op.CreatedAt = time.UnixMilli(createdAt).UTC()
	op.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &op, nil
}
