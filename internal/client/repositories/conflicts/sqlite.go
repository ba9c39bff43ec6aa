// Package conflicts stores the conflict audit log in SQLite.
package conflicts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/famsync/internal/client/models"
	"github.com/dmitrijs2005/famsync/internal/common"
	"github.com/dmitrijs2005/famsync/internal/dbx"
)

const columns = `id, entity_type, entity_id, local_version, remote_version, conflict_type, strategy,
	local_payload, remote_payload, resolved_payload, local_device_id, remote_device_id, created_at, resolved_at`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Insert(ctx context.Context, c *models.ConflictRecord) error {
	var resolvedAt any
	if c.ResolvedAt != nil {
		resolvedAt = c.ResolvedAt.UnixMilli()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO conflict_log (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, string(c.EntityType), c.EntityID, c.LocalVersion, c.RemoteVersion, string(c.ConflictType), string(c.Strategy),
		[]byte(c.LocalPayload), []byte(c.RemotePayload), []byte(c.ResolvedPayload),
		c.LocalDeviceID, c.RemoteDeviceID, c.CreatedAt.UnixMilli(), resolvedAt)
	if err != nil {
		return fmt.Errorf("failed to insert conflict: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkResolved(ctx context.Context, id string, resolved []byte, strategy models.Strategy, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE conflict_log SET resolved_payload = ?, strategy = ?, resolved_at = ?
		WHERE id = ?`, resolved, string(strategy), at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict: %w", err)
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

func (r *SQLiteRepository) ListUnresolved(ctx context.Context) ([]models.ConflictRecord, error) {
	return r.many(ctx, `SELECT `+columns+` FROM conflict_log WHERE resolved_at IS NULL
		ORDER BY created_at ASC, rowid ASC`)
}

// List returns the newest conflicts first. A non-positive limit returns all.
func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]models.ConflictRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	return r.many(ctx, `SELECT `+columns+` FROM conflict_log ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
}

func (r *SQLiteRepository) many(ctx context.Context, query string, args ...any) ([]models.ConflictRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select conflicts: %w", err)
	}
	defer rows.Close()

	var result []models.ConflictRecord
	for rows.Next() {
		var (
			c                                     models.ConflictRecord
			entityType, conflictType, strategy    string
			localPayload, remotePayload, resolved []byte
			createdAt                             int64
			resolvedAt                            sql.NullInt64
		)
		err := rows.Scan(&c.ID, &entityType, &c.EntityID, &c.LocalVersion, &c.RemoteVersion, &conflictType, &strategy,
			&localPayload, &remotePayload, &resolved, &c.LocalDeviceID, &c.RemoteDeviceID, &createdAt, &resolvedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		c.EntityType = models.EntityType(entityType)
		c.ConflictType = models.ConflictType(conflictType)
		c.Strategy = models.Strategy(strategy)
		c.LocalPayload = localPayload
		c.RemotePayload = remotePayload
		c.ResolvedPayload = resolved
		c.CreatedAt = time.UnixMilli(createdAt).UTC()
		if resolvedAt.Valid {
			t := time.UnixMilli(resolvedAt.Int64).UTC()
			c.ResolvedAt = &t
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
