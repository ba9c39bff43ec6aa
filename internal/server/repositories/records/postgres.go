// Package records provides the repositories of authority records: a
// PostgreSQL implementation over dbx.DBTX and an in-memory one for tests and
// single-process deployments.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/famsync/internal/common"
	"github.com/dmitrijs2005/famsync/internal/dbx"
	"github.com/dmitrijs2005/famsync/internal/server/models"
)

// PostgresRepository implements record storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get returns the record or common.ErrorNotFound.
func (r *PostgresRepository) Get(ctx context.Context, userID, entityType, entityID string) (*models.Record, error) {
	query := `
		SELECT version, data, deleted, device_id, updated_at FROM records
		WHERE user_id = $1 AND entity_type = $2 AND entity_id = $3
	`
	rec := &models.Record{UserID: userID, EntityType: entityType, EntityID: entityID}
	var data []byte
	err := r.db.QueryRowContext(ctx, query, userID, entityType, entityID).
		Scan(&rec.Version, &data, &rec.Deleted, &rec.DeviceID, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select record: %w", err)
	}
	rec.Data = data
	return rec, nil
}

// Insert adds a new record. An existing row yields common.ErrVersionConflict.
func (r *PostgresRepository) Insert(ctx context.Context, rec *models.Record) error {
	query := `
		INSERT INTO records (user_id, entity_type, entity_id, version, data, deleted, device_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, entity_type, entity_id) DO NOTHING;
	`
	res, err := r.db.ExecContext(ctx, query,
		rec.UserID, rec.EntityType, rec.EntityID, rec.Version, string(rec.Data), rec.Deleted, rec.DeviceID, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

// Update overwrites the record when its stored version equals
// expectedVersion and returns common.ErrVersionConflict otherwise.
func (r *PostgresRepository) Update(ctx context.Context, rec *models.Record, expectedVersion int64) error {
	query := `
		UPDATE records SET
			version = $4,
			data = $5,
			deleted = $6,
			device_id = $7,
			updated_at = $8
		WHERE user_id = $1 AND entity_type = $2 AND entity_id = $3 AND version = $9;
	`
	res, err := r.db.ExecContext(ctx, query,
		rec.UserID, rec.EntityType, rec.EntityID, rec.Version, string(rec.Data), rec.Deleted, rec.DeviceID, rec.UpdatedAt,
		expectedVersion)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOneRow(res)
}

// Count returns the number of live records of userID.
func (r *PostgresRepository) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE user_id = $1 AND NOT deleted`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrVersionConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}
