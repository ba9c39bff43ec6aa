// Package cache persists cache metadata rows in SQLite.
package cache

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

const columns = `cache_key, entity_type, entity_id, size_bytes, last_accessed_at, expires_at, access_count, created_at`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, e *models.CacheEntry) error {
	query := `INSERT INTO cache_entries (` + columns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			size_bytes = excluded.size_bytes,
			last_accessed_at = excluded.last_accessed_at,
			expires_at = excluded.expires_at`
	_, err := r.db.ExecContext(ctx, query,
		e.CacheKey, e.EntityType, e.EntityID, e.SizeBytes,
		e.LastAccessedAt.UnixMilli(), e.ExpiresAt.UnixMilli(), e.AccessCount, e.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	e, err := scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM cache_entries WHERE cache_key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) Touch(ctx context.Context, key string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE cache_entries
		SET last_accessed_at = ?, access_count = access_count + 1 WHERE cache_key = ?`, at.UnixMilli(), key)
	if err != nil {
		return fmt.Errorf("failed to touch cache entry: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, key string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete cache entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) DeleteKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	params := make([]any, len(keys))
	for i, k := range keys {
		params[i] = k
	}
	query := `DELETE FROM cache_entries WHERE cache_key IN (?` + strings.Repeat(", ?", len(keys)-1) + `)`
	if _, err := r.db.ExecContext(ctx, query, params...); err != nil {
		return fmt.Errorf("failed to delete cache entries: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteByType(ctx context.Context, entityType string) ([]string, error) {
	return r.deleteReturning(ctx, `DELETE FROM cache_entries WHERE entity_type = ? RETURNING cache_key`, entityType)
}

// DeleteByPattern removes entries whose key matches a SQLite GLOB pattern.
func (r *SQLiteRepository) DeleteByPattern(ctx context.Context, glob string) ([]string, error) {
	return r.deleteReturning(ctx, `DELETE FROM cache_entries WHERE cache_key GLOB ? RETURNING cache_key`, glob)
}

func (r *SQLiteRepository) DeleteExpired(ctx context.Context, entityType string, now time.Time) ([]string, error) {
	return r.deleteReturning(ctx, `DELETE FROM cache_entries WHERE entity_type = ? AND expires_at < ? RETURNING cache_key`,
		entityType, now.UnixMilli())
}

func (r *SQLiteRepository) ListLRU(ctx context.Context, entityType string) ([]models.CacheEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM cache_entries WHERE entity_type = ?
		ORDER BY last_accessed_at ASC, created_at ASC, rowid ASC`, entityType)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	defer rows.Close()

	var result []models.CacheEntry
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Usage(ctx context.Context) ([]models.CacheUsage, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT entity_type, COUNT(*), COALESCE(SUM(size_bytes), 0)
		FROM cache_entries GROUP BY entity_type ORDER BY entity_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to compute cache usage: %w", err)
	}
	defer rows.Close()

	var result []models.CacheUsage
	for rows.Next() {
		var u models.CacheUsage
		if err := rows.Scan(&u.EntityType, &u.Items, &u.SizeBytes); err != nil {
			return nil, fmt.Errorf("failed to scan cache usage: %w", err)
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) TypeUsage(ctx context.Context, entityType string) (models.CacheUsage, error) {
	u := models.CacheUsage{EntityType: entityType}
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size_bytes), 0)
		FROM cache_entries WHERE entity_type = ?`, entityType).Scan(&u.Items, &u.SizeBytes)
	if err != nil {
		return u, fmt.Errorf("failed to compute cache usage: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) deleteReturning(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to delete cache entries: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan cache key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.CacheEntry, error) {
	var (
		e                              models.CacheEntry
		lastAccess, expires, createdAt int64
	)
	err := s.Scan(&e.CacheKey, &e.EntityType, &e.EntityID, &e.SizeBytes, &lastAccess, &expires, &e.AccessCount, &createdAt)
	if err != nil {
		return nil, err
	}
	e.LastAccessedAt = time.UnixMilli(lastAccess).UTC()
	e.ExpiresAt = time.UnixMilli(expires).UTC()
	e.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &e, nil
}
