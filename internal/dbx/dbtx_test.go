package dbx

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openQueueDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE ops (id INTEGER PRIMARY KEY, entity_id TEXT, status TEXT)`)
	require.NoError(t, err)
	return db
}

func pending(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM ops WHERE status = 'pending'`).Scan(&n))
	return n
}

func enqueue(ctx context.Context, tx DBTX, entityID string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO ops (entity_id, status) VALUES (?, 'pending')`, entityID)
	return err
}

func TestWithTx_Commit(t *testing.T) {
	db := openQueueDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		if err := enqueue(ctx, tx, "m1"); err != nil {
			return err
		}
		return enqueue(ctx, tx, "m2")
	})
	require.NoError(t, err)
	assert.Equal(t, 2, pending(t, db))
}

func TestWithTx_RollbackOnError(t *testing.T) {
	db := openQueueDB(t)
	boom := errors.New("entity write failed")

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		require.NoError(t, enqueue(ctx, tx, "m1"))
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, pending(t, db), "the enqueued op must not outlive a failed entity write")
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	db := openQueueDB(t)

	assert.Panics(t, func() {
		_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
			require.NoError(t, enqueue(ctx, tx, "m1"))
			panic("kaput")
		})
	})
	assert.Equal(t, 0, pending(t, db))
}

func TestWithTx_BeginFails(t *testing.T) {
	db := openQueueDB(t)
	require.NoError(t, db.Close())

	called := false
	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		called = true
		return nil
	})
	require.ErrorContains(t, err, "failed to begin tx")
	assert.False(t, called)
}
