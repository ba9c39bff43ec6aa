package migrations

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func TestUp_CreatesSchemaAndClearsPending(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()

	pending, err := HasPending(ctx, db)
	require.NoError(t, err)
	require.True(t, pending)

	require.NoError(t, Up(ctx, db))

	pending, err = HasPending(ctx, db)
	require.NoError(t, err)
	require.False(t, pending)

	for _, table := range []string{"entities", "sync_queue", "conflict_log", "cache_entries", "metadata"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
	}

	// second run is a no-op
	require.NoError(t, Up(ctx, db))
}
