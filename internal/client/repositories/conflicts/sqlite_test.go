package conflicts

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/dmitrijs2005/famsync/internal/client/migrations"
	"github.com/dmitrijs2005/famsync/internal/client/models"
	"github.com/dmitrijs2005/famsync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migrations.Up(context.Background(), db))
	return db
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func record(id string, created time.Time) *models.ConflictRecord {
	return &models.ConflictRecord{
		ID:             id,
		EntityType:     models.EntityEvent,
		EntityID:       "e1",
		LocalVersion:   2,
		RemoteVersion:  3,
		ConflictType:   models.ConflictPerFieldTimestamped,
		Strategy:       models.StrategyFieldMerge,
		LocalPayload:   json.RawMessage(`{"description":"local"}`),
		RemotePayload:  json.RawMessage(`{"location":"remote"}`),
		LocalDeviceID:  "dev-a",
		RemoteDeviceID: "dev-b",
		CreatedAt:      created,
	}
}

func TestInsertListResolve(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, record("c1", t0)))
	resolvedAt := t0.Add(time.Second)
	c2 := record("c2", t0.Add(time.Minute))
	c2.ResolvedAt = &resolvedAt
	c2.ResolvedPayload = json.RawMessage(`{"description":"local","location":"remote"}`)
	require.NoError(t, r.Insert(ctx, c2))

	open, err := r.ListUnresolved(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "c1", open[0].ID)
	assert.Nil(t, open[0].ResolvedAt)
	assert.Equal(t, "dev-b", open[0].RemoteDeviceID)

	require.NoError(t, r.MarkResolved(ctx, "c1", []byte(`{"x":1}`), models.StrategyLastWriterWins, t0.Add(time.Hour)))
	open, err = r.ListUnresolved(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := r.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "c2", all[0].ID, "newest first")
	assert.Equal(t, models.StrategyLastWriterWins, all[1].Strategy)
	require.NotNil(t, all[1].ResolvedAt)
	assert.True(t, all[1].ResolvedAt.Equal(t0.Add(time.Hour)))

	limited, err := r.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	assert.ErrorIs(t, r.MarkResolved(ctx, "nope", nil, models.StrategyFieldMerge, t0), common.ErrorNotFound)
}
