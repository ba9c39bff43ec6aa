package records

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/famsync/internal/common"
	"github.com/dmitrijs2005/famsync/internal/server/models"
)

func TestMemoryRepository_InsertGetUpdate(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	_, err := r.Get(ctx, "u1", "story", "s1")
	require.ErrorIs(t, err, common.ErrorNotFound)

	rec := sampleRecord()
	require.NoError(t, r.Insert(ctx, rec))
	require.ErrorIs(t, r.Insert(ctx, rec), common.ErrVersionConflict)

	got, err := r.Get(ctx, "u1", "story", "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.JSONEq(t, `{"title":"a"}`, string(got.Data))

	next := *rec
	next.Version = 3
	next.Data = []byte(`{"title":"b"}`)
	require.ErrorIs(t, r.Update(ctx, &next, 1), common.ErrVersionConflict)
	require.NoError(t, r.Update(ctx, &next, 2))

	got, err = r.Get(ctx, "u1", "story", "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	assert.JSONEq(t, `{"title":"b"}`, string(got.Data))
}

func TestMemoryRepository_CopiesData(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	rec := sampleRecord()
	require.NoError(t, r.Insert(ctx, rec))
	rec.Data[2] = 'X'

	got, err := r.Get(ctx, "u1", "story", "s1")
	require.NoError(t, err)
	got.Data[2] = 'Y'

	again, err := r.Get(ctx, "u1", "story", "s1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"a"}`, string(again.Data))
}

func TestMemoryRepository_UpdateMissing(t *testing.T) {
	r := NewMemoryRepository()
	err := r.Update(context.Background(), sampleRecord(), 0)
	require.ErrorIs(t, err, common.ErrVersionConflict)
}

func TestMemoryRepository_CountSkipsTombstonesAndOtherUsers(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()

	a := sampleRecord()
	b := sampleRecord()
	b.EntityID = "s2"
	b.Deleted = true
	c := sampleRecord()
	c.UserID = "u2"
	for _, rec := range []*models.Record{a, b, c} {
		require.NoError(t, r.Insert(ctx, rec))
	}

	n, err := r.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
