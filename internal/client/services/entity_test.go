package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/famsync/internal/client/cache"
	"github.com/dmitrijs2005/famsync/internal/client/models"
	"github.com/dmitrijs2005/famsync/internal/client/store"
	"github.com/dmitrijs2005/famsync/internal/common"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))
	return st
}

type fakeCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	reads   int
	removed []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}}
}

func (c *fakeCache) AddToCache(_ context.Context, entityType, entityID string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[models.CacheKey(entityType, entityID)] = data
	return nil
}

func (c *fakeCache) Get(_ context.Context, entityType, entityID string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	d, ok := c.data[models.CacheKey(entityType, entityID)]
	return d, ok, nil
}

func (c *fakeCache) RemoveFromCache(_ context.Context, entityType, entityID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := models.CacheKey(entityType, entityID)
	delete(c.data, key)
	c.removed = append(c.removed, key)
	return nil
}

func pendingOps(t *testing.T, st *store.Store) []models.Operation {
	t.Helper()
	ops, err := st.ListOperations(context.Background(), models.StatusPending)
	require.NoError(t, err)
	return ops
}

func TestCreate_WritesEntityQueueAndCache(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	fc := newFakeCache()
	svc := NewEntityService(st, WithCache(fc), WithDeviceID("dev-a"))

	e, err := svc.Create(ctx, models.EntityStory, "s1", json.RawMessage(`{"title":"Lake day"}`))
	require.NoError(t, err)
	assert.Equal(t, "dev-a", e.DeviceID)

	got, err := st.Get(ctx, models.EntityStory, "s1")
	require.NoError(t, err)
	assert.True(t, got.IsDirty)
	assert.JSONEq(t, `{"title":"Lake day"}`, string(got.Payload))

	ops := pendingOps(t, st)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OpCreate, ops[0].Type)
	assert.Equal(t, "dev-a", ops[0].DeviceID)

	assert.Contains(t, fc.data, models.CacheKey(cache.TypeStories, "s1"))
}

func TestCreate_GeneratesID(t *testing.T) {
	svc := NewEntityService(newStore(t))
	e, err := svc.Create(context.Background(), models.EntityEvent, "", json.RawMessage(`{"title":"BBQ"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
}

func TestCreate_Validation(t *testing.T) {
	ctx := context.Background()
	svc := NewEntityService(newStore(t))

	_, err := svc.Create(ctx, "recipe", "r1", json.RawMessage(`{}`))
	require.ErrorIs(t, err, common.ErrUnknownEntityType)

	_, err = svc.Create(ctx, models.EntityStory, "s1", json.RawMessage(`["x"]`))
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = svc.Create(ctx, models.EntityStory, "s1", json.RawMessage(`{"title":5}`))
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = svc.Create(ctx, models.EntityStory, "s1", json.RawMessage(`{"title":"ok"}`))
	require.NoError(t, err)
	_, err = svc.Create(ctx, models.EntityStory, "s1", json.RawMessage(`{"title":"again"}`))
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestCreateThenUpdate_FoldsIntoOneCreate(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	svc := NewEntityService(st)

	_, err := svc.Create(ctx, models.EntityStory, "s1", json.RawMessage(`{"title":"A","body":"x"}`))
	require.NoError(t, err)
	e, err := svc.Update(ctx, models.EntityStory, "s1", json.RawMessage(`{"title":"B"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"B","body":"x"}`, string(e.Payload))

	ops := pendingOps(t, st)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OpCreate, ops[0].Type)
	assert.JSONEq(t, `{"title":"B","body":"x"}`, string(ops[0].Payload))
}

func TestUpdate_Errors(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	svc := NewEntityService(st)

	_, err := svc.Update(ctx, models.EntityStory, "nope", json.RawMessage(`{"title":"B"}`))
	require.ErrorIs(t, err, common.ErrorNotFound)

	_, err = svc.Create(ctx, models.EntityStory, "s1", json.RawMessage(`{"title":"A"}`))
	require.NoError(t, err)

	_, err = svc.Update(ctx, models.EntityStory, "s1", json.RawMessage(`"B"`))
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = svc.Update(ctx, models.EntityStory, "s1", json.RawMessage(`{"tags":"not-a-list"}`))
	require.ErrorIs(t, err, common.ErrValidation)

	got, err := st.Get(ctx, models.EntityStory, "s1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"A"}`, string(got.Payload))
}

func TestDelete_UnsyncedCreateDisappears(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	fc := newFakeCache()
	svc := NewEntityService(st, WithCache(fc))

	_, err := svc.Create(ctx, models.EntityStory, "s1", json.RawMessage(`{"title":"A"}`))
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, models.EntityStory, "s1"))

	_, err = st.Get(ctx, models.EntityStory, "s1")
	require.ErrorIs(t, err, common.ErrorNotFound)
	assert.Empty(t, pendingOps(t, st))
	assert.Equal(t, []string{models.CacheKey(cache.TypeStories, "s1")}, fc.removed)
}

func TestDelete_SyncedEntityBecomesTombstone(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	svc := NewEntityService(st)

	require.NoError(t, st.Upsert(ctx, &models.Entity{
		ID: "e1", Type: models.EntityEvent, SyncVersion: 3, Payload: json.RawMessage(`{"title":"BBQ"}`),
	}))

	require.NoError(t, svc.Delete(ctx, models.EntityEvent, "e1"))
	require.NoError(t, svc.Delete(ctx, models.EntityEvent, "e1"))

	got, err := st.Get(ctx, models.EntityEvent, "e1")
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
	assert.True(t, got.IsDirty)

	ops := pendingOps(t, st)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OpDelete, ops[0].Type)

	_, err = svc.Get(ctx, models.EntityEvent, "e1")
	require.ErrorIs(t, err, common.ErrorNotFound)

	_, err = svc.Update(ctx, models.EntityEvent, "e1", json.RawMessage(`{"title":"x"}`))
	require.ErrorIs(t, err, common.ErrEntityDeleted)

	// recreating over the tombstone turns the queued delete into an update
	_, err = svc.Create(ctx, models.EntityEvent, "e1", json.RawMessage(`{"title":"BBQ 2"}`))
	require.NoError(t, err)
	ops = pendingOps(t, st)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OpUpdate, ops[0].Type)

	got, err = st.Get(ctx, models.EntityEvent, "e1")
	require.NoError(t, err)
	assert.False(t, got.IsDeleted)
	assert.Equal(t, int64(3), got.SyncVersion)
}

func TestPayload_ReadThroughCache(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	fc := newFakeCache()
	svc := NewEntityService(st, WithCache(fc))

	require.NoError(t, st.Upsert(ctx, &models.Entity{
		ID: "u1", Type: models.EntityUser, Payload: json.RawMessage(`{"displayName":"Mom","email":"m@x"}`),
	}))

	p, err := svc.Payload(ctx, models.EntityUser, "u1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"displayName":"Mom","email":"m@x"}`, string(p))
	assert.Contains(t, fc.data, models.CacheKey(cache.TypeUsers, "u1"))

	fc.data[models.CacheKey(cache.TypeUsers, "u1")] = []byte(`{"displayName":"cached"}`)
	p, err = svc.Payload(ctx, models.EntityUser, "u1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"displayName":"cached"}`, string(p))
	assert.Equal(t, 2, fc.reads)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	svc := NewEntityService(st)

	require.NoError(t, st.Upsert(ctx, &models.Entity{ID: "m0", Type: models.EntityMessage, SyncVersion: 1, Payload: json.RawMessage(`{"body":"synced"}`)}))
	_, err := svc.Create(ctx, models.EntityMessage, "m1", json.RawMessage(`{"body":"hi"}`))
	require.NoError(t, err)
	_, err = svc.Create(ctx, models.EntityMessage, "m2", json.RawMessage(`{"body":"yo"}`))
	require.NoError(t, err)

	all, err := svc.List(ctx, models.EntityMessage, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	dirty := true
	pending, err := svc.List(ctx, models.EntityMessage, ListOptions{Dirty: &dirty})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	page, err := svc.List(ctx, models.EntityMessage, ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	_, err = svc.List(ctx, "recipe", ListOptions{})
	require.ErrorIs(t, err, common.ErrUnknownEntityType)
}
