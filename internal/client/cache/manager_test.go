package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/famsync/internal/client/store"
	"github.com/dmitrijs2005/famsync/internal/common"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	m     *Manager
	st    *store.Store
	blobs *FileBlobStore
	clock *clock
}

func newHarness(t *testing.T, policies Policies, opts ...Option) *harness {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))

	blobs, err := NewFileBlobStore(t.TempDir(), nil)
	require.NoError(t, err)

	c := &clock{now: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
	opts = append([]Option{
		WithPolicies(policies),
		WithClock(c.Now),
		WithStorageProbe(blobs.Dir(), 0, func(string) (uint64, error) { return 1 << 40, nil }),
	}, opts...)
	m := NewManager(st, blobs, opts...)
	t.Cleanup(m.Close)

	return &harness{m: m, st: st, blobs: blobs, clock: c}
}

func (h *harness) count(t *testing.T, typ string) int64 {
	t.Helper()
	u, err := h.m.GetCacheUsage(context.Background())
	require.NoError(t, err)
	for _, tu := range u.Types {
		if tu.EntityType == typ {
			return tu.Items
		}
	}
	return 0
}

func TestManager_AddGetAndHitBookkeeping(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultPolicies())

	require.NoError(t, h.m.AddToCache(ctx, TypeStories, "s1", []byte("hello")))

	h.clock.Advance(time.Minute)
	data, ok, err := h.m.Get(ctx, TypeStories, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), data)

	h.m.Close()

	e, err := h.st.GetCacheEntry(ctx, "stories/s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.AccessCount)
	assert.Equal(t, int64(5), e.SizeBytes)
	assert.True(t, e.LastAccessedAt.Equal(h.clock.Now()))
	assert.True(t, e.ExpiresAt.Equal(e.CreatedAt.Add(7*24*time.Hour)))
}

func TestManager_MissIsRecorded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultPolicies())

	_, ok, err := h.m.Get(ctx, TypeEvents, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	h.m.Close()
	misses, err := h.st.CacheMisses(ctx, TypeEvents)
	require.NoError(t, err)
	assert.Equal(t, int64(1), misses)
}

func TestManager_UnknownType(t *testing.T) {
	h := newHarness(t, DefaultPolicies())
	err := h.m.AddToCache(context.Background(), "gadgets", "g1", []byte("x"))
	require.ErrorIs(t, err, ErrUnknownCacheType)

	kind := "gadgets"
	_, err = h.m.PerformCleanup(context.Background(), &kind)
	require.ErrorIs(t, err, ErrUnknownCacheType)
}

func TestManager_ItemLimitEviction(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Policies{TypeStories: {MaxSize: 100 * MB, MaxItems: 500, TTL: 24 * time.Hour}})

	for i := 0; i < 600; i++ {
		h.clock.Advance(time.Millisecond)
		require.NoError(t, h.m.AddToCache(ctx, TypeStories, fmt.Sprintf("s%d", i), []byte("story")))
	}

	rep, err := h.m.PerformCleanup(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, rep.Expired)

	n := h.count(t, TypeStories)
	assert.LessOrEqual(t, n, int64(500))
	assert.GreaterOrEqual(t, n, int64(400))

	// The least recently accessed entries went first, blobs included.
	_, ok, err := h.m.Get(ctx, TypeStories, "s0")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = h.blobs.Get(ctx, "stories/s0")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, ok, err = h.m.Get(ctx, TypeStories, "s599")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestManager_RecentlyReadSurvivesEviction(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Policies{TypeUsers: {MaxItems: 10}})

	for i := 0; i < 10; i++ {
		h.clock.Advance(time.Second)
		require.NoError(t, h.m.AddToCache(ctx, TypeUsers, fmt.Sprintf("u%d", i), []byte("u")))
	}
	h.clock.Advance(time.Second)
	_, ok, err := h.m.Get(ctx, TypeUsers, "u0")
	require.NoError(t, err)
	require.True(t, ok)
	h.m.pending.Wait()

	h.clock.Advance(time.Second)
	require.NoError(t, h.m.AddToCache(ctx, TypeUsers, "u10", []byte("u")))

	assert.Equal(t, int64(8), h.count(t, TypeUsers))
	_, ok, err = h.m.Get(ctx, TypeUsers, "u0")
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = h.m.Get(ctx, TypeUsers, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_SizeLimitEviction(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Policies{TypeMedia: {MaxSize: 1000}})

	chunk := make([]byte, 100)
	for i := 0; i < 11; i++ {
		h.clock.Advance(time.Millisecond)
		require.NoError(t, h.m.AddToCache(ctx, TypeMedia, fmt.Sprintf("m%d", i), chunk))
	}

	u, err := h.m.GetCacheUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(800), u.TotalBytes)
	assert.Equal(t, int64(8), u.TotalItems)
	assert.Equal(t, int64(1000), u.BudgetBytes)
}

func TestManager_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Policies{TypeMessages: {MaxItems: 100, TTL: time.Hour}})

	require.NoError(t, h.m.AddToCache(ctx, TypeMessages, "m1", []byte("hi")))
	h.clock.Advance(2 * time.Hour)

	_, ok, err := h.m.Get(ctx, TypeMessages, "m1")
	require.NoError(t, err)
	assert.False(t, ok)

	rep, err := h.m.PerformCleanup(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Expired)
	assert.Zero(t, h.count(t, TypeMessages))
}

func TestManager_AggregateThresholdTriggersCleanup(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Policies{
		TypeStories: {MaxSize: 1000, TTL: time.Hour},
		TypeMedia:   {MaxSize: 1000},
	})

	require.NoError(t, h.m.AddToCache(ctx, TypeStories, "old", make([]byte, 950)))
	h.clock.Advance(2 * time.Hour)

	// 950 + 900 crosses 90% of the 2000 byte budget.
	require.NoError(t, h.m.AddToCache(ctx, TypeMedia, "pic", make([]byte, 900)))

	assert.Zero(t, h.count(t, TypeStories))
	assert.Equal(t, int64(1), h.count(t, TypeMedia))
}

func TestManager_Invalidate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultPolicies())

	for _, id := range []string{"a1", "a2", "b1"} {
		require.NoError(t, h.m.AddToCache(ctx, TypeEvents, id, []byte(id)))
	}
	require.NoError(t, h.m.AddToCache(ctx, TypeUsers, "u1", []byte("u")))

	n, err := h.m.InvalidateByPattern(ctx, "events/a*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(1), h.count(t, TypeEvents))

	n, err = h.m.InvalidateByType(ctx, TypeEvents)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = h.blobs.Get(ctx, "events/b1")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	require.NoError(t, h.m.RemoveFromCache(ctx, TypeUsers, "u1"))
	assert.Zero(t, h.count(t, TypeUsers))
}

func TestManager_MissingBlobIsAMiss(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, DefaultPolicies())

	require.NoError(t, h.m.AddToCache(ctx, TypeStories, "s1", []byte("x")))
	require.NoError(t, h.blobs.Delete(ctx, "stories/s1"))

	_, ok, err := h.m.Get(ctx, TypeStories, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = h.st.GetCacheEntry(ctx, "stories/s1")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestManager_PruneBasedOnStorage(t *testing.T) {
	ctx := context.Background()
	free := uint64(100)
	policies := Policies{TypeStories: {MaxItems: 10}}
	h := newHarness(t, policies)
	h.m.volume = h.blobs.Dir()
	h.m.lowStorage = 500
	h.m.freeSpace = func(string) (uint64, error) { return free, nil }

	for i := 0; i < 6; i++ {
		h.clock.Advance(time.Millisecond)
		require.NoError(t, h.m.AddToCache(ctx, TypeStories, fmt.Sprintf("s%d", i), []byte("s")))
	}

	rep, ran, err := h.m.PruneBasedOnStorage(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, 2, rep.Evicted)
	assert.Equal(t, int64(4), h.count(t, TypeStories))
	assert.Equal(t, 10, h.m.policies[TypeStories].MaxItems)

	free = 1000
	_, ran, err = h.m.PruneBasedOnStorage(ctx)
	require.NoError(t, err)
	assert.False(t, ran)

	h.m.freeSpace = func(string) (uint64, error) { return 0, errors.New("statfs failed") }
	_, _, err = h.m.PruneBasedOnStorage(ctx)
	require.Error(t, err)
}

func TestManager_StartRunsPeriodicCleanup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, Policies{TypeMessages: {TTL: time.Minute}}, WithCleanupInterval(10*time.Millisecond))

	require.NoError(t, h.m.AddToCache(ctx, TypeMessages, "m1", []byte("x")))
	h.clock.Advance(time.Hour)

	done := make(chan error, 1)
	go func() { done <- h.m.Start(ctx) }()

	require.Eventually(t, func() bool { return h.count(t, TypeMessages) == 0 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestManager_ClosedRejectsWrites(t *testing.T) {
	h := newHarness(t, DefaultPolicies())
	h.m.Close()
	require.ErrorIs(t, h.m.AddToCache(context.Background(), TypeUsers, "u", []byte("x")), ErrClosed)
}

func TestPolicies_ScaledIsACopy(t *testing.T) {
	p := DefaultPolicies()
	half := p.Scaled(0.5)
	assert.Equal(t, 250, half[TypeStories].MaxItems)
	assert.Equal(t, 25*MB, half[TypeStories].MaxSize)
	assert.Equal(t, 500, p[TypeStories].MaxItems)
	assert.Equal(t, p[TypeStories].TTL, half[TypeStories].TTL)
}
