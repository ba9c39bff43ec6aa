// Package cache keeps a bounded local cache of synced records and media.
//
// Metadata rows live in the local store; the bytes live in a BlobStore.
// Every namespace has a Policy. Cleanup drops expired rows, then evicts the
// least recently accessed rows down to 80% of the item and size limits.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/famsync/internal/client/models"
	cacherepo "github.com/dmitrijs2005/famsync/internal/client/repositories/cache"
	"github.com/dmitrijs2005/famsync/internal/common"
	"github.com/dmitrijs2005/famsync/internal/logging"
)

const (
	DefaultCleanupInterval     = time.Hour
	DefaultLowStorageThreshold = 500 * uint64(MB)
	DefaultRecordTimeout       = 5 * time.Second

	// aggregateTrigger is the share of the total budget that triggers a
	// cleanup after a write.
	aggregateTrigger = 0.9
	evictionFloor    = 0.8
)

// never is the expiry of entries in namespaces without a TTL.
var never = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

var (
	ErrUnknownCacheType = errors.New("no cache policy for type")
	ErrClosed           = errors.New("cache manager closed")
)

// Store is the subset of the local store used by the manager.
type Store interface {
	UpsertCacheEntry(ctx context.Context, e *models.CacheEntry) error
	GetCacheEntry(ctx context.Context, key string) (*models.CacheEntry, error)
	RecordCacheHit(ctx context.Context, key string, at time.Time) error
	RecordCacheMiss(ctx context.Context, entityType string) error
	RemoveCacheEntry(ctx context.Context, key string) (bool, error)
	InvalidateCacheType(ctx context.Context, entityType string) ([]string, error)
	InvalidateCachePattern(ctx context.Context, glob string) ([]string, error)
	CacheUsage(ctx context.Context) ([]models.CacheUsage, error)
	CacheTx(ctx context.Context, fn func(r cacherepo.Repository) error) error
}

// Report summarizes one cleanup pass.
type Report struct {
	Expired    int
	Evicted    int
	FreedBytes int64
}

func (r *Report) add(o Report) {
	r.Expired += o.Expired
	r.Evicted += o.Evicted
	r.FreedBytes += o.FreedBytes
}

// Usage is the current cache footprint.
type Usage struct {
	Types       []models.CacheUsage
	TotalItems  int64
	TotalBytes  int64
	BudgetBytes int64
}

type Option func(*Manager)

func WithPolicies(p Policies) Option {
	return func(m *Manager) { m.policies = p }
}

func WithLogger(l logging.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithCleanupInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// WithStorageProbe sets the volume path checked for free space, the
// threshold below which PruneBasedOnStorage halves all limits, and the
// probe function (FreeSpace by default).
func WithStorageProbe(path string, threshold uint64, probe func(string) (uint64, error)) Option {
	return func(m *Manager) {
		m.volume = path
		m.lowStorage = threshold
		if probe != nil {
			m.freeSpace = probe
		}
	}
}

type Manager struct {
	store    Store
	blobs    BlobStore
	policies Policies
	log      logging.Logger
	now      func() time.Time
	interval time.Duration

	volume     string
	lowStorage uint64
	freeSpace  func(string) (uint64, error)

	recordTimeout time.Duration
	closed        atomic.Bool
	pending       sync.WaitGroup

	// cleanupMu serializes cleanup passes; reads and writes do not take it.
	cleanupMu sync.Mutex
}

func NewManager(store Store, blobs BlobStore, opts ...Option) *Manager {
	m := &Manager{
		store:         store,
		blobs:         blobs,
		policies:      DefaultPolicies(),
		log:           logging.Nop(),
		now:           time.Now,
		interval:      DefaultCleanupInterval,
		lowStorage:    DefaultLowStorageThreshold,
		freeSpace:     FreeSpace,
		recordTimeout: DefaultRecordTimeout,
	}
	if fb, ok := blobs.(*FileBlobStore); ok {
		m.volume = fb.Dir()
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With("module", "cache")
	return m
}

func (m *Manager) clock() time.Time {
	return m.now().UTC()
}

// AddToCache stores data and its metadata row. If the write pushes the
// namespace past its policy, or the whole cache past 90% of its budget, a
// cleanup runs before returning.
func (m *Manager) AddToCache(ctx context.Context, entityType, entityID string, data []byte) error {
	if m.closed.Load() {
		return ErrClosed
	}
	pol, ok := m.policies[entityType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCacheType, entityType)
	}

	key := models.CacheKey(entityType, entityID)
	if err := m.blobs.Put(ctx, key, data); err != nil {
		return fmt.Errorf("failed to store blob: %w", err)
	}

	now := m.clock()
	e := &models.CacheEntry{
		EntityType:     entityType,
		EntityID:       entityID,
		CacheKey:       key,
		SizeBytes:      int64(len(data)),
		LastAccessedAt: now,
		CreatedAt:      now,
	}
	if pol.TTL > 0 {
		e.ExpiresAt = now.Add(pol.TTL)
	} else {
		e.ExpiresAt = never
	}
	if err := m.store.UpsertCacheEntry(ctx, e); err != nil {
		return err
	}

	return m.maybeCleanup(ctx, entityType, pol)
}

func (m *Manager) maybeCleanup(ctx context.Context, entityType string, pol Policy) error {
	usage, err := m.store.CacheUsage(ctx)
	if err != nil {
		return err
	}

	var total int64
	for _, u := range usage {
		total += u.SizeBytes
		if u.EntityType == entityType && overLimit(u, pol) {
			m.log.Debug(ctx, "namespace over policy, cleaning", "type", entityType, "items", u.Items, "bytes", u.SizeBytes)
			_, err := m.PerformCleanup(ctx, &entityType)
			return err
		}
	}

	if budget := m.policies.Budget(); budget > 0 && float64(total) > aggregateTrigger*float64(budget) {
		m.log.Info(ctx, "cache above aggregate threshold, cleaning", "bytes", total, "budget", budget)
		_, err := m.PerformCleanup(ctx, nil)
		return err
	}
	return nil
}

func overLimit(u models.CacheUsage, pol Policy) bool {
	return (pol.MaxItems > 0 && u.Items > int64(pol.MaxItems)) || (pol.MaxSize > 0 && u.SizeBytes > pol.MaxSize)
}

// Get returns the cached bytes. A missing or expired entry is a miss, not an
// error. Hit and miss bookkeeping happens in the background.
func (m *Manager) Get(ctx context.Context, entityType, entityID string) ([]byte, bool, error) {
	key := models.CacheKey(entityType, entityID)

	e, err := m.store.GetCacheEntry(ctx, key)
	if errors.Is(err, common.ErrorNotFound) {
		m.recordMiss(entityType)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	now := m.clock()
	if now.After(e.ExpiresAt) {
		m.recordMiss(entityType)
		return nil, false, nil
	}

	data, err := m.blobs.Get(ctx, key)
	if errors.Is(err, common.ErrorNotFound) {
		m.log.Warn(ctx, "cache row without blob, dropping", "key", key)
		if _, err := m.store.RemoveCacheEntry(ctx, key); err != nil {
			return nil, false, err
		}
		m.recordMiss(entityType)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	m.recordHit(key, now)
	return data, true, nil
}

func (m *Manager) recordHit(key string, at time.Time) {
	m.background("hit", func(ctx context.Context) error {
		return m.store.RecordCacheHit(ctx, key, at)
	})
}

func (m *Manager) recordMiss(entityType string) {
	m.background("miss", func(ctx context.Context) error {
		return m.store.RecordCacheMiss(ctx, entityType)
	})
}

func (m *Manager) background(what string, fn func(ctx context.Context) error) {
	if m.closed.Load() {
		return
	}
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.recordTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			m.log.Warn(ctx, "failed to record cache "+what, "error", err)
		}
	}()
}

func (m *Manager) RemoveFromCache(ctx context.Context, entityType, entityID string) error {
	key := models.CacheKey(entityType, entityID)
	if _, err := m.store.RemoveCacheEntry(ctx, key); err != nil {
		return err
	}
	m.dropBlobs(ctx, []string{key})
	return nil
}

// InvalidateByType drops a whole namespace and returns the number of rows
// removed.
func (m *Manager) InvalidateByType(ctx context.Context, entityType string) (int, error) {
	keys, err := m.store.InvalidateCacheType(ctx, entityType)
	if err != nil {
		return 0, err
	}
	m.dropBlobs(ctx, keys)
	return len(keys), nil
}

// InvalidateByPattern drops entries whose cache key matches a GLOB pattern,
// e.g. "stories/*".
func (m *Manager) InvalidateByPattern(ctx context.Context, glob string) (int, error) {
	keys, err := m.store.InvalidateCachePattern(ctx, glob)
	if err != nil {
		return 0, err
	}
	m.dropBlobs(ctx, keys)
	return len(keys), nil
}

// PerformCleanup runs eviction for one namespace, or for every namespace
// with a policy when entityType is nil.
func (m *Manager) PerformCleanup(ctx context.Context, entityType *string) (Report, error) {
	return m.cleanup(ctx, m.policies, entityType)
}

func (m *Manager) cleanup(ctx context.Context, policies Policies, entityType *string) (Report, error) {
	m.cleanupMu.Lock()
	defer m.cleanupMu.Unlock()

	var types []string
	if entityType != nil {
		if _, ok := policies[*entityType]; !ok {
			return Report{}, fmt.Errorf("%w: %q", ErrUnknownCacheType, *entityType)
		}
		types = []string{*entityType}
	} else {
		for t := range policies {
			types = append(types, t)
		}
		sort.Strings(types)
	}

	var total Report
	for _, t := range types {
		rep, err := m.cleanupType(ctx, t, policies[t])
		if err != nil {
			return total, fmt.Errorf("cleanup %s: %w", t, err)
		}
		total.add(rep)
	}
	if total.Expired > 0 || total.Evicted > 0 {
		m.log.Info(ctx, "cache cleanup finished", "expired", total.Expired, "evicted", total.Evicted, "freed_bytes", total.FreedBytes)
	}
	return total, nil
}

func (m *Manager) cleanupType(ctx context.Context, entityType string, pol Policy) (Report, error) {
	var (
		rep     Report
		dropped []string
	)
	now := m.clock()

	err := m.store.CacheTx(ctx, func(r cacherepo.Repository) error {
		expired, err := r.DeleteExpired(ctx, entityType, now)
		if err != nil {
			return err
		}

		entries, err := r.ListLRU(ctx, entityType)
		if err != nil {
			return err
		}
		count := int64(len(entries))
		var size int64
		for _, e := range entries {
			size += e.SizeBytes
		}

		var evict []string
		i := 0
		take := func() {
			evict = append(evict, entries[i].CacheKey)
			count--
			size -= entries[i].SizeBytes
			rep.FreedBytes += entries[i].SizeBytes
			i++
		}

		if pol.MaxItems > 0 && count > int64(pol.MaxItems) {
			floor := int64(float64(pol.MaxItems) * evictionFloor)
			for count > floor && i < len(entries) {
				take()
			}
		}
		if pol.MaxSize > 0 && size > pol.MaxSize {
			floor := int64(float64(pol.MaxSize) * evictionFloor)
			for size > floor && i < len(entries) {
				take()
			}
		}

		if err := r.DeleteKeys(ctx, evict); err != nil {
			return err
		}

		rep.Expired = len(expired)
		rep.Evicted = len(evict)
		dropped = append(expired, evict...)
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	m.dropBlobs(ctx, dropped)
	return rep, nil
}

// dropBlobs removes blobs after their rows are gone. Failures only leave
// orphaned bytes, so they are logged.
func (m *Manager) dropBlobs(ctx context.Context, keys []string) {
	for _, k := range keys {
		if err := m.blobs.Delete(ctx, k); err != nil {
			m.log.Warn(ctx, "failed to delete cached blob", "key", k, "error", err)
		}
	}
}

// GetCacheUsage reports per-namespace and total usage.
func (m *Manager) GetCacheUsage(ctx context.Context) (Usage, error) {
	types, err := m.store.CacheUsage(ctx)
	if err != nil {
		return Usage{}, err
	}
	u := Usage{Types: types, BudgetBytes: m.policies.Budget()}
	for _, t := range types {
		u.TotalItems += t.Items
		u.TotalBytes += t.SizeBytes
	}
	return u, nil
}

// PruneBasedOnStorage runs one cleanup with every limit halved when the
// cache volume is low on free space. The configured policies are not
// changed. It reports whether the aggressive pass ran.
func (m *Manager) PruneBasedOnStorage(ctx context.Context) (Report, bool, error) {
	if m.volume == "" {
		return Report{}, false, nil
	}
	free, err := m.freeSpace(m.volume)
	if err != nil {
		return Report{}, false, fmt.Errorf("failed to probe free space: %w", err)
	}
	if free >= m.lowStorage {
		return Report{}, false, nil
	}

	m.log.Warn(ctx, "low storage, pruning cache", "free_bytes", free, "threshold", m.lowStorage)
	rep, err := m.cleanup(ctx, m.policies.Scaled(0.5), nil)
	return rep, true, err
}

// Start runs the periodic cleanup until ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.maintain(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *Manager) maintain(ctx context.Context) {
	if _, err := m.PerformCleanup(ctx, nil); err != nil {
		m.log.Error(ctx, "scheduled cache cleanup failed", "error", err)
	}
	if _, _, err := m.PruneBasedOnStorage(ctx); err != nil {
		m.log.Warn(ctx, "storage pressure check failed", "error", err)
	}
}

// Close stops background bookkeeping and waits for in-flight writes.
func (m *Manager) Close() {
	m.closed.Store(true)
	m.pending.Wait()
}
