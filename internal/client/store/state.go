package store

import (
	"context"
	"strconv"
	"time"

	"github.com/dmitrijs2005/famsync/internal/client/models"
)

// Metadata keys.
const (
	KeyLastSyncTimestamp = "sync.last_timestamp"
	KeyPendingCount      = "sync.pending_count"
	KeyNeedsAttention    = "sync.needs_attention"
	KeyAccessToken       = "auth.access_token"
	KeyDeviceID          = "device.id"
	cacheMissPrefix      = "cache.misses."
	syncKeyPrefix        = "sync."
)

// SyncState is the aggregate state persisted after every drain.
type SyncState struct {
	LastSyncAt     time.Time
	Pending        int64
	NeedsAttention int64
}

// SaveSyncState stamps the drain time and recomputes the pending and
// needs-attention counters from the queue.
func (s *Store) SaveSyncState(ctx context.Context, at time.Time) (SyncState, error) {
	st := SyncState{LastSyncAt: at.UTC()}
	err := s.tx(ctx, func(r repos) error {
		counts, err := r.queue.CountByStatus(ctx)
		if err != nil {
			return err
		}
		st.Pending = counts[models.StatusPending] + counts[models.StatusSyncing]
		st.NeedsAttention = counts[models.StatusFailed] + counts[models.StatusConflict]

		values := map[string]string{
			KeyLastSyncTimestamp: strconv.FormatInt(st.LastSyncAt.UnixMilli(), 10),
			KeyPendingCount:      strconv.FormatInt(st.Pending, 10),
			KeyNeedsAttention:    strconv.FormatInt(st.NeedsAttention, 10),
		}
		for k, v := range values {
			if err := r.meta.Set(ctx, k, []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
	return st, err
}

// LoadSyncState reads the last persisted aggregate state. Missing keys
// yield zero values.
func (s *Store) LoadSyncState(ctx context.Context) (SyncState, error) {
	var st SyncState
	all, err := s.direct().meta.List(ctx, syncKeyPrefix)
	if err != nil {
		return st, err
	}
	if v, ok := all[KeyLastSyncTimestamp]; ok {
		if ms, err := strconv.ParseInt(string(v), 10, 64); err == nil {
			st.LastSyncAt = time.UnixMilli(ms).UTC()
		}
	}
	st.Pending, _ = strconv.ParseInt(string(all[KeyPendingCount]), 10, 64)
	st.NeedsAttention, _ = strconv.ParseInt(string(all[KeyNeedsAttention]), 10, 64)
	return st, nil
}

// GetMeta returns a metadata value or nil.
func (s *Store) GetMeta(ctx context.Context, key string) ([]byte, error) {
	return s.direct().meta.Get(ctx, key)
}

func (s *Store) SetMeta(ctx context.Context, key string, value []byte) error {
	return s.direct().meta.Set(ctx, key, value)
}

func (s *Store) DeleteMeta(ctx context.Context, key string) error {
	return s.direct().meta.Delete(ctx, key)
}

// CacheMisses returns the recorded miss counter of a cache type.
func (s *Store) CacheMisses(ctx context.Context, entityType string) (int64, error) {
	return s.direct().meta.Increment(ctx, cacheMissPrefix+entityType, 0)
}
