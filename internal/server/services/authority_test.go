package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wire "github.com/dmitrijs2005/famsync/internal/client/models"
	"github.com/dmitrijs2005/famsync/internal/server/models"
	"github.com/dmitrijs2005/famsync/internal/server/repositories/records"
	"github.com/dmitrijs2005/famsync/internal/server/repositories/repomanager"
)

var now = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	changes []models.Change
}

func (n *recordingNotifier) Notify(userID string, c models.Change) {
	n.changes = append(n.changes, c)
}

func newService(t *testing.T) (*AuthorityService, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	s := NewAuthorityService(repomanager.NewMemoryRepositoryManager(),
		WithNotifier(n),
		WithClock(func() time.Time { return now }),
	)
	return s, n
}

func env(op wire.OperationType, id string, base int64, data string) wire.Envelope {
	e := wire.Envelope{
		OperationType: op,
		EntityType:    wire.EntityStory,
		EntityID:      id,
		DeviceID:      "dev-1",
		Timestamp:     now,
		BaseVersion:   base,
	}
	if data != "" {
		e.Data = json.RawMessage(data)
	}
	return e
}

func TestApply_CreateUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s, n := newService(t)

	res, err := s.Apply(ctx, "u1", env(wire.OpCreate, "s1", 0, `{"title":"Picnic","body":"x"}`))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, int64(1), res.SyncVersion)
	assert.Equal(t, "s1", res.EntityID)

	res, err = s.Apply(ctx, "u1", env(wire.OpUpdate, "s1", 1, `{"title":"Beach"}`))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, int64(2), res.SyncVersion)
	assert.JSONEq(t, `{"title":"Beach","body":"x"}`, string(res.Data))

	res, err = s.Apply(ctx, "u1", env(wire.OpDelete, "s1", 2, ""))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, int64(3), res.SyncVersion)

	require.Len(t, n.changes, 3)
	assert.True(t, n.changes[2].Deleted)
	assert.Equal(t, "dev-1", n.changes[0].DeviceID)

	count, err := s.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestApply_StaleBaseReturnsRemoteSnapshot(t *testing.T) {
	ctx := context.Background()
	s, n := newService(t)

	_, err := s.Apply(ctx, "u1", env(wire.OpCreate, "s1", 0, `{"title":"A"}`))
	require.NoError(t, err)
	_, err = s.Apply(ctx, "u1", env(wire.OpUpdate, "s1", 1, `{"title":"B"}`))
	require.NoError(t, err)

	res, err := s.Apply(ctx, "u1", env(wire.OpUpdate, "s1", 1, `{"title":"C"}`))
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.NotNil(t, res.Conflict)
	assert.Equal(t, int64(2), res.Conflict.RemoteVersion)
	assert.JSONEq(t, `{"title":"B"}`, string(res.Conflict.Data))
	assert.Equal(t, "dev-1", res.Conflict.DeviceID)
	assert.True(t, res.Conflict.UpdatedAt.Equal(now))
	assert.False(t, res.Conflict.Deleted)

	assert.Len(t, n.changes, 2)
}

func TestApply_ConflictCarriesWriterTimestamp(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	// Edited offline at 09:00 on another device, uploaded at the server's
	// "now" two hours later.
	edited := now.Add(-2 * time.Hour)
	create := env(wire.OpCreate, "s1", 0, `{"title":"A"}`)
	create.Timestamp = edited
	create.DeviceID = "dev-2"
	_, err := s.Apply(ctx, "u1", create)
	require.NoError(t, err)

	res, err := s.Apply(ctx, "u1", env(wire.OpUpdate, "s1", 0, `{"title":"B"}`))
	require.NoError(t, err)
	require.NotNil(t, res.Conflict)
	assert.True(t, res.Conflict.UpdatedAt.Equal(edited), "got %v", res.Conflict.UpdatedAt)
	assert.Equal(t, "dev-2", res.Conflict.DeviceID)

	noTime := env(wire.OpCreate, "s2", 0, `{"title":"C"}`)
	noTime.Timestamp = time.Time{}
	_, err = s.Apply(ctx, "u1", noTime)
	require.NoError(t, err)
	res, err = s.Apply(ctx, "u1", env(wire.OpUpdate, "s2", 5, `{"title":"D"}`))
	require.NoError(t, err)
	require.NotNil(t, res.Conflict)
	assert.True(t, res.Conflict.UpdatedAt.Equal(now), "zero timestamps fall back to the server clock")
}

func TestApply_UpdateOfMissingRecordConflictsAsDeleted(t *testing.T) {
	s, _ := newService(t)

	res, err := s.Apply(context.Background(), "u1", env(wire.OpUpdate, "ghost", 3, `{"title":"x"}`))
	require.NoError(t, err)
	require.NotNil(t, res.Conflict)
	assert.True(t, res.Conflict.Deleted)
	assert.Equal(t, int64(0), res.Conflict.RemoteVersion)
}

func TestApply_UpdateOfTombstoneConflicts(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	_, err := s.Apply(ctx, "u1", env(wire.OpCreate, "s1", 0, `{"title":"A"}`))
	require.NoError(t, err)
	_, err = s.Apply(ctx, "u1", env(wire.OpDelete, "s1", 1, ""))
	require.NoError(t, err)

	res, err := s.Apply(ctx, "u1", env(wire.OpUpdate, "s1", 2, `{"title":"B"}`))
	require.NoError(t, err)
	require.NotNil(t, res.Conflict)
	assert.True(t, res.Conflict.Deleted)
	assert.Equal(t, int64(2), res.Conflict.RemoteVersion)
}

func TestApply_CreateRevivesTombstoneAtItsVersion(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	_, err := s.Apply(ctx, "u1", env(wire.OpCreate, "s1", 0, `{"title":"A"}`))
	require.NoError(t, err)
	_, err = s.Apply(ctx, "u1", env(wire.OpDelete, "s1", 1, ""))
	require.NoError(t, err)

	res, err := s.Apply(ctx, "u1", env(wire.OpCreate, "s1", 2, `{"title":"Again"}`))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, int64(3), res.SyncVersion)
}

func TestApply_UsersAreIsolated(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)

	_, err := s.Apply(ctx, "u1", env(wire.OpCreate, "s1", 0, `{"title":"A"}`))
	require.NoError(t, err)

	res, err := s.Apply(ctx, "u2", env(wire.OpCreate, "s1", 0, `{"title":"B"}`))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(1), res.SyncVersion)
}

func TestApply_Rejections(t *testing.T) {
	cases := []struct {
		name string
		env  wire.Envelope
		code string
	}{
		{"non-object data", env(wire.OpCreate, "s1", 0, `[1,2]`), wire.RemoteCodeValidation},
		{"missing data", env(wire.OpUpdate, "s1", 1, ""), wire.RemoteCodeValidation},
		{"wrong field type", env(wire.OpCreate, "s1", 0, `{"title":7}`), wire.RemoteCodeValidation},
		{"missing id", env(wire.OpCreate, "", 0, `{"title":"A"}`), wire.RemoteCodeValidation},
		{"unknown operation", env("upsert", "s1", 0, `{}`), wire.RemoteCodeInvalidArgument},
	}
	unknownType := env(wire.OpCreate, "x1", 0, `{}`)
	unknownType.EntityType = "recipe"
	cases = append(cases, struct {
		name string
		env  wire.Envelope
		code string
	}{"unknown entity type", unknownType, wire.RemoteCodeValidation})

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, n := newService(t)
			res, err := s.Apply(context.Background(), "u1", tc.env)
			require.NoError(t, err)
			assert.False(t, res.Success)
			require.NotNil(t, res.Error)
			assert.Equal(t, tc.code, res.Error.Code)
			assert.True(t, res.Error.IsValidation())
			assert.Empty(t, n.changes)
		})
	}
}

func TestApplyBatch_KeepsOrder(t *testing.T) {
	s, _ := newService(t)

	results, err := s.ApplyBatch(context.Background(), "u1", []wire.Envelope{
		env(wire.OpCreate, "s1", 0, `{"title":"A"}`),
		env(wire.OpCreate, "s2", 0, `[]`),
		env(wire.OpUpdate, "s1", 1, `{"body":"b"}`),
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.NotNil(t, results[1].Error)
	assert.True(t, results[2].Success)
	assert.Equal(t, int64(2), results[2].SyncVersion)
}

type racingRepo struct {
	records.Repository
}

func (r racingRepo) Update(ctx context.Context, rec *models.Record, expected int64) error {
	return r.Repository.Update(ctx, rec, expected+10)
}

type racingManager struct {
	*repomanager.MemoryRepositoryManager
}

func (m racingManager) WithinTx(ctx context.Context, fn func(ctx context.Context, repo records.Repository) error) error {
	return m.MemoryRepositoryManager.WithinTx(ctx, func(ctx context.Context, repo records.Repository) error {
		return fn(ctx, racingRepo{repo})
	})
}

func TestApply_LostUpdateRaceBecomesConflict(t *testing.T) {
	ctx := context.Background()
	rm := racingManager{repomanager.NewMemoryRepositoryManager()}
	s := NewAuthorityService(rm)

	_, err := s.Apply(ctx, "u1", env(wire.OpCreate, "s1", 0, `{"title":"A"}`))
	require.NoError(t, err)

	res, err := s.Apply(ctx, "u1", env(wire.OpUpdate, "s1", 1, `{"title":"B"}`))
	require.NoError(t, err)
	require.NotNil(t, res.Conflict)
	assert.Equal(t, int64(1), res.Conflict.RemoteVersion)
}

type failingManager struct {
	*repomanager.MemoryRepositoryManager
}

func (failingManager) WithinTx(context.Context, func(ctx context.Context, repo records.Repository) error) error {
	return errors.New("db is down")
}

func TestApply_StorageErrorIsReturned(t *testing.T) {
	s := NewAuthorityService(failingManager{repomanager.NewMemoryRepositoryManager()})

	_, err := s.Apply(context.Background(), "u1", env(wire.OpCreate, "s1", 0, `{"title":"A"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to apply envelope")

	_, err = s.ApplyBatch(context.Background(), "u1", []wire.Envelope{env(wire.OpCreate, "s1", 0, `{"title":"A"}`)})
	require.Error(t, err)
}
