// Package services holds the reference authority's application logic: it
// applies sync envelopes to user-scoped records with optimistic version
// checks and reports stale writes back as conflicts carrying the current
// record.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	wire "github.com/dmitrijs2005/famsync/internal/client/models"
	"github.com/dmitrijs2005/famsync/internal/common"
	"github.com/dmitrijs2005/famsync/internal/logging"
	"github.com/dmitrijs2005/famsync/internal/server/models"
	"github.com/dmitrijs2005/famsync/internal/server/repositories/records"
	"github.com/dmitrijs2005/famsync/internal/server/repositories/repomanager"
)

// Notifier is told about every accepted write.
type Notifier interface {
	Notify(userID string, change models.Change)
}

type AuthorityService struct {
	repomanager repomanager.RepositoryManager
	notifier    Notifier
	clock       func() time.Time
	log         logging.Logger
}

type Option func(*AuthorityService)

func WithNotifier(n Notifier) Option {
	return func(s *AuthorityService) { s.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *AuthorityService) { s.clock = now }
}

func WithLogger(l logging.Logger) Option {
	return func(s *AuthorityService) { s.log = l }
}

func NewAuthorityService(rm repomanager.RepositoryManager, opts ...Option) *AuthorityService {
	s := &AuthorityService{
		repomanager: rm,
		clock:       time.Now,
		log:         logging.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("module", "authority_service")
	return s
}

func rejected(code, format string, args ...any) wire.RemoteResult {
	return wire.RemoteResult{Error: &wire.RemoteError{Code: code, Message: fmt.Sprintf(format, args...)}}
}

// check returns a rejection for envelopes no retry can fix.
func check(env wire.Envelope) (wire.RemoteResult, bool) {
	if !env.OperationType.Valid() {
		return rejected(wire.RemoteCodeInvalidArgument, "unknown operation type %q", env.OperationType), false
	}
	if !env.EntityType.Valid() {
		return rejected(wire.RemoteCodeValidation, "unknown entity type %q", env.EntityType), false
	}
	if env.EntityID == "" {
		return rejected(wire.RemoteCodeValidation, "entity id is required"), false
	}
	if env.OperationType == wire.OpDelete {
		return wire.RemoteResult{}, true
	}
	if !wire.IsJSONObject(env.Data) {
		return rejected(wire.RemoteCodeValidation, "data must be a JSON object"), false
	}
	if _, err := wire.DecodePayload(env.EntityType, env.Data); err != nil {
		return rejected(wire.RemoteCodeValidation, "%v", err), false
	}
	return wire.RemoteResult{}, true
}

func conflictWith(cur *models.Record) wire.RemoteResult {
	if cur == nil {
		return wire.RemoteResult{Conflict: &wire.RemoteConflict{Deleted: true}}
	}
	return wire.RemoteResult{Conflict: &wire.RemoteConflict{
		RemoteVersion: cur.Version,
		Data:          cur.Data,
		UpdatedAt:     cur.UpdatedAt,
		DeviceID:      cur.DeviceID,
		Deleted:       cur.Deleted,
	}}
}

// Apply applies one envelope on behalf of userID. Only storage failures are
// returned as errors; rejections and conflicts are reported in the result.
func (s *AuthorityService) Apply(ctx context.Context, userID string, env wire.Envelope) (wire.RemoteResult, error) {
	if res, ok := check(env); !ok {
		s.log.Info(ctx, "envelope rejected", "type", env.EntityType, "id", env.EntityID, "reason", res.Error.Message)
		return res, nil
	}

	var (
		result wire.RemoteResult
		next   *models.Record
	)
	err := s.repomanager.WithinTx(ctx, func(ctx context.Context, repo records.Repository) error {
		result, next = wire.RemoteResult{}, nil

		cur, err := repo.Get(ctx, userID, string(env.EntityType), env.EntityID)
		if errors.Is(err, common.ErrorNotFound) {
			cur = nil
		} else if err != nil {
			return err
		}

		rec, ok, err := s.nextRecord(userID, cur, env)
		if err != nil {
			return err
		}
		if !ok {
			result = conflictWith(cur)
			return nil
		}

		if cur == nil {
			err = repo.Insert(ctx, rec)
		} else {
			err = repo.Update(ctx, rec, cur.Version)
		}
		if errors.Is(err, common.ErrVersionConflict) {
			latest, gerr := repo.Get(ctx, userID, string(env.EntityType), env.EntityID)
			if gerr != nil && !errors.Is(gerr, common.ErrorNotFound) {
				return gerr
			}
			result = conflictWith(latest)
			return nil
		}
		if err != nil {
			return err
		}

		next = rec
		result = wire.RemoteResult{Success: true, SyncVersion: rec.Version, EntityID: rec.EntityID, Data: rec.Data}
		return nil
	})
	if err != nil {
		return wire.RemoteResult{}, fmt.Errorf("failed to apply envelope: %w", err)
	}

	if result.Conflict != nil {
		s.log.Info(ctx, "stale write", "type", env.EntityType, "id", env.EntityID,
			"base_version", env.BaseVersion, "remote_version", result.Conflict.RemoteVersion)
		return result, nil
	}

	s.log.Debug(ctx, "envelope applied", "type", env.EntityType, "id", env.EntityID, "version", next.Version)
	if s.notifier != nil {
		s.notifier.Notify(userID, models.Change{
			EntityType: next.EntityType,
			EntityID:   next.EntityID,
			Version:    next.Version,
			Deleted:    next.Deleted,
			DeviceID:   next.DeviceID,
		})
	}
	return result, nil
}

// nextRecord builds the record env produces on top of cur. ok is false when
// env was based on a version other than the stored one.
func (s *AuthorityService) nextRecord(userID string, cur *models.Record, env wire.Envelope) (*models.Record, bool, error) {
	var version int64
	if cur != nil {
		version = cur.Version
	}
	switch {
	case cur == nil && env.OperationType != wire.OpCreate:
		return nil, false, nil
	case cur != nil && env.BaseVersion != cur.Version:
		return nil, false, nil
	case cur != nil && cur.Deleted && env.OperationType == wire.OpUpdate:
		return nil, false, nil
	}

	// Records carry the writer's mutation time so last-writer-wins compares
	// edits, not upload order.
	at := env.Timestamp
	if at.IsZero() {
		at = s.clock()
	}
	rec := &models.Record{
		UserID:     userID,
		EntityType: string(env.EntityType),
		EntityID:   env.EntityID,
		Version:    version + 1,
		DeviceID:   env.DeviceID,
		UpdatedAt:  at.UTC(),
	}

	switch env.OperationType {
	case wire.OpCreate:
		rec.Data = env.Data
	case wire.OpUpdate:
		merged, err := wire.MergeObjects(cur.Data, env.Data)
		if err != nil {
			return nil, false, fmt.Errorf("failed to merge update: %w", err)
		}
		rec.Data = merged
	case wire.OpDelete:
		rec.Data = cur.Data
		rec.Deleted = true
	}
	return rec, true, nil
}

// ApplyBatch applies envelopes in order. A storage failure aborts the batch.
func (s *AuthorityService) ApplyBatch(ctx context.Context, userID string, envs []wire.Envelope) ([]wire.RemoteResult, error) {
	results := make([]wire.RemoteResult, 0, len(envs))
	for _, env := range envs {
		res, err := s.Apply(ctx, userID, env)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Count reports how many live records userID owns.
func (s *AuthorityService) Count(ctx context.Context, userID string) (int, error) {
	return s.repomanager.Records().Count(ctx, userID)
}
