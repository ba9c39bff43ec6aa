// Package conflict resolves diverged local and remote versions of an entity.
//
// Resolve is pure: it never mutates its inputs and never touches storage.
// Which strategy applies is decided by the entity type alone:
//
//	user, relationship  metadata               last writer wins
//	event               per-field timestamped  field merge, guests unioned, RSVPs by user
//	story               structural             three-way merge, tags unioned
//	family_member       relational             three-way merge, relation ids unioned
//	message             per-field timestamped  body by last writer, reactions by user+emoji
//	vault_item          relational             content by last writer, members unioned
//
// A tombstone on either side always falls back to whole-record last writer
// wins.
package conflict

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/famsync/internal/client/models"
	"github.com/dmitrijs2005/famsync/internal/common"
)

var ErrPayloadMismatch = errors.New("payload does not match entity type")

// Snapshot is one side of a conflict.
type Snapshot struct {
	Version   int64
	UpdatedAt time.Time
	DeviceID  string
	Deleted   bool
	Data      models.Payload
}

type Resolution struct {
	Data      models.Payload
	Deleted   bool
	UpdatedAt time.Time

	Strategy     models.Strategy
	ConflictType models.ConflictType

	// MatchesRemote is true when the result equals the remote snapshot, so
	// nothing has to be written back.
	MatchesRemote bool
}

// Policy returns the conflict type and primary strategy of an entity type.
func Policy(t models.EntityType) (models.ConflictType, models.Strategy, error) {
	switch t {
	case models.EntityUser, models.EntityRelationship:
		return models.ConflictMetadata, models.StrategyLastWriterWins, nil
	case models.EntityEvent:
		return models.ConflictPerFieldTimestamped, models.StrategyFieldMerge, nil
	case models.EntityStory:
		return models.ConflictStructural, models.StrategyThreeWayMerge, nil
	case models.EntityFamilyMember:
		return models.ConflictRelational, models.StrategyThreeWayMerge, nil
	case models.EntityMessage:
		return models.ConflictPerFieldTimestamped, models.StrategyPerEntryTimestamp, nil
	case models.EntityVaultItem:
		return models.ConflictRelational, models.StrategyListUnion, nil
	default:
		return "", "", fmt.Errorf("%w: %q", common.ErrUnknownEntityType, t)
	}
}

// Resolve merges local and remote. base is the last synced common ancestor
// and may be nil.
func Resolve(entityType models.EntityType, local, remote Snapshot, base *Snapshot) (Resolution, error) {
	conflictType, strategy, err := Policy(entityType)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{
		ConflictType: conflictType,
		Strategy:     strategy,
		UpdatedAt:    latest(local.UpdatedAt, remote.UpdatedAt),
	}

	if local.Deleted || remote.Deleted || strategy == models.StrategyLastWriterWins {
		winner := remote
		if localWins(local, remote) {
			winner = local
		}
		res.Strategy = models.StrategyLastWriterWins
		res.Data = winner.Data
		res.Deleted = winner.Deleted
		if res.Data == nil {
			if res.Data, err = models.DecodePayload(entityType, nil); err != nil {
				return Resolution{}, err
			}
		}
		return finish(res, remote)
	}

	var baseData models.Payload
	if base != nil {
		baseData = base.Data
	}
	newer := localWins(local, remote)

	switch l := local.Data.(type) {
	case models.Event:
		r, b, err := sides[models.Event](remote.Data, baseData)
		if err != nil {
			return Resolution{}, err
		}
		res.Data = mergeEvent(l, r, b, newer)
	case models.Story:
		r, b, err := sides[models.Story](remote.Data, baseData)
		if err != nil {
			return Resolution{}, err
		}
		res.Data = mergeStory(l, r, b)
	case models.FamilyMember:
		r, b, err := sides[models.FamilyMember](remote.Data, baseData)
		if err != nil {
			return Resolution{}, err
		}
		res.Data = mergeFamilyMember(l, r, b)
	case models.Message:
		r, _, err := sides[models.Message](remote.Data, baseData)
		if err != nil {
			return Resolution{}, err
		}
		res.Data = mergeMessage(l, r, newer)
	case models.VaultItem:
		r, _, err := sides[models.VaultItem](remote.Data, baseData)
		if err != nil {
			return Resolution{}, err
		}
		res.Data = mergeVaultItem(l, r, newer)
	default:
		return Resolution{}, fmt.Errorf("%w: %s got %T", ErrPayloadMismatch, entityType, local.Data)
	}

	if res.Data.EntityType() != entityType {
		return Resolution{}, fmt.Errorf("%w: %s got %s", ErrPayloadMismatch, entityType, res.Data.EntityType())
	}
	return finish(res, remote)
}

// sides asserts the remote and (optional) base payloads to T.
func sides[T models.Payload](remote, base models.Payload) (T, *T, error) {
	r, ok := remote.(T)
	if !ok {
		var zero T
		return zero, nil, fmt.Errorf("%w: remote is %T, want %T", ErrPayloadMismatch, remote, zero)
	}
	if base == nil {
		return r, nil, nil
	}
	b, ok := base.(T)
	if !ok {
		return r, nil, fmt.Errorf("%w: base is %T, want %T", ErrPayloadMismatch, base, r)
	}
	return r, &b, nil
}

func finish(res Resolution, remote Snapshot) (Resolution, error) {
	matches, err := samePayload(res.Data, remote.Data)
	if err != nil {
		return Resolution{}, err
	}
	res.MatchesRemote = matches && res.Deleted == remote.Deleted
	return res, nil
}

func samePayload(a, b models.Payload) (bool, error) {
	if a == nil || b == nil {
		return a == nil && b == nil, nil
	}
	ab, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ab, bb), nil
}

// localWins reports whether local is the last writer. Equal timestamps are
// broken by the higher device id so every replica picks the same winner.
func localWins(local, remote Snapshot) bool {
	if !local.UpdatedAt.Equal(remote.UpdatedAt) {
		return local.UpdatedAt.After(remote.UpdatedAt)
	}
	return local.DeviceID > remote.DeviceID
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
