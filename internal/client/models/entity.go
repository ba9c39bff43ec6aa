// Package models defines the client-side data shapes of the sync engine:
// syncable entities, queued operations, conflict records, cache metadata and
// the typed payloads used during conflict resolution.
package models

import (
	"encoding/json"
	"time"
)

// EntityType names a synchronizable record kind.
type EntityType string

const (
	EntityUser         EntityType = "user"
	EntityStory        EntityType = "story"
	EntityEvent        EntityType = "event"
	EntityMessage      EntityType = "message"
	EntityFamilyMember EntityType = "family_member"
	EntityRelationship EntityType = "relationship"
	EntityVaultItem    EntityType = "vault_item"
)

// EntityTypes lists every known entity type.
var EntityTypes = []EntityType{
	EntityUser,
	EntityStory,
	EntityEvent,
	EntityMessage,
	EntityFamilyMember,
	EntityRelationship,
	EntityVaultItem,
}

func (t EntityType) Valid() bool {
	for _, v := range EntityTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Entity is the locally persisted state of one synchronizable record.
type Entity struct {
	// ID is the stable identifier; the authority may replace it on first sync.
	ID string
	// LocalID is the client-generated identifier and never changes.
	LocalID string
	Type    EntityType

	// SyncVersion is the authority version this row was last reconciled with.
	SyncVersion int64

	IsDirty   bool
	IsDeleted bool

	UpdatedAt    time.Time
	LastSyncedAt *time.Time

	DeviceID string

	// Payload is the JSON-encoded typed payload.
	Payload json.RawMessage
	// BasePayload is the payload as of the last successful sync, used as the
	// common ancestor for three-way merges. Nil before first sync.
	BasePayload json.RawMessage
}

// Filter narrows an entity query. Zero values mean "any".
type Filter struct {
	IDs            []string
	Dirty          *bool
	IncludeDeleted bool
	UpdatedAfter   time.Time
}

// Order selects the sort column of an entity query.
type Order string

const (
	OrderUpdatedAtDesc Order = "updated_at_desc"
	OrderUpdatedAtAsc  Order = "updated_at_asc"
	OrderID            Order = "id"
)
