package models

import (
	"encoding/json"
	"time"
)

type ConflictType string

const (
	ConflictMetadata            ConflictType = "metadata"
	ConflictStructural          ConflictType = "structural"
	ConflictPerFieldTimestamped ConflictType = "per_field_timestamped"
	ConflictRelational          ConflictType = "relational"
)

type Strategy string

const (
	StrategyLastWriterWins    Strategy = "last_writer_wins"
	StrategyFieldMerge        Strategy = "field_merge"
	StrategyThreeWayMerge     Strategy = "three_way_merge"
	StrategyListUnion         Strategy = "list_union"
	StrategyPerEntryTimestamp Strategy = "per_entry_timestamp"
)

// ConflictRecord is the audit trail of one detected version mismatch.
type ConflictRecord struct {
	ID            string
	EntityType    EntityType
	EntityID      string
	LocalVersion  int64
	RemoteVersion int64
	ConflictType  ConflictType
	Strategy      Strategy

	LocalPayload    json.RawMessage
	RemotePayload   json.RawMessage
	ResolvedPayload json.RawMessage

	LocalDeviceID  string
	RemoteDeviceID string

	CreatedAt  time.Time
	ResolvedAt *time.Time
}
