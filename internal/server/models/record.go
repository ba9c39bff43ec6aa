// Package models defines the records the reference authority persists.
package models

import (
	"encoding/json"
	"time"
)

// Record is the authority's copy of one entity. Records are scoped to the
// user named in the access token.
type Record struct {
	UserID     string
	EntityType string
	EntityID   string
	// Version is bumped on every accepted write, starting at 1.
	Version   int64
	Data      json.RawMessage
	Deleted   bool
	DeviceID  string
	UpdatedAt time.Time
}

// Change announces an accepted write to the user's other connections.
type Change struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Version    int64  `json:"version"`
	Deleted    bool   `json:"deleted"`
	DeviceID   string `json:"deviceId"`
}
