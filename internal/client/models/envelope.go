package models

import (
	"encoding/json"
	"time"
)

// Envelope is the payload handed to the remote-call collaborator for one
// operation.
type Envelope struct {
	OperationType OperationType   `json:"operationType"`
	EntityType    EntityType      `json:"entityType"`
	EntityID      string          `json:"entityId"`
	Data          json.RawMessage `json:"data,omitempty"`
	DeviceID      string          `json:"deviceId"`
	Timestamp     time.Time       `json:"timestamp"`
	BaseVersion   int64           `json:"baseVersion"`
}

// RemoteResult is the authority's answer to one envelope.
type RemoteResult struct {
	Success bool `json:"success"`
	// SyncVersion is the authority version after a successful apply.
	SyncVersion int64 `json:"syncVersion,omitempty"`
	// EntityID is set when the authority assigned a new id on create.
	EntityID string          `json:"entityId,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`

	Conflict *RemoteConflict `json:"conflict,omitempty"`
	Error    *RemoteError    `json:"error,omitempty"`
}

// RemoteConflict carries the authority's current snapshot of the record.
type RemoteConflict struct {
	RemoteVersion int64           `json:"remoteVersion"`
	Data          json.RawMessage `json:"data,omitempty"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	DeviceID      string          `json:"deviceId"`
	Deleted       bool            `json:"deleted"`
}

type RemoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Remote error codes that mark a payload as unfixable by retrying.
const (
	RemoteCodeValidation      = "validation"
	RemoteCodeInvalidArgument = "invalid_argument"
)

func (e *RemoteError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

// IsValidation reports whether the error code is a validation failure.
func (e *RemoteError) IsValidation() bool {
	return e != nil && (e.Code == RemoteCodeValidation || e.Code == RemoteCodeInvalidArgument)
}
