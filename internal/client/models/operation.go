package models

import (
	"encoding/json"
	"time"
)

type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

func (t OperationType) Valid() bool {
	return t == OpCreate || t == OpUpdate || t == OpDelete
}

type OperationStatus string

const (
	StatusPending   OperationStatus = "pending"
	StatusSyncing   OperationStatus = "syncing"
	StatusCompleted OperationStatus = "completed"
	StatusFailed    OperationStatus = "failed"
	StatusConflict  OperationStatus = "conflict"
)

// Active reports whether the status is non-terminal.
func (s OperationStatus) Active() bool {
	return s == StatusPending || s == StatusSyncing
}

// Operation is one durable queued mutation awaiting remote confirmation.
type Operation struct {
	ID         string
	Type       OperationType
	EntityType EntityType
	EntityID   string
	Payload    json.RawMessage
	Priority   int
	Status     OperationStatus

	RetryCount  int
	NextRetryAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeviceID    string

	// Revision is bumped every time a later mutation folds into this row.
	Revision  int64
	LastError string
}
