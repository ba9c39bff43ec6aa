// Package common defines shared constants and sentinel errors used across
// the sync engine, its transport and the reference authority. Callers should
// use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorInternal      = errors.New("internal error")
	ErrorUnauthorized  = errors.New("unauthorized")
	ErrVersionConflict = errors.New("version conflict")

	// Validation errors: retrying cannot fix these.
	ErrValidation = errors.New("validation error")

	// ErrEntityDeleted is returned when a mutation targets a tombstoned entity.
	ErrEntityDeleted = errors.New("entity is deleted")

	// ErrUnknownEntityType is returned for entity types without a registered payload.
	ErrUnknownEntityType = errors.New("unknown entity type")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// ErrSyncInProgress is returned when an operation is in flight and cannot be changed.
	ErrSyncInProgress = errors.New("sync in progress")
)
