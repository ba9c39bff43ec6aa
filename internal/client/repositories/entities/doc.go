// Package entities provides the persistence layer for syncable entities.
//
// # Overview
//
// All entity kinds share one table keyed by (entity_type, id). The typed
// payload is stored as JSON next to the sync bookkeeping columns (version,
// dirty flag, tombstone, base snapshot). SQLiteRepository works over a
// dbx.DBTX so callers can compose it inside a transaction.
//
// Timestamps are stored as Unix milliseconds.
package entities
