package repomanager

import (
	"context"

	"github.com/dmitrijs2005/famsync/internal/server/repositories/records"
)

// RepositoryManager owns the authority's storage backend.
type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	// WithinTx runs fn with a records repository whose writes commit
	// together when fn returns nil.
	WithinTx(ctx context.Context, fn func(ctx context.Context, repo records.Repository) error) error
	Records() records.Repository
	Close() error
}
