package repomanager

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/famsync/internal/server/repositories/records"
)

// MemoryRepositoryManager keeps records in process memory. Transactions are
// serialized; a failing fn does not roll back writes it already made.
type MemoryRepositoryManager struct {
	mu   sync.Mutex
	repo *records.MemoryRepository
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{repo: records.NewMemoryRepository()}
}

func (m *MemoryRepositoryManager) RunMigrations(context.Context) error { return nil }

func (m *MemoryRepositoryManager) WithinTx(ctx context.Context, fn func(ctx context.Context, repo records.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, m.repo)
}

func (m *MemoryRepositoryManager) Records() records.Repository { return m.repo }

func (m *MemoryRepositoryManager) Close() error { return nil }
