package memory

import (
	"context"
	"sync"
)

// TransactionManager serializes access for callers that need
// track.TransactionManager semantics but have no real transactional
// storage underneath. It provides mutual exclusion, not rollback: a
// failed action's side effects (already applied to the TokenStore or
// invoker) are not undone.
type TransactionManager struct {
	mu sync.Mutex
}

// NewTransactionManager creates a TransactionManager.
func NewTransactionManager() *TransactionManager {
	return &TransactionManager{}
}

// ExecuteInTransaction implements track.TransactionManager.
func (m *TransactionManager) ExecuteInTransaction(ctx context.Context, action func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return action(ctx)
}

// FetchInTransaction implements track.TransactionManager.
func (m *TransactionManager) FetchInTransaction(ctx context.Context, supplier func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return supplier(ctx)
}
