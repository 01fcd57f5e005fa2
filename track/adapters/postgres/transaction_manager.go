package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tracklane/processor/es"
)

type txKey struct{}

// TransactionManager brackets track.TokenStore and track.MessageSource
// operations in database/sql transactions, following the
// begin/defer-rollback/commit shape the postgres.Processor in this
// codebase's lineage used directly against *sql.DB, generalized here
// into the injectable track.TransactionManager port.
type TransactionManager struct {
	db *sql.DB
}

// NewTransactionManager wraps db.
func NewTransactionManager(db *sql.DB) *TransactionManager {
	return &TransactionManager{db: db}
}

// ExecuteInTransaction implements track.TransactionManager.
func (m *TransactionManager) ExecuteInTransaction(ctx context.Context, action func(ctx context.Context) error) error {
	_, err := m.FetchInTransaction(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, action(ctx)
	})
	return err
}

// FetchInTransaction implements track.TransactionManager.
func (m *TransactionManager) FetchInTransaction(ctx context.Context, supplier func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("track/adapters/postgres: failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := supplier(context.WithValue(ctx, txKey{}, es.DBTX(tx)))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("track/adapters/postgres: failed to commit transaction: %w", err)
	}
	return result, nil
}

// dbtxFromContext returns the transaction stashed by an enclosing
// ExecuteInTransaction/FetchInTransaction call, falling back to db
// itself for callers invoked outside one (DeserializeToken-adjacent
// read paths that don't need transactional isolation).
func dbtxFromContext(ctx context.Context, db *sql.DB) es.DBTX {
	if tx, ok := ctx.Value(txKey{}).(es.DBTX); ok {
		return tx
	}
	return db
}
