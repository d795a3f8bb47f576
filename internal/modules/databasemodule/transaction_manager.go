package databasemodule

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/dicomingest/internal/utils"
	"gorm.io/gorm"
)

// TransactionManager opens the write transactions of one writer session
type TransactionManager struct {
	db     *gorm.DB
	logger hclog.Logger

	committed  atomic.Int64
	rolledBack atomic.Int64
}

// TransactionContext wraps a transaction for safe handling
type TransactionContext struct {
	tx      *gorm.DB
	started time.Time
	id      string
}

// TransactionStats counts finished transactions
type TransactionStats struct {
	Committed  int64 `json:"committed"`
	RolledBack int64 `json:"rolled_back"`
}

// NewTransactionManager creates a new transaction manager
func NewTransactionManager(db *gorm.DB, logger hclog.Logger) *TransactionManager {
	return &TransactionManager{
		db:     db,
		logger: logger.Named("tx"),
	}
}

// BeginTransaction starts a new database transaction bound to ctx
func (tm *TransactionManager) BeginTransaction(ctx context.Context) (*TransactionContext, error) {
	tx := tm.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}

	txCtx := &TransactionContext{
		tx:      tx,
		started: time.Now(),
		id:      utils.GenerateUUID(),
	}

	tm.logger.Trace("started transaction", "tx", txCtx.id)
	return txCtx, nil
}

// Commit commits the transaction
func (tc *TransactionContext) Commit() error {
	if tc.tx == nil {
		return fmt.Errorf("transaction context is nil")
	}
	if err := tc.tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tc.tx = nil
	return nil
}

// Rollback rolls back the transaction
func (tc *TransactionContext) Rollback() error {
	if tc.tx == nil {
		return fmt.Errorf("transaction context is nil")
	}
	if err := tc.tx.Rollback().Error; err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	tc.tx = nil
	return nil
}

// DB returns the transaction database instance
func (tc *TransactionContext) DB() *gorm.DB {
	return tc.tx
}

// ID returns the transaction ID
func (tc *TransactionContext) ID() string {
	return tc.id
}

// Duration returns how long the transaction has been running
func (tc *TransactionContext) Duration() time.Duration {
	return time.Since(tc.started)
}

// IsActive checks if the transaction is still active
func (tc *TransactionContext) IsActive() bool {
	return tc.tx != nil
}

// WithTransaction executes fn within a transaction. Any error from fn, or a
// panic, rolls the transaction back; otherwise it is committed.
func (tm *TransactionManager) WithTransaction(ctx context.Context, fn func(*gorm.DB) error) error {
	txCtx, err := tm.BeginTransaction(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if txCtx.IsActive() {
			if rbErr := txCtx.Rollback(); rbErr != nil {
				tm.logger.Error("failed to rollback transaction", "tx", txCtx.ID(), "error", rbErr)
			}
			tm.rolledBack.Add(1)
			tm.logger.Debug("rolled back transaction", "tx", txCtx.ID(), "duration", txCtx.Duration())
		}
	}()

	if err := fn(txCtx.DB()); err != nil {
		return err
	}

	if err := txCtx.Commit(); err != nil {
		tm.logger.Error("failed to commit transaction", "tx", txCtx.ID(), "error", err)
		return err
	}
	tm.committed.Add(1)
	tm.logger.Trace("committed transaction", "tx", txCtx.ID(), "duration", txCtx.Duration())
	return nil
}

// Stats returns transaction counts
func (tm *TransactionManager) Stats() TransactionStats {
	return TransactionStats{
		Committed:  tm.committed.Load(),
		RolledBack: tm.rolledBack.Load(),
	}
}
