// Package sqldb carries the ambient transaction used by the repositories.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garyjia/opsflow/internal/application/port"
	"github.com/garyjia/opsflow/pkg/database"
	"go.uber.org/zap"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const txKey contextKey = "tx"

// DB wraps sql.DB and implements TransactionManager
type DB struct {
	*sql.DB
	dialect database.Dialect
	logger  *zap.Logger
}

// NewDB creates a new database wrapper
func NewDB(sqlDB *sql.DB, dialect database.Dialect, logger *zap.Logger) *DB {
	return &DB{
		DB:      sqlDB,
		dialect: dialect,
		logger:  logger,
	}
}

// Dialect returns the SQL dialect of the underlying driver
func (db *DB) Dialect() database.Dialect {
	return db.dialect
}

// WithTransaction implements port.TransactionManager
// Executes the provided function within a database transaction
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	// Check if already in a transaction
	if tx := extractTx(ctx); tx != nil {
		return fn(ctx)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.logger.Error("Failed to begin transaction", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey, tx)

	// Handle panic and ensure rollback
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			db.logger.Error("Transaction panicked, rolled back", zap.Any("panic", p))
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		db.logger.Error("Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// extractTx retrieves transaction from context if present
func extractTx(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// Executor returns the ambient transaction, or the pool outside one. Queries
// are rebound to the dialect's placeholder style.
func (db *DB) Executor(ctx context.Context) Executor {
	var e executor = db.DB
	if tx := extractTx(ctx); tx != nil {
		e = tx
	}
	return Executor{e: e, dialect: db.dialect}
}

// executor interface covers both *sql.DB and *sql.Tx
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Executor runs ?-placeholder queries against a pool or transaction.
type Executor struct {
	e       executor
	dialect database.Dialect
}

func (x Executor) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return x.e.ExecContext(ctx, x.dialect.Rebind(query), args...)
}

func (x Executor) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return x.e.QueryContext(ctx, x.dialect.Rebind(query), args...)
}

func (x Executor) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return x.e.QueryRowContext(ctx, x.dialect.Rebind(query), args...)
}

// Verify interface compliance
var _ port.TransactionManager = (*DB)(nil)
