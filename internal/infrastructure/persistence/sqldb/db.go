package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/invoice-workflow/internal/application/port"
	"github.com/garyjia/invoice-workflow/pkg/database"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const txKey contextKey = "tx"

// DB wraps sql.DB and implements port.TransactionManager
type DB struct {
	*sql.DB
	driver database.Driver
	logger *zap.Logger
}

// NewDB creates a new database wrapper
func NewDB(sqlDB *sql.DB, driver database.Driver, logger *zap.Logger) *DB {
	return &DB{
		DB:     sqlDB,
		driver: driver,
		logger: logger,
	}
}

// WithTransaction executes fn within a transaction carried by the context.
// Nested calls join the outer transaction.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx := TxFromContext(ctx); tx != nil {
		return fn(ctx)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.logger.Error("Failed to begin transaction", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey, tx)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			db.logger.Error("Transaction panicked, rolled back", zap.Any("panic", p))
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
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

// Executor returns the transaction from ctx, or the pool when there is none
func (db *DB) Executor(ctx context.Context) Executor {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return db.DB
}

// Rebind rewrites ? placeholders for the underlying driver
func (db *DB) Rebind(query string) string {
	return db.driver.Rebind(query)
}

// TxFromContext retrieves the transaction from context if present
func TxFromContext(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// Executor covers both *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ToMicros converts a time to the stored representation
func ToMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

// CeilMicros converts a time to microseconds, rounding any sub-microsecond
// remainder up. Comparing a stored value with "col < CeilMicros(t)" is the
// exact strictly-before check against t.
func CeilMicros(t time.Time) int64 {
	us := t.UTC().UnixMicro()
	if t.Sub(time.UnixMicro(us)) > 0 {
		us++
	}
	return us
}

// FromMicros converts a stored timestamp back to UTC time
func FromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

// Verify interface compliance
var _ port.TransactionManager = (*DB)(nil)
