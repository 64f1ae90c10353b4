package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Config holds database configuration
type Config struct {
	Driver          Driver
	Path            string // sqlite file path
	DSN             string // postgres connection URL
	BusyTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB wraps sql.DB with the driver it was opened with
type DB struct {
	*sql.DB
	Driver Driver
	logger *zap.Logger
}

// Open creates a new database connection
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*DB, error) {
	dsn, err := dataSourceName(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Driver == DriverSQLite || cfg.Driver == "" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	sqlDB, err := sql.Open(cfg.Driver.SQLDriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection established",
		zap.String("driver", string(cfg.Driver)),
		zap.String("path", cfg.Path))

	return &DB{DB: sqlDB, Driver: cfg.Driver, logger: logger}, nil
}

func dataSourceName(cfg Config) (string, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		if cfg.Path == "" {
			return "", fmt.Errorf("sqlite path is required")
		}
		busy := cfg.BusyTimeout
		if busy <= 0 {
			busy = 5 * time.Second
		}
		// immediate transactions take the write lock up front so concurrent writers queue on busy_timeout
		return fmt.Sprintf("file:%s?_txlock=immediate&_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on",
			cfg.Path, busy.Milliseconds()), nil
	case DriverPostgres:
		if cfg.DSN == "" {
			return "", fmt.Errorf("postgres dsn is required")
		}
		return cfg.DSN, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// WithTransaction executes a function within a transaction
func (db *DB) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		db.logger.Error("Failed to begin transaction", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
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

// Close closes the database connection
func (db *DB) Close() error {
	db.logger.Info("Closing database connection")
	return db.DB.Close()
}
