package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/invoice-workflow/internal/application/port"
	"github.com/garyjia/invoice-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/invoice-workflow/internal/domain/workflow"
	"github.com/garyjia/invoice-workflow/internal/infrastructure/persistence/sqldb"
)

// InvoiceRepository implements port.InvoiceRepository
type InvoiceRepository struct {
	db     *sqldb.DB
	clock  port.Clock
	logger *zap.Logger
}

// NewInvoiceRepository creates a new invoice repository
func NewInvoiceRepository(db *sqldb.DB, clock port.Clock, logger *zap.Logger) port.InvoiceRepository {
	return &InvoiceRepository{
		db:     db,
		clock:  clock,
		logger: logger,
	}
}

// Create inserts a new invoice
func (r *InvoiceRepository) Create(ctx context.Context, invoice *entity.Invoice) error {
	query := r.db.Rebind(`
		INSERT INTO invoices (
			number, customer_id, total_cents, tax_cents, description,
			status, due_date, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = r.clock.Now()
	}
	if invoice.UpdatedAt.IsZero() {
		invoice.UpdatedAt = invoice.CreatedAt
	}

	var dueDate sql.NullInt64
	if invoice.DueDate != nil {
		dueDate = sql.NullInt64{Int64: sqldb.ToMicros(*invoice.DueDate), Valid: true}
	}

	err := r.db.Executor(ctx).QueryRowContext(ctx, query,
		invoice.Number,
		invoice.CustomerID,
		invoice.TotalCents,
		invoice.TaxCents,
		invoice.Description,
		invoice.Status,
		dueDate,
		sqldb.ToMicros(invoice.CreatedAt),
		sqldb.ToMicros(invoice.UpdatedAt),
	).Scan(&invoice.ID)
	if err != nil {
		r.logger.Error("Failed to create invoice", zap.String("number", invoice.Number), zap.Error(err))
		return fmt.Errorf("failed to create invoice: %w", err)
	}

	return nil
}

// GetByID retrieves an invoice by ID
func (r *InvoiceRepository) GetByID(ctx context.Context, id int64) (*entity.Invoice, error) {
	query := r.db.Rebind(`
		SELECT id, number, customer_id, total_cents, tax_cents, description,
			status, due_date, created_at, updated_at
		FROM invoices
		WHERE id = ?
	`)

	var (
		invoice              entity.Invoice
		dueDate              sql.NullInt64
		createdAt, updatedAt int64
	)
	err := r.db.Executor(ctx).QueryRowContext(ctx, query, id).Scan(
		&invoice.ID,
		&invoice.Number,
		&invoice.CustomerID,
		&invoice.TotalCents,
		&invoice.TaxCents,
		&invoice.Description,
		&invoice.Status,
		&dueDate,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invoice %d: %w", id, domainwf.ErrInvoiceNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get invoice by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}

	if dueDate.Valid {
		due := sqldb.FromMicros(dueDate.Int64)
		invoice.DueDate = &due
	}
	invoice.CreatedAt = sqldb.FromMicros(createdAt)
	invoice.UpdatedAt = sqldb.FromMicros(updatedAt)

	return &invoice, nil
}

// GetStatus returns only the stored status
func (r *InvoiceRepository) GetStatus(ctx context.Context, id int64) (string, error) {
	query := r.db.Rebind(`SELECT status FROM invoices WHERE id = ?`)

	var status string
	err := r.db.Executor(ctx).QueryRowContext(ctx, query, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("invoice %d: %w", id, domainwf.ErrInvoiceNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get invoice status", zap.Int64("id", id), zap.Error(err))
		return "", fmt.Errorf("failed to get invoice status: %w", err)
	}

	return status, nil
}

// CompareAndSetStatus updates the status only if it still equals from
func (r *InvoiceRepository) CompareAndSetStatus(ctx context.Context, id int64, from, to string) (bool, error) {
	query := r.db.Rebind(`
		UPDATE invoices
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`)

	result, err := r.db.Executor(ctx).ExecContext(ctx, query, to, sqldb.ToMicros(r.clock.Now()), id, from)
	if err != nil {
		r.logger.Error("Failed to update invoice status",
			zap.Int64("id", id),
			zap.String("from_status", from),
			zap.String("to_status", to),
			zap.Error(err))
		return false, fmt.Errorf("failed to update invoice status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows == 1, nil
}

// ListDueBefore returns IDs of invoices in status with a due date strictly before the given time.
// Due dates are stored at microsecond resolution.
func (r *InvoiceRepository) ListDueBefore(ctx context.Context, status string, before time.Time) ([]int64, error) {
	query := r.db.Rebind(`
		SELECT id
		FROM invoices
		WHERE status = ? AND due_date IS NOT NULL AND due_date < ?
		ORDER BY due_date ASC, id ASC
	`)

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, status, sqldb.CeilMicros(before))
	if err != nil {
		r.logger.Error("Failed to list invoices due before",
			zap.String("status", status),
			zap.Time("before", before),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan invoice id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Verify interface compliance
var _ port.InvoiceRepository = (*InvoiceRepository)(nil)
