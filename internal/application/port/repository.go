package port

import (
	"context"
	"time"

	"github.com/garyjia/invoice-workflow/internal/domain/entity"
)

// InvoiceRepository is the record store contract the workflow core relies on.
// Implementations must join the transaction carried by ctx when present.
type InvoiceRepository interface {
	// Create inserts a new invoice and sets its ID
	Create(ctx context.Context, invoice *entity.Invoice) error

	// GetByID returns the invoice or workflow.ErrInvoiceNotFound
	GetByID(ctx context.Context, id int64) (*entity.Invoice, error)

	// GetStatus returns the stored status or workflow.ErrInvoiceNotFound
	GetStatus(ctx context.Context, id int64) (string, error)

	// CompareAndSetStatus writes to only if the stored status still equals from.
	// Returns false when no row matched.
	CompareAndSetStatus(ctx context.Context, id int64, from, to string) (bool, error)

	// ListDueBefore returns the IDs of invoices in status whose due date is strictly before the given time
	ListDueBefore(ctx context.Context, status string, before time.Time) ([]int64, error)
}

// AuditLog is the append-only, per-invoice ordered workflow history
type AuditLog interface {
	// Append persists the event, assigning CreatedAt (if zero) and ID
	Append(ctx context.Context, evt *entity.WorkflowEvent) (int64, error)

	// History returns the events for one invoice in creation order
	History(ctx context.Context, invoiceID int64) ([]*entity.WorkflowEvent, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
