package workflow

import (
	"context"

	"github.com/garyjia/invoice-workflow/internal/domain/entity"
	domainwf "github.com/garyjia/invoice-workflow/internal/domain/workflow"
)

// Engine is the only authorized path for mutating invoice status.
//
// Every mutating call returns nil on success or an error wrapping exactly one of
// domainwf.ErrInvoiceNotFound, domainwf.ErrInvalidTransition,
// domainwf.ErrConcurrencyTimeout or domainwf.ErrStoreUnavailable.
type Engine interface {
	// Transition moves the invoice one edge along the transition table and
	// appends a status_transition event in the same unit of work
	Transition(ctx context.Context, invoiceID int64, to domainwf.Status, actorID, notes string) error

	// LogAction appends an annotation without consulting the transition table
	LogAction(ctx context.Context, entry ActionEntry) (int64, error)

	// Send moves a draft invoice to sent
	Send(ctx context.Context, invoiceID int64, actorID string, opts SendOptions) error

	// MarkPaid moves the invoice to paid, folding the payment reference into the notes
	MarkPaid(ctx context.Context, invoiceID int64, actorID, paymentRef string) error

	// Cancel moves the invoice to cancelled, folding the reason into the notes
	Cancel(ctx context.Context, invoiceID int64, actorID, reason string) error

	// MarkOverdue is the system transition used by the sweeper
	MarkOverdue(ctx context.Context, invoiceID int64) error

	// ValidNextStates returns the statuses reachable from the invoice's current status
	ValidNextStates(ctx context.Context, invoiceID int64) ([]domainwf.Status, error)

	// CreateInvoice stores a new draft invoice together with its created event
	CreateInvoice(ctx context.Context, invoice *entity.Invoice, actorID string) error

	// GetInvoice returns the stored invoice
	GetInvoice(ctx context.Context, invoiceID int64) (*entity.Invoice, error)

	// History returns the audit trail in creation order
	History(ctx context.Context, invoiceID int64) ([]*entity.WorkflowEvent, error)

	// VerifyHistory replays the transition events from draft and checks the
	// walk ends at the stored status
	VerifyHistory(ctx context.Context, invoiceID int64) error
}

// ActionEntry describes an audit annotation
type ActionEntry struct {
	InvoiceID  int64
	Action     string
	FromStatus string
	ToStatus   string
	ActorID    string
	Notes      string
}

// SendOptions controls the side records written by Send
type SendOptions struct {
	// EmailSent appends an email_sent event alongside the transition
	EmailSent bool
}
