package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/invoice-workflow/internal/application/dispatcher"
	"github.com/garyjia/invoice-workflow/internal/application/port"
	"github.com/garyjia/invoice-workflow/internal/domain/entity"
	"github.com/garyjia/invoice-workflow/internal/domain/event"
	domainwf "github.com/garyjia/invoice-workflow/internal/domain/workflow"
)

// DefaultLockTimeout bounds lock acquisition when the caller's context has no deadline
const DefaultLockTimeout = 5 * time.Second

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	invoices   port.InvoiceRepository
	auditLog   port.AuditLog
	txManager  port.TransactionManager
	dispatcher dispatcher.Dispatcher
	clock      port.Clock
	logger     *zap.Logger

	table       *domainwf.Table
	locks       *keyedLocker
	lockTimeout time.Duration
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithClock overrides the system clock
func WithClock(c port.Clock) EngineOption {
	return func(e *engineImpl) {
		e.clock = c
	}
}

// WithLogger sets the engine logger
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = logger
	}
}

// WithLockTimeout sets how long a call without a deadline waits for the invoice lock
func WithLockTimeout(d time.Duration) EngineOption {
	return func(e *engineImpl) {
		e.lockTimeout = d
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	invoices port.InvoiceRepository,
	auditLog port.AuditLog,
	txManager port.TransactionManager,
	opts ...EngineOption,
) Engine {
	e := &engineImpl{
		invoices:    invoices,
		auditLog:    auditLog,
		txManager:   txManager,
		clock:       port.SystemClock{},
		logger:      zap.NewNop(),
		table:       domainwf.InvoiceTable(),
		locks:       newKeyedLocker(),
		lockTimeout: DefaultLockTimeout,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// transitionRequest carries everything written by one transition
type transitionRequest struct {
	to      domainwf.Status
	action  string
	actorID string
	notes   string
	// extra events appended in the same unit of work after the transition event
	extra []*entity.WorkflowEvent
}

// Transition moves the invoice one edge along the transition table
func (e *engineImpl) Transition(ctx context.Context, invoiceID int64, to domainwf.Status, actorID, notes string) error {
	return e.transition(ctx, invoiceID, transitionRequest{
		to:      to,
		action:  entity.ActionStatusTransition,
		actorID: actorID,
		notes:   notes,
	})
}

// Send moves a draft invoice to sent
func (e *engineImpl) Send(ctx context.Context, invoiceID int64, actorID string, opts SendOptions) error {
	req := transitionRequest{
		to:      domainwf.StatusSent,
		action:  entity.ActionStatusTransition,
		actorID: actorID,
		notes:   entity.NotesInvoiceSent,
	}
	if opts.EmailSent {
		req.extra = append(req.extra, &entity.WorkflowEvent{
			InvoiceID: invoiceID,
			Action:    entity.ActionEmailSent,
			ActorID:   actorID,
			Notes:     entity.NotesEmailSent,
		})
	}
	return e.transition(ctx, invoiceID, req)
}

// MarkPaid moves the invoice to paid
func (e *engineImpl) MarkPaid(ctx context.Context, invoiceID int64, actorID, paymentRef string) error {
	notes := entity.NotesPaymentReceived
	if paymentRef != "" {
		notes = fmt.Sprintf("%s. Reference: %s", entity.NotesPaymentReceived, paymentRef)
	}
	return e.Transition(ctx, invoiceID, domainwf.StatusPaid, actorID, notes)
}

// Cancel moves the invoice to cancelled
func (e *engineImpl) Cancel(ctx context.Context, invoiceID int64, actorID, reason string) error {
	notes := entity.NotesInvoiceCancelled
	if reason != "" {
		notes = fmt.Sprintf("%s. Reason: %s", entity.NotesInvoiceCancelled, reason)
	}
	return e.Transition(ctx, invoiceID, domainwf.StatusCancelled, actorID, notes)
}

// MarkOverdue records a system-initiated move to overdue
func (e *engineImpl) MarkOverdue(ctx context.Context, invoiceID int64) error {
	return e.transition(ctx, invoiceID, transitionRequest{
		to:     domainwf.StatusOverdue,
		action: entity.ActionAutoOverdue,
		notes:  entity.NotesAutoOverdue,
	})
}

func (e *engineImpl) transition(ctx context.Context, invoiceID int64, req transitionRequest) error {
	release, err := e.acquire(ctx, invoiceID)
	if err != nil {
		return err
	}
	defer release()

	var from domainwf.Status
	var auditID int64

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		current, err := e.currentStatus(txCtx, invoiceID)
		if err != nil {
			return err
		}
		from = current

		if !e.table.CanTransition(from, req.to) {
			return fmt.Errorf("%w: invoice %d cannot move from %s to %s",
				domainwf.ErrInvalidTransition, invoiceID, from, req.to)
		}

		// guards against writers that bypass this process's locks
		ok, err := e.invoices.CompareAndSetStatus(txCtx, invoiceID, from.String(), req.to.String())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: invoice %d is no longer %s",
				domainwf.ErrInvalidTransition, invoiceID, from)
		}

		auditID, err = e.auditLog.Append(txCtx, &entity.WorkflowEvent{
			InvoiceID:  invoiceID,
			Action:     req.action,
			FromStatus: from.String(),
			ToStatus:   req.to.String(),
			ActorID:    req.actorID,
			Notes:      req.notes,
		})
		if err != nil {
			return err
		}

		for _, extra := range req.extra {
			if _, err := e.auditLog.Append(txCtx, extra); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		err = e.classify(ctx, err)
		if errors.Is(err, domainwf.ErrInvalidTransition) {
			e.logger.Debug("Transition rejected",
				zap.Int64("invoice_id", invoiceID),
				zap.String("to_status", req.to.String()),
				zap.Error(err))
		} else {
			e.logger.Warn("Transition failed",
				zap.Int64("invoice_id", invoiceID),
				zap.String("to_status", req.to.String()),
				zap.Error(err))
		}
		return err
	}

	e.logger.Info("Invoice status changed",
		zap.Int64("invoice_id", invoiceID),
		zap.String("from_status", from.String()),
		zap.String("to_status", req.to.String()),
		zap.String("action", req.action),
		zap.String("actor_id", req.actorID))

	e.emit(ctx, event.NewStatusChanged(invoiceID, from.String(), req.to.String(), req.action, req.actorID, auditID))
	return nil
}

// LogAction appends an annotation. The invoice must exist and must not be in a terminal status.
func (e *engineImpl) LogAction(ctx context.Context, entry ActionEntry) (int64, error) {
	if entry.Action == "" {
		return 0, fmt.Errorf("action is required")
	}

	release, err := e.acquire(ctx, entry.InvoiceID)
	if err != nil {
		return 0, err
	}
	defer release()

	var id int64
	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		current, err := e.currentStatus(txCtx, entry.InvoiceID)
		if err != nil {
			return err
		}
		if current.IsTerminal() {
			return fmt.Errorf("%w: invoice %d is %s", domainwf.ErrInvalidTransition, entry.InvoiceID, current)
		}

		id, err = e.auditLog.Append(txCtx, &entity.WorkflowEvent{
			InvoiceID:  entry.InvoiceID,
			Action:     entry.Action,
			FromStatus: entry.FromStatus,
			ToStatus:   entry.ToStatus,
			ActorID:    entry.ActorID,
			Notes:      entry.Notes,
		})
		return err
	})
	if err != nil {
		return 0, e.classify(ctx, err)
	}

	e.emit(ctx, event.NewEvent(event.TypeActionLogged, entry.InvoiceID, map[string]interface{}{
		event.PayloadAction:  entry.Action,
		event.PayloadActorID: entry.ActorID,
		event.PayloadAuditID: id,
	}))
	return id, nil
}

// ValidNextStates returns the statuses reachable from the invoice's current status
func (e *engineImpl) ValidNextStates(ctx context.Context, invoiceID int64) ([]domainwf.Status, error) {
	current, err := e.currentStatus(ctx, invoiceID)
	if err != nil {
		return nil, e.classify(ctx, err)
	}
	return e.table.AllowedTargets(current), nil
}

// CreateInvoice stores a new draft invoice together with its created event
func (e *engineImpl) CreateInvoice(ctx context.Context, invoice *entity.Invoice, actorID string) error {
	if invoice == nil {
		return fmt.Errorf("invoice cannot be nil")
	}

	now := e.clock.Now()
	invoice.Status = domainwf.InitialStatus.String()
	invoice.CreatedAt = now
	invoice.UpdatedAt = now

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.invoices.Create(txCtx, invoice); err != nil {
			return err
		}
		_, err := e.auditLog.Append(txCtx, &entity.WorkflowEvent{
			InvoiceID: invoice.ID,
			Action:    entity.ActionCreated,
			ToStatus:  invoice.Status,
			ActorID:   actorID,
			Notes:     entity.NotesInvoiceCreated,
		})
		return err
	})
	if err != nil {
		return e.classify(ctx, err)
	}

	e.logger.Info("Invoice created",
		zap.Int64("invoice_id", invoice.ID),
		zap.String("number", invoice.Number),
		zap.String("actor_id", actorID))

	e.emit(ctx, event.NewEvent(event.TypeInvoiceCreated, invoice.ID, map[string]interface{}{
		event.PayloadToStatus: invoice.Status,
		event.PayloadActorID:  actorID,
	}))
	return nil
}

// GetInvoice returns the stored invoice
func (e *engineImpl) GetInvoice(ctx context.Context, invoiceID int64) (*entity.Invoice, error) {
	invoice, err := e.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, e.classify(ctx, err)
	}
	return invoice, nil
}

// History returns the audit trail in creation order
func (e *engineImpl) History(ctx context.Context, invoiceID int64) ([]*entity.WorkflowEvent, error) {
	events, err := e.auditLog.History(ctx, invoiceID)
	if err != nil {
		return nil, e.classify(ctx, err)
	}
	return events, nil
}

// VerifyHistory replays the transition events and compares the walk with the stored status.
// Both reads happen under the invoice lock in one unit of work so a concurrent
// transition cannot land between them.
func (e *engineImpl) VerifyHistory(ctx context.Context, invoiceID int64) error {
	release, err := e.acquire(ctx, invoiceID)
	if err != nil {
		return err
	}
	defer release()

	var current domainwf.Status
	var events []*entity.WorkflowEvent

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		current, err = e.currentStatus(txCtx, invoiceID)
		if err != nil {
			return err
		}
		events, err = e.auditLog.History(txCtx, invoiceID)
		return err
	})
	if err != nil {
		return e.classify(ctx, err)
	}

	return ReplayHistory(e.table, current, events)
}

// currentStatus loads and parses the stored status.
// An unknown stored value has no outgoing edges.
func (e *engineImpl) currentStatus(ctx context.Context, invoiceID int64) (domainwf.Status, error) {
	raw, err := e.invoices.GetStatus(ctx, invoiceID)
	if err != nil {
		return "", err
	}

	status, err := domainwf.ParseStatus(raw)
	if err != nil {
		return "", fmt.Errorf("%w: invoice %d: %w", domainwf.ErrInvalidTransition, invoiceID, err)
	}
	return status, nil
}

// acquire takes the invoice lock, bounded by ctx or the default lock timeout
func (e *engineImpl) acquire(ctx context.Context, invoiceID int64) (func(), error) {
	lockCtx := ctx
	if _, ok := ctx.Deadline(); !ok && e.lockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, e.lockTimeout)
		defer cancel()
	}

	release, err := e.locks.Acquire(lockCtx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("%w: invoice %d: %w", domainwf.ErrConcurrencyTimeout, invoiceID, err)
	}
	return release, nil
}

// classify maps an error from the unit of work onto exactly one engine category
func (e *engineImpl) classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, domainwf.ErrInvalidTransition),
		errors.Is(err, domainwf.ErrInvoiceNotFound),
		errors.Is(err, domainwf.ErrConcurrencyTimeout),
		errors.Is(err, domainwf.ErrStoreUnavailable):
		return err
	case ctx.Err() != nil,
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", domainwf.ErrConcurrencyTimeout, err)
	default:
		return fmt.Errorf("%w: %w", domainwf.ErrStoreUnavailable, err)
	}
}

// emit hands a committed change to the dispatcher without waiting on handlers
func (e *engineImpl) emit(ctx context.Context, evt *event.Event) {
	if e.dispatcher == nil {
		return
	}
	e.dispatcher.DispatchAsync(ctx, evt)
}
