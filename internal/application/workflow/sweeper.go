package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/garyjia/invoice-workflow/internal/application/port"
	domainwf "github.com/garyjia/invoice-workflow/internal/domain/workflow"
)

// Sweeper moves sent invoices past their due date to overdue
type Sweeper struct {
	engine   Engine
	invoices port.InvoiceRepository
	clock    port.Clock
	logger   *zap.Logger
}

// NewSweeper creates a sweeper that transitions through engine
func NewSweeper(engine Engine, invoices port.InvoiceRepository, clock port.Clock, logger *zap.Logger) *Sweeper {
	if clock == nil {
		clock = port.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		engine:   engine,
		invoices: invoices,
		clock:    clock,
		logger:   logger,
	}
}

// RunNow sweeps using the injected clock
func (s *Sweeper) RunNow(ctx context.Context) (int, error) {
	return s.Run(ctx, s.clock.Now())
}

// Run transitions every sent invoice due strictly before now and returns how many moved.
// Invoices that left sent or disappeared since the snapshot are skipped silently;
// other failures are collected and the scan continues. Due dates are compared
// at the record store's resolution, which is one microsecond for the SQL store.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.invoices.ListDueBefore(ctx, domainwf.StatusSent.String(), now)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to list overdue candidates: %w", domainwf.ErrStoreUnavailable, err)
	}

	var (
		count int
		errs  error
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: sweep interrupted: %w", domainwf.ErrConcurrencyTimeout, ctx.Err()))
			break
		}

		err := s.engine.MarkOverdue(ctx, id)
		switch {
		case err == nil:
			count++
		case errors.Is(err, domainwf.ErrInvalidTransition), errors.Is(err, domainwf.ErrInvoiceNotFound):
			s.logger.Debug("Skipping invoice no longer eligible for overdue",
				zap.Int64("invoice_id", id),
				zap.Error(err))
		default:
			s.logger.Error("Failed to mark invoice overdue",
				zap.Int64("invoice_id", id),
				zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("invoice %d: %w", id, err))
		}
	}

	s.logger.Info("Overdue sweep finished",
		zap.Time("now", now),
		zap.Int("candidates", len(ids)),
		zap.Int("transitioned", count),
		zap.Int("failed", len(multierr.Errors(errs))))

	return count, errs
}
