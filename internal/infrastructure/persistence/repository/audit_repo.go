package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/invoice-workflow/internal/application/port"
	"github.com/garyjia/invoice-workflow/internal/domain/entity"
	"github.com/garyjia/invoice-workflow/internal/infrastructure/persistence/sqldb"
)

// AuditRepository implements port.AuditLog over the workflow_events table
type AuditRepository struct {
	db     *sqldb.DB
	clock  port.Clock
	logger *zap.Logger
}

// NewAuditRepository creates a new audit log repository
func NewAuditRepository(db *sqldb.DB, clock port.Clock, logger *zap.Logger) port.AuditLog {
	return &AuditRepository{
		db:     db,
		clock:  clock,
		logger: logger,
	}
}

// Append inserts a workflow event. A zero CreatedAt is filled with the current
// time, never earlier than the invoice's latest event.
func (r *AuditRepository) Append(ctx context.Context, evt *entity.WorkflowEvent) (int64, error) {
	exec := r.db.Executor(ctx)

	if evt.CreatedAt.IsZero() {
		var last int64
		err := exec.QueryRowContext(ctx,
			r.db.Rebind(`SELECT COALESCE(MAX(created_at), 0) FROM workflow_events WHERE invoice_id = ?`),
			evt.InvoiceID,
		).Scan(&last)
		if err != nil {
			r.logger.Error("Failed to read latest event time", zap.Int64("invoice_id", evt.InvoiceID), zap.Error(err))
			return 0, fmt.Errorf("failed to read latest event time: %w", err)
		}

		now := sqldb.ToMicros(r.clock.Now())
		if last > now {
			now = last
		}
		evt.CreatedAt = sqldb.FromMicros(now)
	}

	query := r.db.Rebind(`
		INSERT INTO workflow_events (
			invoice_id, action, from_status, to_status, actor_id, notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	err := exec.QueryRowContext(ctx, query,
		evt.InvoiceID,
		evt.Action,
		nullString(evt.FromStatus),
		nullString(evt.ToStatus),
		nullString(evt.ActorID),
		nullString(evt.Notes),
		sqldb.ToMicros(evt.CreatedAt),
	).Scan(&evt.ID)
	if err != nil {
		r.logger.Error("Failed to append workflow event",
			zap.Int64("invoice_id", evt.InvoiceID),
			zap.String("action", evt.Action),
			zap.Error(err))
		return 0, fmt.Errorf("failed to append workflow event: %w", err)
	}

	return evt.ID, nil
}

// History returns all events for an invoice in creation order
func (r *AuditRepository) History(ctx context.Context, invoiceID int64) ([]*entity.WorkflowEvent, error) {
	query := r.db.Rebind(`
		SELECT id, invoice_id, action, from_status, to_status, actor_id, notes, created_at
		FROM workflow_events
		WHERE invoice_id = ?
		ORDER BY created_at ASC, id ASC
	`)

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, invoiceID)
	if err != nil {
		r.logger.Error("Failed to get workflow history", zap.Int64("invoice_id", invoiceID), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow history: %w", err)
	}
	defer rows.Close()

	events := []*entity.WorkflowEvent{}
	for rows.Next() {
		var (
			evt                           entity.WorkflowEvent
			fromStatus, toStatus, actorID sql.NullString
			notes                         sql.NullString
			createdAt                     int64
		)
		err := rows.Scan(
			&evt.ID,
			&evt.InvoiceID,
			&evt.Action,
			&fromStatus,
			&toStatus,
			&actorID,
			&notes,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow event: %w", err)
		}
		evt.FromStatus = fromStatus.String
		evt.ToStatus = toStatus.String
		evt.ActorID = actorID.String
		evt.Notes = notes.String
		evt.CreatedAt = sqldb.FromMicros(createdAt)
		events = append(events, &evt)
	}

	return events, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Verify interface compliance
var _ port.AuditLog = (*AuditRepository)(nil)
