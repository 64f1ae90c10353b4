package entity

import "time"

// WorkflowEvent is an append-only audit record for one invoice.
// Empty FromStatus/ToStatus mean the action is not a status change;
// an empty ActorID means the action was system-initiated.
type WorkflowEvent struct {
	ID         int64     `json:"id"`
	InvoiceID  int64     `json:"invoice_id"`
	Action     string    `json:"action"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsTransition reports whether the event records a validated walk step.
// Annotations such as created or email_sent may carry statuses but are not
// part of the replayable history.
func (e *WorkflowEvent) IsTransition() bool {
	return e.Action == ActionStatusTransition || e.Action == ActionAutoOverdue
}
