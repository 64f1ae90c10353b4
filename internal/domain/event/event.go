package event

import (
	"time"

	"github.com/google/uuid"
)

// Payload keys used by the workflow engine
const (
	PayloadFromStatus = "from_status"
	PayloadToStatus   = "to_status"
	PayloadAction     = "action"
	PayloadActorID    = "actor_id"
	PayloadAuditID    = "audit_event_id"
)

// Event is a notification emitted after a workflow change has been committed
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	InvoiceID     int64                  `json:"invoice_id"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with a generated ID and correlation ID
func NewEvent(eventType Type, invoiceID int64, payload map[string]interface{}) *Event {
	id := uuid.NewString()
	return &Event{
		ID:            id,
		Type:          eventType,
		InvoiceID:     invoiceID,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
		CorrelationID: id,
	}
}

// NewStatusChanged builds the event emitted after a committed transition
func NewStatusChanged(invoiceID int64, from, to, action, actorID string, auditID int64) *Event {
	return NewEvent(TypeStatusChanged, invoiceID, map[string]interface{}{
		PayloadFromStatus: from,
		PayloadToStatus:   to,
		PayloadAction:     action,
		PayloadActorID:    actorID,
		PayloadAuditID:    auditID,
	})
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
