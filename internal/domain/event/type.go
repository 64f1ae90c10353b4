package event

// Type identifies the type of domain event
type Type string

const (
	TypeInvoiceCreated Type = "invoice.created"
	TypeStatusChanged  Type = "invoice.status_changed"
	TypeActionLogged   Type = "invoice.action_logged"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeInvoiceCreated,
		TypeStatusChanged,
		TypeActionLogged:
		return true
	default:
		return false
	}
}
