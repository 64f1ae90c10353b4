package workflow

import "fmt"

// Status represents an invoice lifecycle state
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSent      Status = "sent"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

// InitialStatus is the status every invoice is created in
const InitialStatus = StatusDraft

var validStatuses = map[Status]bool{
	StatusDraft:     true,
	StatusSent:      true,
	StatusPaid:      true,
	StatusOverdue:   true,
	StatusCancelled: true,
}

var terminalStatuses = map[Status]bool{
	StatusPaid:      true,
	StatusCancelled: true,
}

// IsTerminal returns true if no further transitions are allowed from the status
func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is one of the fixed lifecycle states
func (s Status) IsValid() bool {
	return validStatuses[s]
}

// ParseStatus converts a stored value into a Status
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidState, raw)
	}
	return s, nil
}
