package workflow

import "fmt"

// Machine walks a Table one edge at a time. It is used to replay an audit
// trail and is not safe for concurrent use.
type Machine struct {
	table   *Table
	current Status
}

// NewMachine creates a machine positioned at the initial status
func NewMachine(table *Table, initial Status) *Machine {
	if !initial.IsValid() {
		panic(fmt.Sprintf("invalid initial status: %s", initial))
	}
	return &Machine{table: table, current: initial}
}

// State returns the current status
func (m *Machine) State() Status {
	return m.current
}

// CanFire returns true if the machine may move to the target
func (m *Machine) CanFire(to Status) bool {
	return m.table.CanTransition(m.current, to)
}

// Fire moves the machine to the target status if the edge exists
func (m *Machine) Fire(to Status) error {
	if !m.CanFire(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.current, to)
	}
	m.current = to
	return nil
}
