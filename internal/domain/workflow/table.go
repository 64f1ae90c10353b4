package workflow

// invoiceTable is the single source of truth for legal status changes.
// It is built once at package initialization and never mutated afterwards.
var invoiceTable = buildInvoiceTable()

func buildInvoiceTable() *Table {
	builder := NewBuilder()

	builder.Configure(StatusDraft).
		Permit(StatusSent).
		Permit(StatusCancelled)

	builder.Configure(StatusSent).
		Permit(StatusPaid).
		Permit(StatusOverdue).
		Permit(StatusCancelled)

	builder.Configure(StatusOverdue).
		Permit(StatusPaid).
		Permit(StatusCancelled)

	// paid and cancelled are terminal: no outgoing edges

	return builder.Build()
}

// InvoiceTable returns the invoice transition table
func InvoiceTable() *Table {
	return invoiceTable
}

// AllowedTargets returns the statuses reachable from the given status
func AllowedTargets(from Status) []Status {
	return invoiceTable.AllowedTargets(from)
}

// CanTransition reports whether the invoice table permits from -> to
func CanTransition(from, to Status) bool {
	return invoiceTable.CanTransition(from, to)
}
