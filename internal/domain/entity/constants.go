package entity

// Workflow event actions. The action column is free-form; these are the ones
// the engine writes itself.
const (
	ActionCreated          = "created"
	ActionStatusTransition = "status_transition"
	ActionAutoOverdue      = "auto_overdue"
	ActionEmailSent        = "email_sent"
)

// Canned notes for the named workflow operations
const (
	NotesInvoiceSent      = "Invoice sent to customer"
	NotesEmailSent        = "Invoice email sent"
	NotesPaymentReceived  = "Payment received"
	NotesInvoiceCancelled = "Invoice cancelled"
	NotesAutoOverdue      = "Automatically marked as overdue"
	NotesInvoiceCreated   = "Invoice created"
)
