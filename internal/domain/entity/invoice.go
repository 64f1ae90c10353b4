package entity

import "time"

// Invoice represents a billable document tracked through the workflow.
// Status is owned by the record store and only changes through the workflow engine.
type Invoice struct {
	ID          int64      `json:"id"`
	Number      string     `json:"invoice_number"`
	CustomerID  int64      `json:"customer_id"`
	TotalCents  int64      `json:"total_cents"`
	TaxCents    int64      `json:"tax_cents"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
