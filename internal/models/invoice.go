package models

import "time"

// InvoiceStatus mirrors the billing system's status column.
type InvoiceStatus string

const (
	InvoiceStatusOpen   InvoiceStatus = "open"
	InvoiceStatusPaid   InvoiceStatus = "paid"
	InvoiceStatusVoided InvoiceStatus = "void"
)

// Invoice is a read-only billing record.
type Invoice struct {
	ID          string        `db:"id" json:"id"`
	StudentID   string        `db:"student_id" json:"student_id"`
	Number      string        `db:"number" json:"number"`
	AmountCents int64         `db:"amount_cents" json:"amount_cents"`
	DueAt       time.Time     `db:"due_at" json:"due_at"`
	PaidAt      *time.Time    `db:"paid_at" json:"paid_at,omitempty"`
	Status      InvoiceStatus `db:"status" json:"status"`
}

// OverdueAt reports whether the invoice is unsettled beyond the grace period.
func (i Invoice) OverdueAt(now time.Time, grace time.Duration) bool {
	if i.Status != InvoiceStatusOpen || i.PaidAt != nil {
		return false
	}
	return i.DueAt.Add(grace).Before(now)
}
