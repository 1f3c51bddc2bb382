package models

import "time"

// HoldCategory classifies what a hold blocks.
type HoldCategory string

const (
	HoldCategoryRegistrationBlocking HoldCategory = "registration-blocking"
	HoldCategoryAdvisory             HoldCategory = "advisory"
)

// HoldReasonOverdueInvoice is the reason recorded by the invoice sweeper.
const HoldReasonOverdueInvoice = "overdue_invoice"

// FinancialHold flags a student account.
type FinancialHold struct {
	ID        string       `db:"id" json:"id"`
	StudentID string       `db:"student_id" json:"student_id"`
	Category  HoldCategory `db:"category" json:"category"`
	Reason    string       `db:"reason" json:"reason"`
	Active    bool         `db:"active" json:"active"`
	RaisedAt  time.Time    `db:"raised_at" json:"raised_at"`
	ClearedAt *time.Time   `db:"cleared_at" json:"cleared_at,omitempty"`
}

// BlocksRegistration reports whether the hold prevents enrollment.
func (h FinancialHold) BlocksRegistration() bool {
	return h.Active && h.Category == HoldCategoryRegistrationBlocking
}
