package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/registrar-api/internal/models"
)

// InvoiceRepository reads billing invoices. The registrar never writes them.
type InvoiceRepository struct {
	db *sqlx.DB
}

// NewInvoiceRepository constructs the repository.
func NewInvoiceRepository(db *sqlx.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// ListOverdue returns open invoices due before cutoff.
func (r *InvoiceRepository) ListOverdue(ctx context.Context, cutoff time.Time) ([]models.Invoice, error) {
	const query = `SELECT id, student_id, number, amount_cents, due_at, paid_at, status FROM invoices
WHERE status = 'open' AND paid_at IS NULL AND due_at < $1 ORDER BY student_id ASC, due_at ASC`
	var invoices []models.Invoice
	if err := r.db.SelectContext(ctx, &invoices, query, cutoff); err != nil {
		return nil, fmt.Errorf("list overdue invoices: %w", err)
	}
	return invoices, nil
}
