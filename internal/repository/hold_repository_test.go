package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/models"
)

func TestHoldRepositoryActiveHolds(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewHoldRepository(db)

	rows := sqlmock.NewRows([]string{"id", "student_id", "category", "reason", "active", "raised_at", "cleared_at"}).
		AddRow("h1", "s1", "registration-blocking", "overdue_invoice", true, time.Now(), nil)
	mock.ExpectQuery(`FROM financial_holds WHERE student_id = \$1 AND active = TRUE`).
		WithArgs("s1").
		WillReturnRows(rows)

	holds, err := repo.ActiveHolds(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.True(t, holds[0].BlocksRegistration())
}

func TestHoldRepositoryRaiseDuplicate(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewHoldRepository(db)

	mock.ExpectExec("INSERT INTO financial_holds").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "financial_holds_active_reason"})

	hold := &models.FinancialHold{StudentID: "s1", Category: models.HoldCategoryRegistrationBlocking, Reason: models.HoldReasonOverdueInvoice}
	err := repo.Raise(context.Background(), hold)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NotEmpty(t, hold.ID)
}

func TestHoldRepositoryClear(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewHoldRepository(db)
	at := time.Now()

	mock.ExpectExec(`UPDATE financial_holds SET active = FALSE`).
		WithArgs("h1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Clear(context.Background(), "h1", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvoiceRepositoryListOverdue(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()
	repo := NewInvoiceRepository(db)
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "student_id", "number", "amount_cents", "due_at", "paid_at", "status"}).
		AddRow("i1", "s1", "INV-1", 125000, cutoff.Add(-96*time.Hour), nil, "open")
	mock.ExpectQuery(`FROM invoices`).WithArgs(cutoff).WillReturnRows(rows)

	invoices, err := repo.ListOverdue(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, int64(125000), invoices[0].AmountCents)
}
