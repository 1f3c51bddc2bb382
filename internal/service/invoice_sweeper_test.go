package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository/inmem"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

func TestInvoiceSweepRaisesAndClearsHolds(t *testing.T) {
	ctx := context.Background()
	invoices := inmem.NewInvoiceStore()
	holds := inmem.NewHoldStore()
	notes := &recordingNotifier{}
	sweeper := NewInvoiceSweeper(invoices, holds, notes, nil, 72*time.Hour, nil)

	invoices.Put(models.Invoice{ID: "i1", StudentID: "late", Number: "INV-1", Status: models.InvoiceStatusOpen, DueAt: testNow.Add(-96 * time.Hour)})
	invoices.Put(models.Invoice{ID: "i2", StudentID: "grace", Number: "INV-2", Status: models.InvoiceStatusOpen, DueAt: testNow.Add(-24 * time.Hour)})
	invoices.Put(models.Invoice{ID: "i3", StudentID: "paid", Number: "INV-3", Status: models.InvoiceStatusPaid, DueAt: testNow.Add(-240 * time.Hour)})

	report, err := sweeper.Sweep(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"late"}, report.Raised)
	assert.Empty(t, report.Cleared)
	assert.Contains(t, notes.kindsFor("late"), models.NotificationHoldBlocking)

	gate := NewHoldGate(holds, nil)
	assert.True(t, gate.IsRegistrationBlocked(ctx, "late"))
	assert.False(t, gate.IsRegistrationBlocked(ctx, "grace"))
	assert.False(t, gate.IsRegistrationBlocked(ctx, "paid"))

	again, err := sweeper.Sweep(ctx, testNow)
	require.NoError(t, err)
	assert.Empty(t, again.Raised, "second run with the same inputs changes nothing")
	assert.Empty(t, again.Cleared)
	active, err := holds.ActiveByReason(ctx, models.HoldReasonOverdueInvoice)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	paidAt := testNow
	invoices.Put(models.Invoice{ID: "i1", StudentID: "late", Number: "INV-1", Status: models.InvoiceStatusPaid, DueAt: testNow.Add(-96 * time.Hour), PaidAt: &paidAt})
	cleared, err := sweeper.Sweep(ctx, testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"late"}, cleared.Cleared)
	assert.False(t, gate.IsRegistrationBlocked(ctx, "late"))

	history, err := gate.ListHolds(ctx, "late")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Active)
	require.NotNil(t, history[0].ClearedAt)
}

func TestInvoiceSweepLeavesOtherHoldsAlone(t *testing.T) {
	ctx := context.Background()
	holds := inmem.NewHoldStore()
	require.NoError(t, holds.Raise(ctx, &models.FinancialHold{StudentID: "s1", Category: models.HoldCategoryRegistrationBlocking, Reason: "conduct"}))
	sweeper := NewInvoiceSweeper(inmem.NewInvoiceStore(), holds, nil, nil, 0, nil)

	report, err := sweeper.Sweep(ctx, testNow)
	require.NoError(t, err)
	assert.Empty(t, report.Cleared)
	assert.True(t, NewHoldGate(holds, nil).IsRegistrationBlocked(ctx, "s1"))
}

func TestInvoiceSweepReportsReadFailure(t *testing.T) {
	holds := inmem.NewHoldStore()
	holds.FailReads(errors.New("timeout"))
	sweeper := NewInvoiceSweeper(inmem.NewInvoiceStore(), holds, nil, nil, time.Hour, nil)
	_, err := sweeper.Sweep(context.Background(), testNow)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

func TestHoldGateIgnoresAdvisoryHolds(t *testing.T) {
	ctx := context.Background()
	holds := inmem.NewHoldStore()
	require.NoError(t, holds.Raise(ctx, &models.FinancialHold{StudentID: "s1", Category: models.HoldCategoryAdvisory, Reason: "advising"}))
	assert.False(t, NewHoldGate(holds, nil).IsRegistrationBlocked(ctx, "s1"))
}

func TestInvoiceSweepKeepsHoldWhileInvoiceIsUnpaid(t *testing.T) {
	ctx := context.Background()
	invoices := inmem.NewInvoiceStore()
	holds := inmem.NewHoldStore()
	invoices.Put(models.Invoice{ID: "i1", StudentID: "s1", Number: "INV-1", Status: models.InvoiceStatusOpen, DueAt: testNow.Add(-96 * time.Hour)})

	report, err := NewInvoiceSweeper(invoices, holds, nil, nil, 72*time.Hour, nil).Sweep(ctx, testNow)
	require.NoError(t, err)
	require.Equal(t, []string{"s1"}, report.Raised)

	// A longer grace period puts the invoice back inside grace; it is still unpaid.
	longer := NewInvoiceSweeper(invoices, holds, nil, nil, 240*time.Hour, nil)
	report, err = longer.Sweep(ctx, testNow)
	require.NoError(t, err)
	assert.Empty(t, report.Cleared)
	assert.True(t, NewHoldGate(holds, nil).IsRegistrationBlocked(ctx, "s1"))

	paidAt := testNow
	invoices.Put(models.Invoice{ID: "i1", StudentID: "s1", Number: "INV-1", Status: models.InvoiceStatusPaid, DueAt: testNow.Add(-96 * time.Hour), PaidAt: &paidAt})
	report, err = longer.Sweep(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, report.Cleared)
}
