package inmem

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
)

func seedSection(t *testing.T, store *RegistrationStore, id string, capacity int) {
	t.Helper()
	require.NoError(t, store.CreateSection(context.Background(), &models.CourseSection{
		ID: id, TermID: "2026S", CourseCode: "CS" + id, Credits: 3, Capacity: capacity,
	}))
}

func TestWithinTxRollsBackEveryWrite(t *testing.T) {
	store := NewRegistrationStore()
	seedSection(t, store, "a", 2)
	ctx := context.Background()
	now := time.Now()

	boom := errors.New("fault")
	err := store.WithinTx(ctx, func(tx repository.RegistrationTx) error {
		section, err := tx.LockSection(ctx, "a")
		require.NoError(t, err)
		section.EnrolledCount = 1
		require.NoError(t, tx.UpdateSection(ctx, section))
		e := models.NewEnrolled("e1", "s1", *section, now)
		require.NoError(t, tx.InsertEnrollment(ctx, &e))
		return boom
	})
	require.ErrorIs(t, err, boom)

	section, err := store.GetSection(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 0, section.EnrolledCount)
	enrollments, err := store.ListEnrollments(ctx, models.EnrollmentFilter{})
	require.NoError(t, err)
	assert.Empty(t, enrollments)
}

func TestInsertRejectsSecondActiveEnrollment(t *testing.T) {
	store := NewRegistrationStore()
	seedSection(t, store, "a", 2)
	ctx := context.Background()
	now := time.Now()

	err := store.WithinTx(ctx, func(tx repository.RegistrationTx) error {
		section, _ := tx.LockSection(ctx, "a")
		first := models.NewEnrolled("e1", "s1", *section, now)
		if err := tx.InsertEnrollment(ctx, &first); err != nil {
			return err
		}
		second := models.NewWaitlisted("e2", "s1", *section, 1, now)
		return tx.InsertEnrollment(ctx, &second)
	})
	assert.ErrorIs(t, err, repository.ErrDuplicate)
}

func TestUpdateSectionGuardsCapacityInvariant(t *testing.T) {
	store := NewRegistrationStore()
	seedSection(t, store, "a", 1)
	ctx := context.Background()

	err := store.WithinTx(ctx, func(tx repository.RegistrationTx) error {
		section, _ := tx.LockSection(ctx, "a")
		section.EnrolledCount = 2
		return tx.UpdateSection(ctx, section)
	})
	assert.Error(t, err)

	_, err = store.GetSection(ctx, "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestWaitlistEntriesOrderedByPosition(t *testing.T) {
	store := NewRegistrationStore()
	seedSection(t, store, "a", 0)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.WithinTx(ctx, func(tx repository.RegistrationTx) error {
		section, _ := tx.LockSection(ctx, "a")
		for _, student := range []string{"s3", "s1", "s2"} {
			e := models.NewWaitlisted("e-"+student, student, *section, section.TakeWaitlistPosition(), now)
			if err := tx.InsertEnrollment(ctx, &e); err != nil {
				return err
			}
		}
		return tx.UpdateSection(ctx, section)
	}))

	entries, err := store.WaitlistEntries(ctx, "a")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"s3", "s1", "s2"}, []string{entries[0].StudentID, entries[1].StudentID, entries[2].StudentID})

	ids, err := store.PromotableSections(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids, "a zero-capacity section has nothing to promote into")
}

func TestHoldStoreOneActivePerReason(t *testing.T) {
	holds := NewHoldStore()
	ctx := context.Background()
	first := &models.FinancialHold{StudentID: "s1", Category: models.HoldCategoryRegistrationBlocking, Reason: models.HoldReasonOverdueInvoice}
	require.NoError(t, holds.Raise(ctx, first))
	err := holds.Raise(ctx, &models.FinancialHold{StudentID: "s1", Category: models.HoldCategoryRegistrationBlocking, Reason: models.HoldReasonOverdueInvoice})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	require.NoError(t, holds.Clear(ctx, first.ID, time.Now()))
	active, err := holds.ActiveHolds(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, active)
}
