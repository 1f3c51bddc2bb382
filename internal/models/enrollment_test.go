package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrollmentStateTransitions(t *testing.T) {
	legal := map[EnrollmentState][]EnrollmentState{
		EnrollmentWaitlisted: {EnrollmentEnrolled},
		EnrollmentEnrolled:   {EnrollmentCompleted, EnrollmentWithdrawn, EnrollmentDropped},
	}
	all := []EnrollmentState{EnrollmentWaitlisted, EnrollmentEnrolled, EnrollmentCompleted, EnrollmentWithdrawn, EnrollmentDropped}

	for _, from := range all {
		for _, to := range all {
			expected := false
			for _, allowed := range legal[from] {
				if allowed == to {
					expected = true
				}
			}
			assert.Equal(t, expected, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatesHaveNoExit(t *testing.T) {
	for _, s := range []EnrollmentState{EnrollmentCompleted, EnrollmentWithdrawn, EnrollmentDropped} {
		assert.True(t, s.Terminal())
		assert.False(t, s.Active())
		assert.Empty(t, transitions[s])
	}
	assert.True(t, EnrollmentCompleted.HoldsSeat())
	assert.False(t, EnrollmentWaitlisted.HoldsSeat())
}

func TestPromotionClearsWaitlistPosition(t *testing.T) {
	now := time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC)
	section := CourseSection{ID: "sec-1", TermID: "2026S", Credits: 3, Capacity: 1}
	e := NewWaitlisted("e1", "s1", section, 4, now)
	require.Equal(t, int64(4), e.Position())

	later := now.Add(time.Hour)
	require.NoError(t, e.Transition(EnrollmentEnrolled, later))
	assert.Equal(t, EnrollmentEnrolled, e.State)
	assert.Nil(t, e.WaitlistPosition)
	assert.Equal(t, later, *e.EnrolledAt)
}

func TestIllegalTransitionIsRejected(t *testing.T) {
	now := time.Now()
	e := NewWaitlisted("e1", "s1", CourseSection{ID: "sec-1"}, 1, now)
	err := e.Transition(EnrollmentDropped, now)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, EnrollmentWaitlisted, e.State)

	require.NoError(t, e.Transition(EnrollmentEnrolled, now))
	require.NoError(t, e.Complete("A-", now))
	assert.Equal(t, "A-", *e.Grade)
	assert.ErrorIs(t, e.Transition(EnrollmentWithdrawn, now), ErrIllegalTransition)
}

func TestSectionPositionsAreMonotonic(t *testing.T) {
	s := CourseSection{Capacity: 2, EnrolledCount: 2}
	assert.Equal(t, SectionStatusFull, s.Status())
	assert.Equal(t, int64(1), s.TakeWaitlistPosition())
	assert.Equal(t, int64(2), s.TakeWaitlistPosition())
	s.EnrolledCount = 1
	assert.Equal(t, SectionStatusOpen, s.Status())
	assert.Equal(t, 1, s.OpenSeats())
}

func TestInvoiceOverdueHonoursGracePeriod(t *testing.T) {
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	inv := Invoice{Status: InvoiceStatusOpen, DueAt: due}
	assert.False(t, inv.OverdueAt(due.Add(48*time.Hour), 72*time.Hour))
	assert.True(t, inv.OverdueAt(due.Add(73*time.Hour), 72*time.Hour))

	paid := due
	inv.PaidAt = &paid
	assert.False(t, inv.OverdueAt(due.Add(100*time.Hour), 72*time.Hour))
}

func TestClaimsScopeStudentsToThemselves(t *testing.T) {
	student := &JWTClaims{Role: RoleStudent, StudentID: "s1"}
	assert.True(t, student.CanActFor("s1"))
	assert.False(t, student.CanActFor("s2"))
	assert.True(t, (&JWTClaims{Role: RoleRegistrar}).CanActFor("s2"))
	assert.False(t, (&JWTClaims{Role: RoleAdvisor}).CanActFor("s2"))
}
