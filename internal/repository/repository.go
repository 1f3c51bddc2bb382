package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/noah-isme/registrar-api/internal/models"
)

// ErrDuplicate is returned when a unique constraint rejects a write, e.g. a
// second active enrollment for the same student and section.
var ErrDuplicate = errors.New("duplicate record")

// RegistrationTx is the unit of work for seat-ledger mutations. Every method
// runs inside one store transaction; lookups that find nothing return
// sql.ErrNoRows.
type RegistrationTx interface {
	LockSection(ctx context.Context, sectionID string) (*models.CourseSection, error)
	UpdateSection(ctx context.Context, section *models.CourseSection) error
	ActiveEnrollment(ctx context.Context, studentID, sectionID string) (*models.Enrollment, error)
	CountWaitlisted(ctx context.Context, studentID, termID string) (int, error)
	CreditLoad(ctx context.Context, studentID, termID string) (int, error)
	Waitlist(ctx context.Context, sectionID string) ([]models.Enrollment, error)
	InsertEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	UpdateEnrollment(ctx context.Context, enrollment *models.Enrollment) error
	DeleteEnrollment(ctx context.Context, id string) error
}

func translateWriteErr(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%s: %w: %s", op, ErrDuplicate, pqErr.Constraint)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func placeholders(n int) string {
	values := make([]string, n)
	for i := 1; i <= n; i++ {
		values[i-1] = fmt.Sprintf("$%d", i)
	}
	return strings.Join(values, ",")
}
