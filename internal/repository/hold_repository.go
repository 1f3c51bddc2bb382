package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/registrar-api/internal/models"
)

const holdColumns = `id, student_id, category, reason, active, raised_at, cleared_at`

// HoldRepository persists financial holds.
type HoldRepository struct {
	db *sqlx.DB
}

// NewHoldRepository constructs the repository.
func NewHoldRepository(db *sqlx.DB) *HoldRepository {
	return &HoldRepository{db: db}
}

// ActiveHolds returns the active holds of a student.
func (r *HoldRepository) ActiveHolds(ctx context.Context, studentID string) ([]models.FinancialHold, error) {
	var holds []models.FinancialHold
	const query = `SELECT ` + holdColumns + ` FROM financial_holds WHERE student_id = $1 AND active = TRUE ORDER BY raised_at ASC`
	if err := r.db.SelectContext(ctx, &holds, query, studentID); err != nil {
		return nil, fmt.Errorf("list active holds: %w", err)
	}
	return holds, nil
}

// ListByStudent returns every hold of a student, newest first.
func (r *HoldRepository) ListByStudent(ctx context.Context, studentID string) ([]models.FinancialHold, error) {
	var holds []models.FinancialHold
	const query = `SELECT ` + holdColumns + ` FROM financial_holds WHERE student_id = $1 ORDER BY raised_at DESC`
	if err := r.db.SelectContext(ctx, &holds, query, studentID); err != nil {
		return nil, fmt.Errorf("list holds: %w", err)
	}
	return holds, nil
}

// ActiveByReason returns all active holds raised for reason.
func (r *HoldRepository) ActiveByReason(ctx context.Context, reason string) ([]models.FinancialHold, error) {
	var holds []models.FinancialHold
	const query = `SELECT ` + holdColumns + ` FROM financial_holds WHERE reason = $1 AND active = TRUE ORDER BY student_id ASC`
	if err := r.db.SelectContext(ctx, &holds, query, reason); err != nil {
		return nil, fmt.Errorf("list holds by reason: %w", err)
	}
	return holds, nil
}

// Raise inserts an active hold. A concurrent duplicate for the same student
// and reason is rejected by the partial unique index and reported as ErrDuplicate.
func (r *HoldRepository) Raise(ctx context.Context, hold *models.FinancialHold) error {
	if hold.ID == "" {
		hold.ID = uuid.NewString()
	}
	if hold.RaisedAt.IsZero() {
		hold.RaisedAt = time.Now().UTC()
	}
	hold.Active = true
	const query = `INSERT INTO financial_holds (` + holdColumns + `)
VALUES (:id, :student_id, :category, :reason, :active, :raised_at, :cleared_at)`
	if _, err := r.db.NamedExecContext(ctx, query, hold); err != nil {
		return translateWriteErr("raise hold", err)
	}
	return nil
}

// Clear deactivates a hold.
func (r *HoldRepository) Clear(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE financial_holds SET active = FALSE, cleared_at = $2 WHERE id = $1 AND active = TRUE`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("clear hold: %w", err)
	}
	return nil
}
