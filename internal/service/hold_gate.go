package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

type holdReader interface {
	ActiveHolds(ctx context.Context, studentID string) ([]models.FinancialHold, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.FinancialHold, error)
}

// HoldGate answers whether a student may gain a seat. It reads the hold store
// on every call and fails closed.
type HoldGate struct {
	holds  holdReader
	logger *zap.Logger
}

// NewHoldGate constructs a HoldGate.
func NewHoldGate(holds holdReader, logger *zap.Logger) *HoldGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HoldGate{holds: holds, logger: logger}
}

// IsRegistrationBlocked reports true when the student has an active
// registration-blocking hold, or when hold state cannot be read.
func (g *HoldGate) IsRegistrationBlocked(ctx context.Context, studentID string) bool {
	holds, err := g.holds.ActiveHolds(ctx, studentID)
	if err != nil {
		g.logger.Warn("hold state unreadable, treating student as blocked", zap.String("student_id", studentID), zap.Error(err))
		return true
	}
	for _, hold := range holds {
		if hold.BlocksRegistration() {
			return true
		}
	}
	return false
}

// ListHolds returns every hold recorded for the student.
func (g *HoldGate) ListHolds(ctx context.Context, studentID string) ([]models.FinancialHold, error) {
	holds, err := g.holds.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list holds")
	}
	if holds == nil {
		holds = []models.FinancialHold{}
	}
	return holds, nil
}
