package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
)

type overdueInvoiceReader interface {
	ListOverdue(ctx context.Context, cutoff time.Time) ([]models.Invoice, error)
}

type holdWriter interface {
	ActiveByReason(ctx context.Context, reason string) ([]models.FinancialHold, error)
	Raise(ctx context.Context, hold *models.FinancialHold) error
	Clear(ctx context.Context, id string, at time.Time) error
}

// HoldSweepReport lists students whose overdue hold changed in one pass.
type HoldSweepReport struct {
	Raised  []string `json:"raised"`
	Cleared []string `json:"cleared"`
}

// InvoiceSweeper raises and clears overdue-invoice holds. It only writes to the
// hold store; enrollments are never touched.
type InvoiceSweeper struct {
	invoices overdueInvoiceReader
	holds    holdWriter
	notifier notifier
	metrics  *MetricsService
	grace    time.Duration
	logger   *zap.Logger
}

// NewInvoiceSweeper constructs the sweeper.
func NewInvoiceSweeper(invoices overdueInvoiceReader, holds holdWriter, notifier notifier, metrics *MetricsService, grace time.Duration, logger *zap.Logger) *InvoiceSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if grace < 0 {
		grace = 0
	}
	return &InvoiceSweeper{invoices: invoices, holds: holds, notifier: notifier, metrics: metrics, grace: grace, logger: logger}
}

// Sweep reconciles holds against invoices overdue at now. A hold is raised
// once an invoice is past the grace period and cleared only when the student
// has no open past-due invoice left, grace or not. Running it twice with the
// same inputs changes nothing the second time.
func (s *InvoiceSweeper) Sweep(ctx context.Context, now time.Time) (*HoldSweepReport, error) {
	overdue, err := s.invoices.ListOverdue(ctx, now.Add(-s.grace))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list overdue invoices")
	}
	pastDue := overdue
	if s.grace > 0 {
		if pastDue, err = s.invoices.ListOverdue(ctx, now); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list past-due invoices")
		}
	}
	active, err := s.holds.ActiveByReason(ctx, models.HoldReasonOverdueInvoice)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list overdue holds")
	}

	owing := make(map[string][]string)
	for _, inv := range overdue {
		owing[inv.StudentID] = append(owing[inv.StudentID], inv.Number)
	}
	unsettled := make(map[string]bool)
	for _, inv := range pastDue {
		unsettled[inv.StudentID] = true
	}
	held := make(map[string][]models.FinancialHold)
	for _, hold := range active {
		held[hold.StudentID] = append(held[hold.StudentID], hold)
	}

	report := &HoldSweepReport{Raised: []string{}, Cleared: []string{}}
	var errs []error

	for _, studentID := range sortedKeys(owing) {
		if len(held[studentID]) > 0 {
			continue
		}
		hold := &models.FinancialHold{
			StudentID: studentID,
			Category:  models.HoldCategoryRegistrationBlocking,
			Reason:    models.HoldReasonOverdueInvoice,
			RaisedAt:  now,
		}
		if err := s.holds.Raise(ctx, hold); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				continue
			}
			errs = append(errs, fmt.Errorf("raise hold for %s: %w", studentID, err))
			continue
		}
		report.Raised = append(report.Raised, studentID)
		s.logger.Info("financial hold raised", zap.String("student_id", studentID), zap.Strings("invoices", owing[studentID]))
		s.notifier.Notify(models.Notification{
			Kind:      models.NotificationHoldBlocking,
			StudentID: studentID,
			Message:   fmt.Sprintf("Registration is blocked until overdue invoices are settled: %v", owing[studentID]),
			CreatedAt: now,
		})
	}

	for _, studentID := range sortedKeys(held) {
		if unsettled[studentID] {
			continue
		}
		cleared := false
		for _, hold := range held[studentID] {
			if err := s.holds.Clear(ctx, hold.ID, now); err != nil {
				errs = append(errs, fmt.Errorf("clear hold %s: %w", hold.ID, err))
				continue
			}
			cleared = true
		}
		if cleared {
			report.Cleared = append(report.Cleared, studentID)
			s.logger.Info("financial hold cleared", zap.String("student_id", studentID))
		}
	}

	s.metrics.RecordHolds("raised", len(report.Raised))
	s.metrics.RecordHolds("cleared", len(report.Cleared))

	if len(errs) > 0 {
		return report, appErrors.Wrap(errors.Join(errs...), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "invoice sweep incomplete")
	}
	return report, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
