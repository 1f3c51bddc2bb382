package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/lock"
)

// PromotionReport lists the student IDs affected by one promotion pass.
type PromotionReport struct {
	SectionID string   `json:"section_id"`
	Promoted  []string `json:"promoted"`
	Requeued  []string `json:"requeued"`
	Skipped   []string `json:"skipped"`
}

func newPromotionReport(sectionID string) *PromotionReport {
	return &PromotionReport{SectionID: sectionID, Promoted: []string{}, Requeued: []string{}, Skipped: []string{}}
}

// PromoteWaitlist fills a section's free seats from its waitlist in position
// order. A hold-blocked student moves to the back of the queue; a student who
// would exceed the credit limit keeps their place. Running it on a full
// section or an empty queue is a no-op.
func (s *RegistrationService) PromoteWaitlist(ctx context.Context, settings models.RegistrationSettings, sectionID string) (*PromotionReport, error) {
	if _, err := s.store.GetSection(ctx, sectionID); err != nil {
		return nil, translateStoreErr(err, "failed to get section")
	}
	entries, err := s.store.WaitlistEntries(ctx, sectionID)
	if err != nil {
		return nil, translateStoreErr(err, "failed to load waitlist")
	}
	report := newPromotionReport(sectionID)
	if len(entries) == 0 {
		return report, nil
	}

	// Students who join the queue after this snapshot are not locked and wait
	// for the next pass.
	keys := []string{lock.SectionKey(sectionID)}
	lockedStudents := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		keys = append(keys, lock.StudentKey(entry.StudentID))
		lockedStudents[entry.StudentID] = struct{}{}
	}

	var notifications []models.Notification
	var audits []*models.AuditLog
	err = s.withLocks(ctx, keys, func() error {
		return s.store.WithinTx(ctx, func(tx repository.RegistrationTx) error {
			report = newPromotionReport(sectionID)
			notifications, audits = nil, nil

			section, err := tx.LockSection(ctx, sectionID)
			if err != nil {
				return err
			}
			if section.OpenSeats() == 0 {
				return nil
			}
			waitlist, err := tx.Waitlist(ctx, sectionID)
			if err != nil {
				return err
			}
			now := s.clock()

			for i := range waitlist {
				if section.OpenSeats() == 0 {
					break
				}
				candidate := waitlist[i]
				if _, ok := lockedStudents[candidate.StudentID]; !ok {
					continue
				}
				from := candidate.Position()

				if s.gate.IsRegistrationBlocked(ctx, candidate.StudentID) {
					to := section.TakeWaitlistPosition()
					if err := candidate.Requeue(to, now); err != nil {
						return err
					}
					if err := tx.UpdateEnrollment(ctx, &candidate); err != nil {
						return err
					}
					report.Requeued = append(report.Requeued, candidate.StudentID)
					notifications = append(notifications, models.Notification{
						Kind:      models.NotificationHoldBlocking,
						StudentID: candidate.StudentID,
						SectionID: sectionID,
						Message:   fmt.Sprintf("A seat opened in %s but an active hold blocks registration; you were moved to waitlist position %d", section.CourseCode, to),
					})
					audits = append(audits, promotionAudit(candidate, "hold_blocked", from, to))
					continue
				}

				load, err := tx.CreditLoad(ctx, candidate.StudentID, section.TermID)
				if err != nil {
					return err
				}
				if load+candidate.Credits > settings.MaxCreditsPerTerm {
					report.Skipped = append(report.Skipped, candidate.StudentID)
					notifications = append(notifications, models.Notification{
						Kind:      models.NotificationPromotionSkipped,
						StudentID: candidate.StudentID,
						SectionID: sectionID,
						Message:   fmt.Sprintf("A seat opened in %s but enrolling would exceed your credit limit; you remain at waitlist position %d", section.CourseCode, from),
					})
					audits = append(audits, promotionAudit(candidate, "credit_limit", from, from))
					continue
				}

				if err := candidate.Transition(models.EnrollmentEnrolled, now); err != nil {
					return err
				}
				section.EnrolledCount++
				if err := tx.UpdateEnrollment(ctx, &candidate); err != nil {
					return err
				}
				report.Promoted = append(report.Promoted, candidate.StudentID)
				notifications = append(notifications, models.Notification{
					Kind:      models.NotificationPromoted,
					StudentID: candidate.StudentID,
					SectionID: sectionID,
					Message:   fmt.Sprintf("You have been enrolled in %s from the waitlist", section.CourseCode),
				})
				audits = append(audits, &models.AuditLog{
					Action:     models.AuditActionPromote,
					Resource:   "enrollment",
					ResourceID: &candidate.ID,
					OldValues:  mustJSON(map[string]interface{}{"state": models.EnrollmentWaitlisted, "position": from}),
					NewValues:  mustJSON(map[string]interface{}{"state": candidate.State}),
				})
			}

			section.UpdatedAt = now
			return tx.UpdateSection(ctx, section)
		})
	})
	if err != nil {
		return nil, s.fail("promote", err, "failed to promote waitlist")
	}

	for _, n := range notifications {
		s.notifier.Notify(n)
	}
	for _, entry := range audits {
		s.writeAudit(ctx, entry)
	}
	for _, studentID := range report.Requeued {
		s.logger.Info("promotion rejected", zap.String("section_id", sectionID), zap.String("student_id", studentID), zap.String("reason", "hold_blocked"))
	}
	for _, studentID := range report.Skipped {
		s.logger.Info("promotion rejected", zap.String("section_id", sectionID), zap.String("student_id", studentID), zap.String("reason", "credit_limit"))
	}
	s.metrics.RecordPromotion("promoted", len(report.Promoted))
	s.metrics.RecordPromotion("requeued", len(report.Requeued))
	s.metrics.RecordPromotion("skipped", len(report.Skipped))
	if len(report.Promoted)+len(report.Requeued) > 0 {
		s.cache.InvalidateSections(ctx, sectionID)
	}
	return report, nil
}

// SweepWaitlists promotes every section that has a free seat and a non-empty
// queue. A busy section is left for the next trigger.
func (s *RegistrationService) SweepWaitlists(ctx context.Context, settings models.RegistrationSettings) ([]PromotionReport, error) {
	sectionIDs, err := s.store.PromotableSections(ctx)
	if err != nil {
		return nil, translateStoreErr(err, "failed to list promotable sections")
	}
	reports := make([]PromotionReport, 0, len(sectionIDs))
	var errs []error
	for _, sectionID := range sectionIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report, err := s.PromoteWaitlist(ctx, settings, sectionID)
		if err != nil {
			if errors.Is(err, appErrors.ErrBusy) {
				s.logger.Debug("section busy, deferring promotion", zap.String("section_id", sectionID))
				continue
			}
			errs = append(errs, fmt.Errorf("section %s: %w", sectionID, err))
			continue
		}
		reports = append(reports, *report)
	}
	if len(errs) > 0 {
		return reports, appErrors.Wrap(errors.Join(errs...), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "waitlist sweep incomplete")
	}
	return reports, nil
}

func promotionAudit(e models.Enrollment, reason string, from, to int64) *models.AuditLog {
	id := e.ID
	return &models.AuditLog{
		Action:     models.AuditActionPromotionRejected,
		Resource:   "enrollment",
		ResourceID: &id,
		OldValues:  mustJSON(map[string]interface{}{"student_id": e.StudentID, "position": from}),
		NewValues:  mustJSON(map[string]interface{}{"reason": reason, "position": to}),
	}
}
