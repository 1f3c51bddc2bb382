package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/registrar-api/internal/dto"
	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
	appErrors "github.com/noah-isme/registrar-api/pkg/errors"
	"github.com/noah-isme/registrar-api/pkg/lock"
)

// Registration outcomes.
const (
	OutcomeEnrolled   = "enrolled"
	OutcomeWaitlisted = "waitlisted"
)

const defaultLockTimeout = 2 * time.Second

type registrationStore interface {
	WithinTx(ctx context.Context, fn func(tx repository.RegistrationTx) error) error
	GetSection(ctx context.Context, id string) (*models.CourseSection, error)
	ListSections(ctx context.Context, filter models.SectionFilter) ([]models.CourseSection, int, error)
	CreateSection(ctx context.Context, section *models.CourseSection) error
	WaitlistEntries(ctx context.Context, sectionID string) ([]models.WaitlistEntry, error)
	ListEnrollments(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, error)
	PromotableSections(ctx context.Context) ([]string, error)
}

type holdChecker interface {
	IsRegistrationBlocked(ctx context.Context, studentID string) bool
}

type notifier interface {
	Notify(n models.Notification)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type noopNotifier struct{}

func (noopNotifier) Notify(models.Notification) {}

// RegistrationServiceConfig carries the optional collaborators of RegistrationService.
type RegistrationServiceConfig struct {
	LockTimeout time.Duration
	Clock       func() time.Time
	Notifier    notifier
	Audit       auditWriter
	Cache       *CacheService
	Metrics     *MetricsService
	Validator   *validator.Validate
}

// RegistrationResult is returned by Register.
type RegistrationResult struct {
	Outcome    string
	Enrollment models.Enrollment
}

// DropResult is returned by Drop.
type DropResult struct {
	Enrollment          models.Enrollment
	RemovedFromWaitlist bool
}

// SwapResult holds both legs of a committed swap.
type SwapResult struct {
	Dropped models.Enrollment
	Added   models.Enrollment
}

// RegistrationService owns the seat ledger and the enrollment lifecycle. Every
// mutation takes its locks first, then runs a single store transaction, and
// emits side effects only after both are released.
type RegistrationService struct {
	store       registrationStore
	locker      lock.Locker
	gate        holdChecker
	notifier    notifier
	audit       auditWriter
	cache       *CacheService
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	clock       func() time.Time
	lockTimeout time.Duration

	subMu       sync.RWMutex
	subscribers []func(sectionID string)
}

// NewRegistrationService constructs the registration core.
func NewRegistrationService(store registrationStore, locker lock.Locker, gate holdChecker, logger *zap.Logger, cfg RegistrationServiceConfig) *RegistrationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaultLockTimeout
	}
	if cfg.Notifier == nil {
		cfg.Notifier = noopNotifier{}
	}
	if cfg.Validator == nil {
		cfg.Validator = validator.New()
	}
	return &RegistrationService{
		store:       store,
		locker:      locker,
		gate:        gate,
		notifier:    cfg.Notifier,
		audit:       cfg.Audit,
		cache:       cfg.Cache,
		metrics:     cfg.Metrics,
		validator:   cfg.Validator,
		logger:      logger,
		clock:       cfg.Clock,
		lockTimeout: cfg.LockTimeout,
	}
}

// SubscribeSeatFreed registers fn to be called, outside any lock, whenever a
// section gains a free seat.
func (s *RegistrationService) SubscribeSeatFreed(fn func(sectionID string)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Register enrolls the student when a seat is free, otherwise waitlists them.
func (s *RegistrationService) Register(ctx context.Context, settings models.RegistrationSettings, studentID, sectionID string) (*RegistrationResult, error) {
	if !settings.AddDropEnabled {
		s.metrics.RecordOperation("register", appErrors.ErrWindowClosed.Code)
		return nil, appErrors.Clone(appErrors.ErrWindowClosed, "registration is closed outside the add/drop window")
	}

	var result RegistrationResult
	err := s.withLocks(ctx, []string{lock.SectionKey(sectionID), lock.StudentKey(studentID)}, func() error {
		return s.store.WithinTx(ctx, func(tx repository.RegistrationTx) error {
			section, err := tx.LockSection(ctx, sectionID)
			if err != nil {
				return err
			}
			if err := requireNoActive(ctx, tx, studentID, sectionID); err != nil {
				return err
			}
			now := s.clock()

			if section.OpenSeats() > 0 {
				load, err := tx.CreditLoad(ctx, studentID, section.TermID)
				if err != nil {
					return err
				}
				if load+section.Credits > settings.MaxCreditsPerTerm {
					return appErrors.Clone(appErrors.ErrCreditLimitExceeded, "enrolling would exceed the term credit limit")
				}
				if s.gate.IsRegistrationBlocked(ctx, studentID) {
					return appErrors.Clone(appErrors.ErrRegistrationBlocked, "")
				}
				enrollment := models.NewEnrolled(uuid.NewString(), studentID, *section, now)
				section.EnrolledCount++
				section.UpdatedAt = now
				if err := tx.UpdateSection(ctx, section); err != nil {
					return err
				}
				if err := tx.InsertEnrollment(ctx, &enrollment); err != nil {
					return err
				}
				result = RegistrationResult{Outcome: OutcomeEnrolled, Enrollment: enrollment}
				return nil
			}

			if !settings.WaitlistEnabled {
				return appErrors.Clone(appErrors.ErrCapacityFull, "section is full and waitlisting is disabled")
			}
			waiting, err := tx.CountWaitlisted(ctx, studentID, section.TermID)
			if err != nil {
				return err
			}
			if waiting >= settings.MaxWaitlistEntriesPerStudent {
				return appErrors.Clone(appErrors.ErrWaitlistLimitExceeded, "")
			}
			if s.gate.IsRegistrationBlocked(ctx, studentID) {
				return appErrors.Clone(appErrors.ErrRegistrationBlocked, "")
			}
			position := section.TakeWaitlistPosition()
			section.UpdatedAt = now
			enrollment := models.NewWaitlisted(uuid.NewString(), studentID, *section, position, now)
			if err := tx.UpdateSection(ctx, section); err != nil {
				return err
			}
			if err := tx.InsertEnrollment(ctx, &enrollment); err != nil {
				return err
			}
			result = RegistrationResult{Outcome: OutcomeWaitlisted, Enrollment: enrollment}
			return nil
		})
	})
	if err != nil {
		return nil, s.fail("register", err, "failed to register")
	}

	s.metrics.RecordOperation("register", result.Outcome)
	s.cache.InvalidateSections(ctx, sectionID)
	s.logger.Info("registration recorded",
		zap.String("student_id", studentID),
		zap.String("section_id", sectionID),
		zap.String("outcome", result.Outcome),
	)
	return &result, nil
}

// Drop leaves a section. A waitlisted record is removed from the queue at any
// time; an enrolled record needs the add/drop window and frees its seat.
func (s *RegistrationService) Drop(ctx context.Context, settings models.RegistrationSettings, studentID, sectionID string) (*DropResult, error) {
	var result DropResult
	err := s.withLocks(ctx, []string{lock.SectionKey(sectionID), lock.StudentKey(studentID)}, func() error {
		return s.store.WithinTx(ctx, func(tx repository.RegistrationTx) error {
			section, err := tx.LockSection(ctx, sectionID)
			if err != nil {
				return err
			}
			enrollment, err := activeEnrollment(ctx, tx, studentID, sectionID)
			if err != nil {
				return err
			}
			if enrollment.State == models.EnrollmentWaitlisted {
				if err := tx.DeleteEnrollment(ctx, enrollment.ID); err != nil {
					return err
				}
				result = DropResult{Enrollment: *enrollment, RemovedFromWaitlist: true}
				return nil
			}
			if !settings.AddDropEnabled {
				return appErrors.Clone(appErrors.ErrWindowClosed, "add/drop window is closed; withdraw instead")
			}
			now := s.clock()
			if err := enrollment.Transition(models.EnrollmentDropped, now); err != nil {
				return err
			}
			releaseSeat(section, now)
			if err := tx.UpdateSection(ctx, section); err != nil {
				return err
			}
			if err := tx.UpdateEnrollment(ctx, enrollment); err != nil {
				return err
			}
			result = DropResult{Enrollment: *enrollment}
			return nil
		})
	})
	if err != nil {
		return nil, s.fail("drop", err, "failed to drop enrollment")
	}

	s.metrics.RecordOperation("drop", string(result.Enrollment.State))
	s.cache.InvalidateSections(ctx, sectionID)
	if !result.RemovedFromWaitlist {
		s.publishSeatFreed(sectionID)
	}
	return &result, nil
}

// Withdraw ends an enrollment after the add/drop window has closed. The seat
// is released the same way as a drop.
func (s *RegistrationService) Withdraw(ctx context.Context, settings models.RegistrationSettings, studentID, sectionID string) (*models.Enrollment, error) {
	var result models.Enrollment
	err := s.withLocks(ctx, []string{lock.SectionKey(sectionID), lock.StudentKey(studentID)}, func() error {
		return s.store.WithinTx(ctx, func(tx repository.RegistrationTx) error {
			section, err := tx.LockSection(ctx, sectionID)
			if err != nil {
				return err
			}
			enrollment, err := activeEnrollment(ctx, tx, studentID, sectionID)
			if err != nil {
				return err
			}
			if settings.AddDropEnabled && enrollment.State == models.EnrollmentEnrolled {
				return appErrors.Clone(appErrors.ErrStateConflict, "add/drop window is open; drop instead")
			}
			now := s.clock()
			if err := enrollment.Transition(models.EnrollmentWithdrawn, now); err != nil {
				return err
			}
			releaseSeat(section, now)
			if err := tx.UpdateSection(ctx, section); err != nil {
				return err
			}
			if err := tx.UpdateEnrollment(ctx, enrollment); err != nil {
				return err
			}
			result = *enrollment
			return nil
		})
	})
	if err != nil {
		return nil, s.fail("withdraw", err, "failed to withdraw enrollment")
	}

	s.metrics.RecordOperation("withdraw", string(result.State))
	s.cache.InvalidateSections(ctx, sectionID)
	s.publishSeatFreed(sectionID)
	return &result, nil
}

// Complete records the final grade. The seat stays counted.
func (s *RegistrationService) Complete(ctx context.Context, studentID, sectionID, grade string) (*models.Enrollment, error) {
	grade = strings.TrimSpace(grade)
	if grade == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "grade is required")
	}
	var result models.Enrollment
	err := s.withLocks(ctx, []string{lock.SectionKey(sectionID), lock.StudentKey(studentID)}, func() error {
		return s.store.WithinTx(ctx, func(tx repository.RegistrationTx) error {
			if _, err := tx.LockSection(ctx, sectionID); err != nil {
				return err
			}
			enrollment, err := activeEnrollment(ctx, tx, studentID, sectionID)
			if err != nil {
				return err
			}
			if err := enrollment.Complete(grade, s.clock()); err != nil {
				return err
			}
			if err := tx.UpdateEnrollment(ctx, enrollment); err != nil {
				return err
			}
			result = *enrollment
			return nil
		})
	})
	if err != nil {
		return nil, s.fail("complete", err, "failed to complete enrollment")
	}
	s.metrics.RecordOperation("complete", string(result.State))
	return &result, nil
}

// Swap drops one enrolled section and adds another as a single unit. The add
// side is validated before either leg is written; any failure leaves both
// sections and the student untouched.
func (s *RegistrationService) Swap(ctx context.Context, settings models.RegistrationSettings, studentID, dropSectionID, addSectionID string) (*SwapResult, error) {
	if dropSectionID == addSectionID {
		return nil, s.fail("swap", appErrors.Clone(appErrors.ErrStateConflict, "cannot swap a section with itself"), "")
	}
	if !settings.AddDropEnabled {
		return nil, s.fail("swap", appErrors.Clone(appErrors.ErrWindowClosed, "swaps are closed outside the add/drop window"), "")
	}

	var result SwapResult
	keys := []string{lock.SectionKey(dropSectionID), lock.SectionKey(addSectionID), lock.StudentKey(studentID)}
	err := s.withLocks(ctx, keys, func() error {
		return s.store.WithinTx(ctx, func(tx repository.RegistrationTx) error {
			dropSection, err := tx.LockSection(ctx, dropSectionID)
			if err != nil {
				return err
			}
			addSection, err := tx.LockSection(ctx, addSectionID)
			if err != nil {
				return err
			}
			dropped, err := activeEnrollment(ctx, tx, studentID, dropSectionID)
			if err != nil {
				return err
			}
			if dropped.State != models.EnrollmentEnrolled {
				return appErrors.Clone(appErrors.ErrStateConflict, "student is not enrolled in the drop section")
			}
			if err := requireNoActive(ctx, tx, studentID, addSectionID); err != nil {
				return err
			}
			if addSection.OpenSeats() == 0 {
				return appErrors.Clone(appErrors.ErrCapacityFull, "add section has no free seat")
			}
			load, err := tx.CreditLoad(ctx, studentID, addSection.TermID)
			if err != nil {
				return err
			}
			if dropSection.TermID == addSection.TermID {
				load -= dropped.Credits
			}
			if load+addSection.Credits > settings.MaxCreditsPerTerm {
				return appErrors.Clone(appErrors.ErrCreditLimitExceeded, "swap would exceed the term credit limit")
			}
			if s.gate.IsRegistrationBlocked(ctx, studentID) {
				return appErrors.Clone(appErrors.ErrRegistrationBlocked, "")
			}

			now := s.clock()
			if err := dropped.Transition(models.EnrollmentDropped, now); err != nil {
				return err
			}
			releaseSeat(dropSection, now)
			if err := tx.UpdateSection(ctx, dropSection); err != nil {
				return err
			}
			if err := tx.UpdateEnrollment(ctx, dropped); err != nil {
				return err
			}

			added := models.NewEnrolled(uuid.NewString(), studentID, *addSection, now)
			addSection.EnrolledCount++
			addSection.UpdatedAt = now
			if err := tx.UpdateSection(ctx, addSection); err != nil {
				return err
			}
			if err := tx.InsertEnrollment(ctx, &added); err != nil {
				return err
			}
			result = SwapResult{Dropped: *dropped, Added: added}
			return nil
		})
	})
	if err != nil {
		appErr := s.fail("swap", err, "failed to swap enrollment")
		if appErr.Status < 500 || errors.Is(appErr, appErrors.ErrBusy) {
			s.notifier.Notify(models.Notification{
				Kind:      models.NotificationSwapFailed,
				StudentID: studentID,
				SectionID: addSectionID,
				Message:   "Swap from " + dropSectionID + " to " + addSectionID + " failed: " + appErr.Message,
			})
		}
		return nil, appErr
	}

	s.metrics.RecordOperation("swap", "swapped")
	s.cache.InvalidateSections(ctx, dropSectionID, addSectionID)
	s.writeAudit(ctx, &models.AuditLog{
		Action:     models.AuditActionSwap,
		Resource:   "enrollment",
		ResourceID: &result.Added.ID,
		OldValues:  mustJSON(result.Dropped),
		NewValues:  mustJSON(result.Added),
	})
	s.publishSeatFreed(dropSectionID)
	return &result, nil
}

// CreateSection opens a new section with an empty ledger.
func (s *RegistrationService) CreateSection(ctx context.Context, req dto.CreateSectionRequest) (*models.CourseSection, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid section payload")
	}
	now := s.clock()
	section := &models.CourseSection{
		ID:                   strings.TrimSpace(req.ID),
		TermID:               req.TermID,
		CourseCode:           strings.ToUpper(strings.TrimSpace(req.CourseCode)),
		Title:                strings.TrimSpace(req.Title),
		Credits:              req.Credits,
		Capacity:             req.Capacity,
		NextWaitlistPosition: 1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if section.ID == "" {
		section.ID = uuid.NewString()
	}
	if err := s.store.CreateSection(ctx, section); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "section already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create section")
	}
	return section, nil
}

// UpdateCapacity changes a section's seat count. Shrinking below the enrolled
// count is rejected; growing frees seats for the waitlist.
func (s *RegistrationService) UpdateCapacity(ctx context.Context, sectionID string, capacity int) (*models.CourseSection, error) {
	if capacity <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "capacity must be positive")
	}
	var before, after models.CourseSection
	err := s.withLocks(ctx, []string{lock.SectionKey(sectionID)}, func() error {
		return s.store.WithinTx(ctx, func(tx repository.RegistrationTx) error {
			section, err := tx.LockSection(ctx, sectionID)
			if err != nil {
				return err
			}
			if capacity < section.EnrolledCount {
				return appErrors.Clone(appErrors.ErrStateConflict, "capacity cannot drop below the enrolled count")
			}
			before = *section
			section.Capacity = capacity
			section.UpdatedAt = s.clock()
			if err := tx.UpdateSection(ctx, section); err != nil {
				return err
			}
			after = *section
			return nil
		})
	})
	if err != nil {
		return nil, s.fail("update_capacity", err, "failed to update capacity")
	}

	s.cache.InvalidateSections(ctx, sectionID)
	s.writeAudit(ctx, &models.AuditLog{
		Action:     models.AuditActionCapacityUpdate,
		Resource:   "course_section",
		ResourceID: &after.ID,
		OldValues:  mustJSON(map[string]int{"capacity": before.Capacity}),
		NewValues:  mustJSON(map[string]int{"capacity": after.Capacity}),
	})
	if after.Capacity > before.Capacity {
		s.publishSeatFreed(sectionID)
	}
	return &after, nil
}

// GetSectionState returns the section with its derived status and queue.
func (s *RegistrationService) GetSectionState(ctx context.Context, sectionID string) (*models.SectionState, error) {
	key := SectionStateKey(sectionID)
	var cached models.SectionState
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}
	version, cacheable := s.cache.SectionVersion(ctx, sectionID)

	section, err := s.store.GetSection(ctx, sectionID)
	if err != nil {
		return nil, translateStoreErr(err, "failed to get section")
	}
	entries, err := s.store.WaitlistEntries(ctx, sectionID)
	if err != nil {
		return nil, translateStoreErr(err, "failed to load waitlist")
	}
	if entries == nil {
		entries = []models.WaitlistEntry{}
	}
	state := &models.SectionState{Section: *section, Status: section.Status(), Waitlist: entries}
	if cacheable {
		s.cache.SetSection(ctx, sectionID, state, version)
	}
	return state, nil
}

// GetStudentEnrollments lists a student's records, optionally within one term.
func (s *RegistrationService) GetStudentEnrollments(ctx context.Context, studentID, termID string) ([]models.Enrollment, error) {
	enrollments, err := s.store.ListEnrollments(ctx, models.EnrollmentFilter{StudentID: studentID, TermID: termID})
	if err != nil {
		return nil, translateStoreErr(err, "failed to list enrollments")
	}
	if enrollments == nil {
		enrollments = []models.Enrollment{}
	}
	return enrollments, nil
}

// ListSections returns sections with pagination metadata.
func (s *RegistrationService) ListSections(ctx context.Context, filter models.SectionFilter) ([]models.CourseSection, *models.Pagination, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	sections, total, err := s.store.ListSections(ctx, filter)
	if err != nil {
		return nil, nil, translateStoreErr(err, "failed to list sections")
	}
	return sections, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

func (s *RegistrationService) withLocks(ctx context.Context, keys []string, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	start := time.Now()
	release, err := s.locker.Acquire(lockCtx, keys...)
	timedOut := errors.Is(err, lock.ErrTimeout)
	s.metrics.ObserveLockWait(time.Since(start), timedOut)
	if err != nil {
		if timedOut {
			s.logger.Warn("lock acquisition timed out", zap.Strings("keys", lock.Normalize(keys)))
			return appErrors.Clone(appErrors.ErrBusy, "")
		}
		return err
	}
	defer release()
	return fn()
}

func (s *RegistrationService) publishSeatFreed(sectionID string) {
	s.subMu.RLock()
	subscribers := append([]func(string){}, s.subscribers...)
	s.subMu.RUnlock()
	for _, fn := range subscribers {
		fn(sectionID)
	}
}

func (s *RegistrationService) writeAudit(ctx context.Context, entry *models.AuditLog) {
	if s.audit == nil {
		return
	}
	if entry.IPAddress == "" {
		entry.IPAddress = "system"
	}
	if entry.UserAgent == "" {
		entry.UserAgent = "registration-core"
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write audit log", zap.String("action", entry.Action), zap.Error(err))
	}
}

// fail translates err, records the outcome metric and logs unexpected failures.
func (s *RegistrationService) fail(op string, err error, message string) *appErrors.Error {
	appErr := translateStoreErr(err, message)
	s.metrics.RecordOperation(op, appErr.Code)
	if appErr.Status >= 500 && !appErr.Retryable {
		s.logger.Error("registration operation failed", zap.String("operation", op), zap.Error(err))
	}
	return appErr
}

func translateStoreErr(err error, message string) *appErrors.Error {
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "section or enrollment not found")
	case errors.Is(err, repository.ErrDuplicate), errors.Is(err, models.ErrIllegalTransition):
		return appErrors.Wrap(err, appErrors.ErrStateConflict.Code, appErrors.ErrStateConflict.Status, appErrors.ErrStateConflict.Message)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return appErrors.Clone(appErrors.ErrBusy, "request cancelled before completion")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func activeEnrollment(ctx context.Context, tx repository.RegistrationTx, studentID, sectionID string) (*models.Enrollment, error) {
	enrollment, err := tx.ActiveEnrollment(ctx, studentID, sectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no active enrollment for this student and section")
	}
	return enrollment, err
}

func requireNoActive(ctx context.Context, tx repository.RegistrationTx, studentID, sectionID string) error {
	existing, err := tx.ActiveEnrollment(ctx, studentID, sectionID)
	switch {
	case err == nil:
		return appErrors.Clone(appErrors.ErrStateConflict, "student is already "+string(existing.State)+" in this section")
	case errors.Is(err, sql.ErrNoRows):
		return nil
	}
	return err
}

func releaseSeat(section *models.CourseSection, at time.Time) {
	if section.EnrolledCount > 0 {
		section.EnrolledCount--
	}
	section.UpdatedAt = at
}

func mustJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}
