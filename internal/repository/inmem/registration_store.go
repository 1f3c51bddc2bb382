// Package inmem holds process-local stores with the same contracts as the
// Postgres repositories. They back the development storage driver and the
// service tests.
package inmem

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
)

// RegistrationStore keeps sections and enrollments in maps. Transactions are
// serialized by a store-wide mutex and rolled back from an undo journal.
type RegistrationStore struct {
	mu          sync.Mutex
	sections    map[string]models.CourseSection
	enrollments map[string]models.Enrollment
	now         func() time.Time
}

// NewRegistrationStore constructs an empty store.
func NewRegistrationStore() *RegistrationStore {
	return &RegistrationStore{
		sections:    make(map[string]models.CourseSection),
		enrollments: make(map[string]models.Enrollment),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithinTx runs fn with exclusive access; any error restores the prior state.
// fn must not call other RegistrationStore methods.
func (s *RegistrationStore) WithinTx(ctx context.Context, fn func(tx repository.RegistrationTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:          s,
		sectionUndo:    make(map[string]*models.CourseSection),
		enrollmentUndo: make(map[string]*models.Enrollment),
	}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// GetSection returns a copy of the section or sql.ErrNoRows.
func (s *RegistrationStore) GetSection(ctx context.Context, id string) (*models.CourseSection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	section, ok := s.sections[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &section, nil
}

// ListSections pages through sections ordered by course code.
func (s *RegistrationStore) ListSections(ctx context.Context, filter models.SectionFilter) ([]models.CourseSection, int, error) {
	s.mu.Lock()
	var all []models.CourseSection
	for _, section := range s.sections {
		if filter.TermID != "" && section.TermID != filter.TermID {
			continue
		}
		if filter.OpenOnly && section.Status() != models.SectionStatusOpen {
			continue
		}
		all = append(all, section)
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CourseCode != all[j].CourseCode {
			return all[i].CourseCode < all[j].CourseCode
		}
		return all[i].ID < all[j].ID
	})

	page, size := filter.Page, filter.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	start := (page - 1) * size
	if start >= len(all) {
		return []models.CourseSection{}, len(all), nil
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

// CreateSection inserts a section; an existing ID is a duplicate.
func (s *RegistrationStore) CreateSection(ctx context.Context, section *models.CourseSection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sections[section.ID]; exists {
		return fmt.Errorf("create section: %w", repository.ErrDuplicate)
	}
	now := s.now()
	if section.CreatedAt.IsZero() {
		section.CreatedAt = now
	}
	section.UpdatedAt = now
	if section.NextWaitlistPosition <= 0 {
		section.NextWaitlistPosition = 1
	}
	s.sections[section.ID] = *section
	return nil
}

// WaitlistEntries returns the section's queue in position order.
func (s *RegistrationStore) WaitlistEntries(ctx context.Context, sectionID string) ([]models.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.waitlistLocked(sectionID)
	entries := make([]models.WaitlistEntry, 0, len(queue))
	for _, e := range queue {
		entry := models.WaitlistEntry{EnrollmentID: e.ID, StudentID: e.StudentID, Position: e.Position()}
		if e.WaitlistedAt != nil {
			entry.WaitlistedAt = *e.WaitlistedAt
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ListEnrollments returns enrollments matching filter, newest first.
func (s *RegistrationStore) ListEnrollments(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Enrollment
	for _, e := range s.enrollments {
		if filter.StudentID != "" && e.StudentID != filter.StudentID {
			continue
		}
		if filter.SectionID != "" && e.SectionID != filter.SectionID {
			continue
		}
		if filter.TermID != "" && e.TermID != filter.TermID {
			continue
		}
		if filter.State != "" && e.State != filter.State {
			continue
		}
		result = append(result, cloneEnrollment(e))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// PromotableSections lists sections with a free seat and a non-empty waitlist.
func (s *RegistrationStore) PromotableSections(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	waiting := make(map[string]bool)
	for _, e := range s.enrollments {
		if e.State == models.EnrollmentWaitlisted {
			waiting[e.SectionID] = true
		}
	}
	var ids []string
	for id, section := range s.sections {
		if waiting[id] && section.OpenSeats() > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RegistrationStore) waitlistLocked(sectionID string) []models.Enrollment {
	var queue []models.Enrollment
	for _, e := range s.enrollments {
		if e.SectionID == sectionID && e.State == models.EnrollmentWaitlisted {
			queue = append(queue, cloneEnrollment(e))
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i].Position() < queue[j].Position() })
	return queue
}

type memTx struct {
	store          *RegistrationStore
	sectionUndo    map[string]*models.CourseSection
	enrollmentUndo map[string]*models.Enrollment
}

func (t *memTx) LockSection(ctx context.Context, sectionID string) (*models.CourseSection, error) {
	section, ok := t.store.sections[sectionID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &section, nil
}

func (t *memTx) UpdateSection(ctx context.Context, section *models.CourseSection) error {
	if _, ok := t.store.sections[section.ID]; !ok {
		return fmt.Errorf("update section: %w", sql.ErrNoRows)
	}
	if section.EnrolledCount < 0 || section.EnrolledCount > section.Capacity {
		return fmt.Errorf("update section: enrolled_count %d outside [0, %d]", section.EnrolledCount, section.Capacity)
	}
	t.saveSection(section.ID)
	section.UpdatedAt = t.store.now()
	t.store.sections[section.ID] = *section
	return nil
}

func (t *memTx) ActiveEnrollment(ctx context.Context, studentID, sectionID string) (*models.Enrollment, error) {
	for _, e := range t.store.enrollments {
		if e.StudentID == studentID && e.SectionID == sectionID && e.State.Active() {
			clone := cloneEnrollment(e)
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (t *memTx) CountWaitlisted(ctx context.Context, studentID, termID string) (int, error) {
	count := 0
	for _, e := range t.store.enrollments {
		if e.StudentID == studentID && e.TermID == termID && e.State == models.EnrollmentWaitlisted {
			count++
		}
	}
	return count, nil
}

func (t *memTx) CreditLoad(ctx context.Context, studentID, termID string) (int, error) {
	load := 0
	for _, e := range t.store.enrollments {
		if e.StudentID == studentID && e.TermID == termID && e.State.HoldsSeat() {
			load += e.Credits
		}
	}
	return load, nil
}

func (t *memTx) Waitlist(ctx context.Context, sectionID string) ([]models.Enrollment, error) {
	return t.store.waitlistLocked(sectionID), nil
}

func (t *memTx) InsertEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	if _, exists := t.store.enrollments[enrollment.ID]; exists {
		return fmt.Errorf("insert enrollment: %w", repository.ErrDuplicate)
	}
	if enrollment.State.Active() {
		if _, err := t.ActiveEnrollment(ctx, enrollment.StudentID, enrollment.SectionID); err == nil {
			return fmt.Errorf("insert enrollment: %w: active student/section", repository.ErrDuplicate)
		}
	}
	t.saveEnrollment(enrollment.ID)
	t.store.enrollments[enrollment.ID] = cloneEnrollment(*enrollment)
	return nil
}

func (t *memTx) UpdateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	if _, ok := t.store.enrollments[enrollment.ID]; !ok {
		return fmt.Errorf("update enrollment: %w", sql.ErrNoRows)
	}
	t.saveEnrollment(enrollment.ID)
	t.store.enrollments[enrollment.ID] = cloneEnrollment(*enrollment)
	return nil
}

func (t *memTx) DeleteEnrollment(ctx context.Context, id string) error {
	if _, ok := t.store.enrollments[id]; !ok {
		return nil
	}
	t.saveEnrollment(id)
	delete(t.store.enrollments, id)
	return nil
}

func (t *memTx) saveSection(id string) {
	if _, seen := t.sectionUndo[id]; seen {
		return
	}
	if prev, ok := t.store.sections[id]; ok {
		t.sectionUndo[id] = &prev
		return
	}
	t.sectionUndo[id] = nil
}

func (t *memTx) saveEnrollment(id string) {
	if _, seen := t.enrollmentUndo[id]; seen {
		return
	}
	if prev, ok := t.store.enrollments[id]; ok {
		t.enrollmentUndo[id] = &prev
		return
	}
	t.enrollmentUndo[id] = nil
}

func (t *memTx) rollback() {
	for id, prev := range t.sectionUndo {
		if prev == nil {
			delete(t.store.sections, id)
			continue
		}
		t.store.sections[id] = *prev
	}
	for id, prev := range t.enrollmentUndo {
		if prev == nil {
			delete(t.store.enrollments, id)
			continue
		}
		t.store.enrollments[id] = *prev
	}
}

func cloneEnrollment(e models.Enrollment) models.Enrollment {
	out := e
	out.Grade = clonePtr(e.Grade)
	out.WaitlistPosition = clonePtr(e.WaitlistPosition)
	out.WaitlistedAt = clonePtr(e.WaitlistedAt)
	out.EnrolledAt = clonePtr(e.EnrolledAt)
	out.CompletedAt = clonePtr(e.CompletedAt)
	out.WithdrawnAt = clonePtr(e.WithdrawnAt)
	out.DroppedAt = clonePtr(e.DroppedAt)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
