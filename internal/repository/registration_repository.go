package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/registrar-api/internal/models"
)

const sectionColumns = `id, term_id, course_code, title, credits, capacity, enrolled_count, next_waitlist_position, created_at, updated_at`

const enrollmentColumns = `id, student_id, section_id, term_id, credits, state, grade, waitlist_position,
waitlisted_at, enrolled_at, completed_at, withdrawn_at, dropped_at, created_at, updated_at`

// RegistrationRepository persists sections and enrollments in Postgres.
type RegistrationRepository struct {
	db *sqlx.DB
}

// NewRegistrationRepository constructs the repository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// WithinTx runs fn inside a transaction, committing only when fn succeeds.
func (r *RegistrationRepository) WithinTx(ctx context.Context, fn func(tx RegistrationTx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin registration transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&pgRegistrationTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit registration transaction: %w", err)
	}
	return nil
}

// GetSection fetches a section without locking it.
func (r *RegistrationRepository) GetSection(ctx context.Context, id string) (*models.CourseSection, error) {
	var section models.CourseSection
	if err := r.db.GetContext(ctx, &section, `SELECT `+sectionColumns+` FROM course_sections WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &section, nil
}

// ListSections returns sections filtered by term.
func (r *RegistrationRepository) ListSections(ctx context.Context, filter models.SectionFilter) ([]models.CourseSection, int, error) {
	var conditions []string
	var args []interface{}
	if filter.TermID != "" {
		conditions = append(conditions, fmt.Sprintf("term_id = $%d", len(args)+1))
		args = append(args, filter.TermID)
	}
	if filter.OpenOnly {
		conditions = append(conditions, "enrolled_count < capacity")
	}
	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM course_sections`+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count sections: %w", err)
	}

	page, size := filter.Page, filter.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM course_sections%s ORDER BY course_code ASC, id ASC LIMIT $%d OFFSET $%d`,
		sectionColumns, clause, len(args)+1, len(args)+2)
	args = append(args, size, (page-1)*size)

	var sections []models.CourseSection
	if err := r.db.SelectContext(ctx, &sections, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sections: %w", err)
	}
	return sections, total, nil
}

// CreateSection inserts a new section.
func (r *RegistrationRepository) CreateSection(ctx context.Context, section *models.CourseSection) error {
	now := time.Now().UTC()
	if section.CreatedAt.IsZero() {
		section.CreatedAt = now
	}
	section.UpdatedAt = now
	if section.NextWaitlistPosition <= 0 {
		section.NextWaitlistPosition = 1
	}
	const query = `INSERT INTO course_sections (` + sectionColumns + `)
VALUES (:id, :term_id, :course_code, :title, :credits, :capacity, :enrolled_count, :next_waitlist_position, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, section); err != nil {
		return translateWriteErr("create section", err)
	}
	return nil
}

// WaitlistEntries returns the FIFO queue of a section.
func (r *RegistrationRepository) WaitlistEntries(ctx context.Context, sectionID string) ([]models.WaitlistEntry, error) {
	const query = `SELECT id, student_id, waitlist_position, waitlisted_at FROM enrollments
WHERE section_id = $1 AND state = 'waitlisted' ORDER BY waitlist_position ASC`
	var entries []models.WaitlistEntry
	if err := r.db.SelectContext(ctx, &entries, query, sectionID); err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	return entries, nil
}

// ListEnrollments returns enrollments matching filter, newest first.
func (r *RegistrationRepository) ListEnrollments(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, error) {
	var conditions []string
	var args []interface{}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.SectionID != "" {
		conditions = append(conditions, fmt.Sprintf("section_id = $%d", len(args)+1))
		args = append(args, filter.SectionID)
	}
	if filter.TermID != "" {
		conditions = append(conditions, fmt.Sprintf("term_id = $%d", len(args)+1))
		args = append(args, filter.TermID)
	}
	if filter.State != "" {
		conditions = append(conditions, fmt.Sprintf("state = $%d", len(args)+1))
		args = append(args, filter.State)
	}
	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, `SELECT `+enrollmentColumns+` FROM enrollments`+clause+` ORDER BY created_at DESC`, args...); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return enrollments, nil
}

// PromotableSections lists sections with a free seat and a non-empty waitlist.
func (r *RegistrationRepository) PromotableSections(ctx context.Context) ([]string, error) {
	const query = `SELECT s.id FROM course_sections s
WHERE s.enrolled_count < s.capacity
AND EXISTS (SELECT 1 FROM enrollments e WHERE e.section_id = s.id AND e.state = 'waitlisted')
ORDER BY s.id ASC`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("list promotable sections: %w", err)
	}
	return ids, nil
}

type pgRegistrationTx struct {
	tx *sqlx.Tx
}

func (t *pgRegistrationTx) LockSection(ctx context.Context, sectionID string) (*models.CourseSection, error) {
	var section models.CourseSection
	if err := t.tx.GetContext(ctx, &section, `SELECT `+sectionColumns+` FROM course_sections WHERE id = $1 FOR UPDATE`, sectionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock section: %w", err)
	}
	return &section, nil
}

func (t *pgRegistrationTx) UpdateSection(ctx context.Context, section *models.CourseSection) error {
	section.UpdatedAt = time.Now().UTC()
	const query = `UPDATE course_sections SET capacity = :capacity, enrolled_count = :enrolled_count,
next_waitlist_position = :next_waitlist_position, updated_at = :updated_at WHERE id = :id`
	if _, err := t.tx.NamedExecContext(ctx, query, section); err != nil {
		return translateWriteErr("update section", err)
	}
	return nil
}

func (t *pgRegistrationTx) ActiveEnrollment(ctx context.Context, studentID, sectionID string) (*models.Enrollment, error) {
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments
WHERE student_id = $1 AND section_id = $2 AND state IN ('waitlisted', 'enrolled') FOR UPDATE`
	var enrollment models.Enrollment
	if err := t.tx.GetContext(ctx, &enrollment, query, studentID, sectionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get active enrollment: %w", err)
	}
	return &enrollment, nil
}

func (t *pgRegistrationTx) CountWaitlisted(ctx context.Context, studentID, termID string) (int, error) {
	var count int
	const query = `SELECT COUNT(*) FROM enrollments WHERE student_id = $1 AND term_id = $2 AND state = 'waitlisted'`
	if err := t.tx.GetContext(ctx, &count, query, studentID, termID); err != nil {
		return 0, fmt.Errorf("count waitlisted: %w", err)
	}
	return count, nil
}

func (t *pgRegistrationTx) CreditLoad(ctx context.Context, studentID, termID string) (int, error) {
	var load int
	const query = `SELECT COALESCE(SUM(credits), 0) FROM enrollments
WHERE student_id = $1 AND term_id = $2 AND state IN ('enrolled', 'completed')`
	if err := t.tx.GetContext(ctx, &load, query, studentID, termID); err != nil {
		return 0, fmt.Errorf("sum credit load: %w", err)
	}
	return load, nil
}

func (t *pgRegistrationTx) Waitlist(ctx context.Context, sectionID string) ([]models.Enrollment, error) {
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments
WHERE section_id = $1 AND state = 'waitlisted' ORDER BY waitlist_position ASC FOR UPDATE`
	var queue []models.Enrollment
	if err := t.tx.SelectContext(ctx, &queue, query, sectionID); err != nil {
		return nil, fmt.Errorf("lock waitlist: %w", err)
	}
	return queue, nil
}

func (t *pgRegistrationTx) InsertEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	const query = `INSERT INTO enrollments (` + enrollmentColumns + `)
VALUES (:id, :student_id, :section_id, :term_id, :credits, :state, :grade, :waitlist_position,
:waitlisted_at, :enrolled_at, :completed_at, :withdrawn_at, :dropped_at, :created_at, :updated_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, enrollment); err != nil {
		return translateWriteErr("insert enrollment", err)
	}
	return nil
}

func (t *pgRegistrationTx) UpdateEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	const query = `UPDATE enrollments SET state = :state, grade = :grade, waitlist_position = :waitlist_position,
enrolled_at = :enrolled_at, completed_at = :completed_at, withdrawn_at = :withdrawn_at, dropped_at = :dropped_at,
updated_at = :updated_at WHERE id = :id`
	if _, err := t.tx.NamedExecContext(ctx, query, enrollment); err != nil {
		return translateWriteErr("update enrollment", err)
	}
	return nil
}

func (t *pgRegistrationTx) DeleteEnrollment(ctx context.Context, id string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM enrollments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return nil
}
