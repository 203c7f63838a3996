package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusflow/registrar-api/internal/models"
)

// Sentinel outcomes of the guarded insert. Services translate these into
// user-facing error kinds.
var (
	ErrRegistrationNotPending = errors.New("registration is not pending")
	ErrDuplicateUpload        = errors.New("course upload already exists")
	ErrCreditLimitReached     = errors.New("credit limit reached")
)

// CourseUploadRepository handles persistence of course selections.
type CourseUploadRepository struct {
	db *sqlx.DB
}

// NewCourseUploadRepository constructs the repository.
func NewCourseUploadRepository(db *sqlx.DB) *CourseUploadRepository {
	return &CourseUploadRepository{db: db}
}

// FindByID returns a course upload by its ID.
func (r *CourseUploadRepository) FindByID(ctx context.Context, id string) (*models.CourseUpload, error) {
	const query = `SELECT id, registration_id, student_id, course_id, semester_id, status, decided_by, decision_note, created_at, updated_at
        FROM course_uploads WHERE id = $1`
	var upload models.CourseUpload
	if err := r.db.GetContext(ctx, &upload, query, id); err != nil {
		return nil, err
	}
	return &upload, nil
}

// FindDetailByID returns a course upload with joined course info.
func (r *CourseUploadRepository) FindDetailByID(ctx context.Context, id string) (*models.CourseUploadDetail, error) {
	const query = `SELECT cu.id, cu.registration_id, cu.student_id, cu.course_id, cu.semester_id, cu.status, cu.decided_by, cu.decision_note, cu.created_at, cu.updated_at,
        c.code AS course_code, c.title AS course_title, c.credits AS course_credits, c.department, u.full_name AS student_name
        FROM course_uploads cu
        LEFT JOIN courses c ON c.id = cu.course_id
        LEFT JOIN users u ON u.id = cu.student_id
        WHERE cu.id = $1`
	var detail models.CourseUploadDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListByRegistration returns all uploads beneath a registration.
func (r *CourseUploadRepository) ListByRegistration(ctx context.Context, registrationID string) ([]models.CourseUploadDetail, error) {
	const query = `SELECT cu.id, cu.registration_id, cu.student_id, cu.course_id, cu.semester_id, cu.status, cu.decided_by, cu.decision_note, cu.created_at, cu.updated_at,
        c.code AS course_code, c.title AS course_title, c.credits AS course_credits, c.department, u.full_name AS student_name
        FROM course_uploads cu
        LEFT JOIN courses c ON c.id = cu.course_id
        LEFT JOIN users u ON u.id = cu.student_id
        WHERE cu.registration_id = $1 ORDER BY cu.created_at ASC`
	var uploads []models.CourseUploadDetail
	if err := r.db.SelectContext(ctx, &uploads, query, registrationID); err != nil {
		return nil, fmt.Errorf("list registration uploads: %w", err)
	}
	return uploads, nil
}

// List returns course uploads for the approval queue.
func (r *CourseUploadRepository) List(ctx context.Context, filter models.CourseUploadFilter) ([]models.CourseUploadDetail, int, error) {
	base := `FROM course_uploads cu
LEFT JOIN courses c ON c.id = cu.course_id
LEFT JOIN users u ON u.id = cu.student_id`
	var conditions []string
	var args []interface{}

	if filter.RegistrationID != "" {
		conditions = append(conditions, fmt.Sprintf("cu.registration_id = $%d", len(args)+1))
		args = append(args, filter.RegistrationID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("cu.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.SemesterID != "" {
		conditions = append(conditions, fmt.Sprintf("cu.semester_id = $%d", len(args)+1))
		args = append(args, filter.SemesterID)
	}
	if filter.Department != "" {
		conditions = append(conditions, fmt.Sprintf("c.department = $%d", len(args)+1))
		args = append(args, filter.Department)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("cu.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":   "cu.created_at",
		"course_code":  "c.code",
		"student_name": "u.full_name",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "cu.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT cu.id, cu.registration_id, cu.student_id, cu.course_id, cu.semester_id, cu.status, cu.decided_by, cu.decision_note, cu.created_at, cu.updated_at,
        c.code AS course_code, c.title AS course_title, c.credits AS course_credits, c.department, u.full_name AS student_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var uploads []models.CourseUploadDetail
	if err := r.db.SelectContext(ctx, &uploads, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list course uploads: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count course uploads: %w", err)
	}
	return uploads, total, nil
}

// CreateWithinLimit inserts a course upload inside one transaction that
// locks the parent registration row, re-checks its status, the duplicate
// rule, and the running credit total. Either the row is inserted with all
// invariants intact or nothing is persisted.
func (r *CourseUploadRepository) CreateWithinLimit(ctx context.Context, upload *models.CourseUpload, courseCredits, maxCredits int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upload transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var status models.ApprovalStatus
	if err := tx.GetContext(ctx, &status, `SELECT status FROM registrations WHERE id = $1 FOR UPDATE`, upload.RegistrationID); err != nil {
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		return fmt.Errorf("lock registration: %w", err)
	}
	if status != models.StatusPending {
		return ErrRegistrationNotPending
	}

	var exists int
	err = tx.GetContext(ctx, &exists, `SELECT 1 FROM course_uploads WHERE student_id = $1 AND course_id = $2 AND semester_id = $3 LIMIT 1`,
		upload.StudentID, upload.CourseID, upload.SemesterID)
	if err == nil {
		return ErrDuplicateUpload
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check duplicate upload: %w", err)
	}

	var total int
	err = tx.GetContext(ctx, &total, `SELECT COALESCE(SUM(c.credits), 0)
        FROM course_uploads cu
        JOIN courses c ON c.id = cu.course_id
        WHERE cu.registration_id = $1 AND cu.status <> 'REJECTED'`, upload.RegistrationID)
	if err != nil {
		return fmt.Errorf("sum registration credits: %w", err)
	}
	if total+courseCredits > maxCredits {
		return ErrCreditLimitReached
	}

	if upload.ID == "" {
		upload.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	upload.CreatedAt = now
	upload.UpdatedAt = now
	if upload.Status == "" {
		upload.Status = models.StatusPending
	}
	if _, err := tx.NamedExecContext(ctx, `INSERT INTO course_uploads (id, registration_id, student_id, course_id, semester_id, status, decided_by, decision_note, created_at, updated_at)
        VALUES (:id, :registration_id, :student_id, :course_id, :semester_id, :status, :decided_by, :decision_note, :created_at, :updated_at)`, upload); err != nil {
		return fmt.Errorf("insert course upload: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit course upload: %w", err)
	}
	return nil
}

// Delete removes a pending course upload whose parent registration is
// still PENDING. A decided upload or a decided registration is never
// touched; zero affected rows reports that the guard did not match.
func (r *CourseUploadRepository) Delete(ctx context.Context, id string) (bool, error) {
	const query = `DELETE FROM course_uploads WHERE id = $1 AND status = 'PENDING'
        AND registration_id IN (SELECT id FROM registrations WHERE status = 'PENDING')`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("delete course upload: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete course upload: %w", err)
	}
	return affected > 0, nil
}

// UpdateStatusIfPending transitions an upload out of PENDING conditionally.
func (r *CourseUploadRepository) UpdateStatusIfPending(ctx context.Context, id string, status models.ApprovalStatus, decidedBy string, note *string) (bool, error) {
	const query = `UPDATE course_uploads SET status = $2, decided_by = $3, decision_note = $4, updated_at = $5
        WHERE id = $1 AND status = 'PENDING'`
	res, err := r.db.ExecContext(ctx, query, id, status, decidedBy, note, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("update course upload status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update course upload status: %w", err)
	}
	return affected > 0, nil
}

// CountByCourse reports how many uploads reference a course.
func (r *CourseUploadRepository) CountByCourse(ctx context.Context, courseID string) (int, error) {
	const query = `SELECT COUNT(*) FROM course_uploads WHERE course_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, courseID); err != nil {
		return 0, fmt.Errorf("count course uploads: %w", err)
	}
	return count, nil
}
