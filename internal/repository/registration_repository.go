package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campusflow/registrar-api/internal/models"
)

const totalCreditsSubquery = `(SELECT COALESCE(SUM(c.credits), 0)
        FROM course_uploads cu
        JOIN courses c ON c.id = cu.course_id
        WHERE cu.registration_id = r.id AND cu.status <> 'REJECTED')`

// RegistrationRepository handles persistence of semester registrations.
type RegistrationRepository struct {
	db *sqlx.DB
}

// NewRegistrationRepository constructs the repository.
func NewRegistrationRepository(db *sqlx.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// List returns registrations filtered by the provided criteria.
func (r *RegistrationRepository) List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error) {
	base := `FROM registrations r
LEFT JOIN users u ON u.id = r.student_id
LEFT JOIN semesters s ON s.id = r.semester_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("r.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.SemesterID != "" {
		conditions = append(conditions, fmt.Sprintf("r.semester_id = $%d", len(args)+1))
		args = append(args, filter.SemesterID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("r.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":   "r.created_at",
		"student_name": "u.full_name",
		"status":       "r.status",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "r.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	query := fmt.Sprintf(`SELECT r.id, r.student_id, r.semester_id, r.status, r.decided_by, r.decision_note, r.created_at, r.updated_at,
        u.full_name AS student_name, s.name AS semester_name, %s AS total_credits
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, totalCreditsSubquery, base+clause, orderBy, order, size, offset)

	var registrations []models.RegistrationDetail
	if err := r.db.SelectContext(ctx, &registrations, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list registrations: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count registrations: %w", err)
	}
	return registrations, total, nil
}

// FindByID returns a registration by its ID.
func (r *RegistrationRepository) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	const query = `SELECT id, student_id, semester_id, status, decided_by, decision_note, created_at, updated_at FROM registrations WHERE id = $1`
	var registration models.Registration
	if err := r.db.GetContext(ctx, &registration, query, id); err != nil {
		return nil, err
	}
	return &registration, nil
}

// FindDetailByID returns a registration with contextual info.
func (r *RegistrationRepository) FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	query := fmt.Sprintf(`SELECT r.id, r.student_id, r.semester_id, r.status, r.decided_by, r.decision_note, r.created_at, r.updated_at,
        u.full_name AS student_name, s.name AS semester_name, %s AS total_credits
        FROM registrations r
        LEFT JOIN users u ON u.id = r.student_id
        LEFT JOIN semesters s ON s.id = r.semester_id
        WHERE r.id = $1`, totalCreditsSubquery)
	var detail models.RegistrationDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindByStudentAndSemester returns the registration for the unique pair.
func (r *RegistrationRepository) FindByStudentAndSemester(ctx context.Context, studentID, semesterID string) (*models.Registration, error) {
	const query = `SELECT id, student_id, semester_id, status, decided_by, decision_note, created_at, updated_at
        FROM registrations WHERE student_id = $1 AND semester_id = $2`
	var registration models.Registration
	if err := r.db.GetContext(ctx, &registration, query, studentID, semesterID); err != nil {
		return nil, err
	}
	return &registration, nil
}

// Create persists a new registration record.
func (r *RegistrationRepository) Create(ctx context.Context, registration *models.Registration) error {
	if registration.ID == "" {
		registration.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if registration.CreatedAt.IsZero() {
		registration.CreatedAt = now
	}
	registration.UpdatedAt = now
	if registration.Status == "" {
		registration.Status = models.StatusPending
	}
	const query = `INSERT INTO registrations (id, student_id, semester_id, status, decided_by, decision_note, created_at, updated_at)
        VALUES (:id, :student_id, :semester_id, :status, :decided_by, :decision_note, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, registration); err != nil {
		return fmt.Errorf("create registration: %w", err)
	}
	return nil
}

// UpdateStatusIfPending transitions a registration out of PENDING in one
// conditional write. It reports whether a row was updated; zero rows means
// the registration was missing or already decided.
func (r *RegistrationRepository) UpdateStatusIfPending(ctx context.Context, id string, status models.ApprovalStatus, decidedBy string, note *string) (bool, error) {
	const query = `UPDATE registrations SET status = $2, decided_by = $3, decision_note = $4, updated_at = $5
        WHERE id = $1 AND status = 'PENDING'`
	res, err := r.db.ExecContext(ctx, query, id, status, decidedBy, note, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("update registration status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update registration status: %w", err)
	}
	return affected > 0, nil
}

// SumCredits totals credits of non-rejected uploads for a registration.
func (r *RegistrationRepository) SumCredits(ctx context.Context, registrationID string) (int, error) {
	const query = `SELECT COALESCE(SUM(c.credits), 0)
        FROM course_uploads cu
        JOIN courses c ON c.id = cu.course_id
        WHERE cu.registration_id = $1 AND cu.status <> 'REJECTED'`
	var total int
	if err := r.db.GetContext(ctx, &total, query, registrationID); err != nil {
		return 0, fmt.Errorf("sum registration credits: %w", err)
	}
	return total, nil
}

// CountByStatus aggregates decision counts for a semester.
func (r *RegistrationRepository) CountByStatus(ctx context.Context, semesterID string) (*models.RegistrationStats, error) {
	const query = `SELECT
        COUNT(*) FILTER (WHERE status = 'PENDING') AS pending,
        COUNT(*) FILTER (WHERE status = 'APPROVED') AS approved,
        COUNT(*) FILTER (WHERE status = 'REJECTED') AS rejected
        FROM registrations WHERE semester_id = $1`
	var stats models.RegistrationStats
	if err := r.db.GetContext(ctx, &stats, query, semesterID); err != nil {
		return nil, fmt.Errorf("count registrations by status: %w", err)
	}
	stats.SemesterID = semesterID
	stats.UpdatedAt = time.Now().UTC()
	return &stats, nil
}

// CountBySemester reports how many registrations reference a semester.
func (r *RegistrationRepository) CountBySemester(ctx context.Context, semesterID string) (int, error) {
	const query = `SELECT COUNT(*) FROM registrations WHERE semester_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, semesterID); err != nil {
		return 0, fmt.Errorf("count semester registrations: %w", err)
	}
	return count, nil
}
