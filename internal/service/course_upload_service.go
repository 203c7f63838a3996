package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campusflow/registrar-api/internal/models"
	"github.com/campusflow/registrar-api/internal/repository"
	appErrors "github.com/campusflow/registrar-api/pkg/errors"
)

type courseUploadRepository interface {
	FindByID(ctx context.Context, id string) (*models.CourseUpload, error)
	FindDetailByID(ctx context.Context, id string) (*models.CourseUploadDetail, error)
	ListByRegistration(ctx context.Context, registrationID string) ([]models.CourseUploadDetail, error)
	List(ctx context.Context, filter models.CourseUploadFilter) ([]models.CourseUploadDetail, int, error)
	CreateWithinLimit(ctx context.Context, upload *models.CourseUpload, courseCredits, maxCredits int) error
	Delete(ctx context.Context, id string) (bool, error)
	UpdateStatusIfPending(ctx context.Context, id string, status models.ApprovalStatus, decidedBy string, note *string) (bool, error)
}

type registrationReader interface {
	FindByID(ctx context.Context, id string) (*models.Registration, error)
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

// AddCourseRequest attaches a course selection to a registration.
type AddCourseRequest struct {
	RegistrationID string `json:"registration_id" validate:"required"`
	CourseID       string `json:"course_id" validate:"required"`
}

// BulkApproveRequest carries the IDs for a bulk approval sweep.
type BulkApproveRequest struct {
	IDs  []string `json:"ids" validate:"required,min=1,dive,required"`
	Note *string  `json:"note,omitempty"`
}

// CourseUploadService orchestrates course selection and its approval queue.
type CourseUploadService struct {
	repo          courseUploadRepository
	registrations registrationReader
	courses       courseReader
	semesters     semesterReader
	metrics       *MetricsService
	validator     *validator.Validate
	logger        *zap.Logger

	maxCredits       int
	enforceDeadlines bool
}

// NewCourseUploadService constructs CourseUploadService.
func NewCourseUploadService(repo courseUploadRepository, registrations registrationReader, courses courseReader, semesters semesterReader, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, maxCredits int, enforceDeadlines bool) *CourseUploadService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxCredits <= 0 {
		maxCredits = 24
	}
	return &CourseUploadService{
		repo:             repo,
		registrations:    registrations,
		courses:          courses,
		semesters:        semesters,
		metrics:          metrics,
		validator:        validate,
		logger:           logger,
		maxCredits:       maxCredits,
		enforceDeadlines: enforceDeadlines,
	}
}

// MaxCredits exposes the configured per-semester credit ceiling.
func (s *CourseUploadService) MaxCredits() int {
	return s.maxCredits
}

// List returns uploads for the approval queue with pagination metadata.
func (s *CourseUploadService) List(ctx context.Context, filter models.CourseUploadFilter) ([]models.CourseUploadDetail, *models.Pagination, error) {
	uploads, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list course uploads")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return uploads, pagination, nil
}

// ListPending returns the pending queue, optionally narrowed by semester
// and department.
func (s *CourseUploadService) ListPending(ctx context.Context, filter models.CourseUploadFilter) ([]models.CourseUploadDetail, *models.Pagination, error) {
	filter.Status = models.StatusPending
	return s.List(ctx, filter)
}

// Add attaches a course to the student's registration. The insert runs under
// a registration row lock so the credit ceiling and the duplicate rule hold
// under concurrent requests.
func (s *CourseUploadService) Add(ctx context.Context, studentID string, req AddCourseRequest) (*models.CourseUploadDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course selection payload")
	}

	registration, err := s.registrations.FindByID(ctx, req.RegistrationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	if registration.StudentID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "registration belongs to another student")
	}

	semester, err := s.semesters.FindByID(ctx, registration.SemesterID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrInvalidSemester, "semester not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load semester")
	}
	if s.enforceDeadlines && semester.CourseUploadDeadline != nil && time.Now().UTC().After(*semester.CourseUploadDeadline) {
		return nil, appErrors.Clone(appErrors.ErrInvalidSemester, "course upload deadline has passed")
	}

	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if !course.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course is not offered")
	}

	upload := &models.CourseUpload{
		RegistrationID: registration.ID,
		StudentID:      registration.StudentID,
		CourseID:       course.ID,
		SemesterID:     registration.SemesterID,
		Status:         models.StatusPending,
	}
	if err := s.repo.CreateWithinLimit(ctx, upload, course.Credits, s.maxCredits); err != nil {
		switch {
		case errors.Is(err, repository.ErrRegistrationNotPending):
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "registration is no longer pending")
		case errors.Is(err, repository.ErrDuplicateUpload):
			return nil, appErrors.Clone(appErrors.ErrDuplicateCourse, "")
		case errors.Is(err, repository.ErrCreditLimitReached):
			return nil, appErrors.Clone(appErrors.ErrCreditLimit, fmt.Sprintf("adding %s exceeds the %d credit limit", course.Code, s.maxCredits))
		case err == sql.ErrNoRows:
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add course")
	}
	s.logger.Info("course added",
		zap.String("upload_id", upload.ID),
		zap.String("registration_id", registration.ID),
		zap.String("course_id", course.ID))
	return s.detail(ctx, upload.ID)
}

// Drop removes a pending course selection owned by the student. Both the
// upload and its parent registration must still be PENDING. The row is
// deleted outright so the course can be re-added later.
func (s *CourseUploadService) Drop(ctx context.Context, id, studentID string) error {
	upload, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "course upload not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course upload")
	}
	if upload.StudentID != studentID {
		return appErrors.Clone(appErrors.ErrForbidden, "course upload belongs to another student")
	}
	registration, err := s.registrations.FindByID(ctx, upload.RegistrationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	if registration.Status != models.StatusPending {
		return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("registration already %s", registration.Status))
	}
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to drop course")
	}
	if !deleted {
		return appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("course upload already %s", upload.Status))
	}
	s.logger.Info("course dropped", zap.String("upload_id", id), zap.String("student_id", studentID))
	return nil
}

// Approve transitions a pending upload to APPROVED.
func (s *CourseUploadService) Approve(ctx context.Context, id, approverID string, req DecisionRequest) (*models.CourseUploadDetail, error) {
	return s.decide(ctx, id, approverID, models.StatusApproved, req.Note)
}

// Reject transitions a pending upload to REJECTED.
func (s *CourseUploadService) Reject(ctx context.Context, id, approverID string, req DecisionRequest) (*models.CourseUploadDetail, error) {
	return s.decide(ctx, id, approverID, models.StatusRejected, req.Note)
}

func (s *CourseUploadService) decide(ctx context.Context, id, approverID string, status models.ApprovalStatus, note *string) (*models.CourseUploadDetail, error) {
	updated, err := s.repo.UpdateStatusIfPending(ctx, id, status, approverID, note)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course upload")
	}
	if !updated {
		upload, err := s.repo.FindByID(ctx, id)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "course upload not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course upload")
		}
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("course upload already %s", upload.Status))
	}
	if s.metrics != nil {
		s.metrics.RecordDecision("course_upload", status)
	}
	s.logger.Info("course upload decided",
		zap.String("upload_id", id),
		zap.String("status", string(status)),
		zap.String("decided_by", approverID))
	return s.detail(ctx, id)
}

// BulkApprove approves each ID independently. One bad ID never blocks the
// rest; the result reports how many succeeded and which IDs failed.
func (s *CourseUploadService) BulkApprove(ctx context.Context, approverID string, req BulkApproveRequest) (*models.BulkApprovalResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk approval payload")
	}
	result := &models.BulkApprovalResult{FailedIDs: []string{}}
	seen := make(map[string]bool, len(req.IDs))
	for _, id := range req.IDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		updated, err := s.repo.UpdateStatusIfPending(ctx, id, models.StatusApproved, approverID, req.Note)
		if err != nil {
			s.logger.Warn("bulk approve item failed", zap.String("upload_id", id), zap.Error(err))
			result.FailedIDs = append(result.FailedIDs, id)
			continue
		}
		if !updated {
			result.FailedIDs = append(result.FailedIDs, id)
			continue
		}
		result.SucceededCount++
		if s.metrics != nil {
			s.metrics.RecordDecision("course_upload", models.StatusApproved)
		}
	}
	s.logger.Info("bulk approval completed",
		zap.String("approver_id", approverID),
		zap.Int("succeeded", result.SucceededCount),
		zap.Int("failed", len(result.FailedIDs)))
	return result, nil
}

// Get returns a single upload with course context.
func (s *CourseUploadService) Get(ctx context.Context, id string) (*models.CourseUploadDetail, error) {
	return s.detail(ctx, id)
}

func (s *CourseUploadService) detail(ctx context.Context, id string) (*models.CourseUploadDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course upload not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course upload detail")
	}
	return detail, nil
}
