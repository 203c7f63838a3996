package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campusflow/registrar-api/internal/models"
	appErrors "github.com/campusflow/registrar-api/pkg/errors"
)

type registrationRepository interface {
	List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Registration, error)
	FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error)
	FindByStudentAndSemester(ctx context.Context, studentID, semesterID string) (*models.Registration, error)
	Create(ctx context.Context, registration *models.Registration) error
	UpdateStatusIfPending(ctx context.Context, id string, status models.ApprovalStatus, decidedBy string, note *string) (bool, error)
	SumCredits(ctx context.Context, registrationID string) (int, error)
	CountByStatus(ctx context.Context, semesterID string) (*models.RegistrationStats, error)
}

type semesterReader interface {
	FindByID(ctx context.Context, id string) (*models.Semester, error)
}

type registrationUploadLister interface {
	ListByRegistration(ctx context.Context, registrationID string) ([]models.CourseUploadDetail, error)
}

// OpenRegistrationRequest starts (or resumes) a semester registration.
type OpenRegistrationRequest struct {
	StudentID  string `json:"student_id" validate:"required"`
	SemesterID string `json:"semester_id" validate:"required"`
}

// DecisionRequest carries an approver's verdict payload.
type DecisionRequest struct {
	Note *string `json:"note,omitempty"`
}

// RegistrationView is a registration detail with its course selections.
type RegistrationView struct {
	models.RegistrationDetail
	Uploads []models.CourseUploadDetail `json:"course_uploads"`
}

// RegistrationService orchestrates the semester registration workflow.
type RegistrationService struct {
	repo             registrationRepository
	semesters        semesterReader
	uploads          registrationUploadLister
	cache            *CacheService
	metrics          *MetricsService
	validator        *validator.Validate
	logger           *zap.Logger
	enforceDeadlines bool
}

// NewRegistrationService constructs RegistrationService.
func NewRegistrationService(repo registrationRepository, semesters semesterReader, uploads registrationUploadLister, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, enforceDeadlines bool) *RegistrationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationService{
		repo:             repo,
		semesters:        semesters,
		uploads:          uploads,
		cache:            cache,
		metrics:          metrics,
		validator:        validate,
		logger:           logger,
		enforceDeadlines: enforceDeadlines,
	}
}

func statsCacheKey(semesterID string) string {
	return fmt.Sprintf("registrations:stats:%s", semesterID)
}

// List returns registrations with pagination metadata.
func (s *RegistrationService) List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, *models.Pagination, error) {
	registrations, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registrations")
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
	return registrations, pagination, nil
}

// Open creates the registration for a student and semester, or returns the
// existing one. Re-submitting is a no-op regardless of current status.
func (s *RegistrationService) Open(ctx context.Context, req OpenRegistrationRequest) (*models.RegistrationDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	semester, err := s.semesters.FindByID(ctx, req.SemesterID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrInvalidSemester, "semester not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load semester")
	}
	if !semester.IsActive {
		return nil, appErrors.Clone(appErrors.ErrInvalidSemester, "semester is not open for registration")
	}
	if s.enforceDeadlines && semester.RegistrationDeadline != nil && time.Now().UTC().After(*semester.RegistrationDeadline) {
		return nil, appErrors.Clone(appErrors.ErrInvalidSemester, "registration deadline has passed")
	}

	existing, err := s.repo.FindByStudentAndSemester(ctx, req.StudentID, req.SemesterID)
	if err != nil && err != sql.ErrNoRows {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up registration")
	}
	if existing != nil {
		return s.detail(ctx, existing.ID)
	}

	registration := &models.Registration{
		StudentID:  req.StudentID,
		SemesterID: req.SemesterID,
		Status:     models.StatusPending,
	}
	if err := s.repo.Create(ctx, registration); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create registration")
	}
	s.invalidateStats(ctx, req.SemesterID)
	s.logger.Info("registration opened",
		zap.String("registration_id", registration.ID),
		zap.String("student_id", req.StudentID),
		zap.String("semester_id", req.SemesterID))
	return s.detail(ctx, registration.ID)
}

// Get returns the registration with its course selections.
func (s *RegistrationService) Get(ctx context.Context, id string) (*RegistrationView, error) {
	detail, err := s.detail(ctx, id)
	if err != nil {
		return nil, err
	}
	uploads, err := s.uploads.ListByRegistration(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course selections")
	}
	if uploads == nil {
		uploads = []models.CourseUploadDetail{}
	}
	return &RegistrationView{RegistrationDetail: *detail, Uploads: uploads}, nil
}

// GetForStudent returns the registration while enforcing ownership.
func (s *RegistrationService) GetForStudent(ctx context.Context, id, studentID string) (*RegistrationView, error) {
	view, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if view.StudentID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "registration belongs to another student")
	}
	return view, nil
}

// TotalCredits reports the current non-rejected credit total.
func (s *RegistrationService) TotalCredits(ctx context.Context, id string) (int, error) {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if err == sql.ErrNoRows {
			return 0, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
	}
	total, err := s.repo.SumCredits(ctx, id)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to total credits")
	}
	return total, nil
}

// Approve transitions a pending registration to APPROVED.
func (s *RegistrationService) Approve(ctx context.Context, id, approverID string, req DecisionRequest) (*models.RegistrationDetail, error) {
	return s.decide(ctx, id, approverID, models.StatusApproved, req.Note)
}

// Reject transitions a pending registration to REJECTED.
func (s *RegistrationService) Reject(ctx context.Context, id, approverID string, req DecisionRequest) (*models.RegistrationDetail, error) {
	return s.decide(ctx, id, approverID, models.StatusRejected, req.Note)
}

func (s *RegistrationService) decide(ctx context.Context, id, approverID string, status models.ApprovalStatus, note *string) (*models.RegistrationDetail, error) {
	updated, err := s.repo.UpdateStatusIfPending(ctx, id, status, approverID, note)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update registration")
	}
	if !updated {
		registration, err := s.repo.FindByID(ctx, id)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration")
		}
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("registration already %s", registration.Status))
	}
	detail, err := s.detail(ctx, id)
	if err != nil {
		return nil, err
	}
	s.invalidateStats(ctx, detail.SemesterID)
	if s.metrics != nil {
		s.metrics.RecordDecision("registration", status)
	}
	s.logger.Info("registration decided",
		zap.String("registration_id", id),
		zap.String("status", string(status)),
		zap.String("decided_by", approverID))
	return detail, nil
}

// Stats returns decision counts per semester, served from cache when warm.
// The second return value reports whether the result came from cache.
func (s *RegistrationService) Stats(ctx context.Context, semesterID string) (*models.RegistrationStats, bool, error) {
	if semesterID == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "semester id is required")
	}
	key := statsCacheKey(semesterID)
	if s.cache.Enabled() {
		var cached models.RegistrationStats
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return &cached, true, nil
		}
	}
	stats, err := s.repo.CountByStatus(ctx, semesterID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate registration stats")
	}
	if s.cache.Enabled() {
		_ = s.cache.Set(ctx, key, stats, 0)
	}
	return stats, false, nil
}

func (s *RegistrationService) detail(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "registration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load registration detail")
	}
	return detail, nil
}

func (s *RegistrationService) invalidateStats(ctx context.Context, semesterID string) {
	if !s.cache.Enabled() {
		return
	}
	_ = s.cache.Invalidate(ctx, statsCacheKey(semesterID))
}
