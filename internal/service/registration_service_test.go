package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusflow/registrar-api/internal/models"
	appErrors "github.com/campusflow/registrar-api/pkg/errors"
)

type mockRegistrationRepo struct {
	registrations map[string]models.Registration
	byPair        map[string]string
	credits       map[string]int
	stats         *models.RegistrationStats
	statsCalls    int
	created       *models.Registration
}

func (m *mockRegistrationRepo) List(ctx context.Context, filter models.RegistrationFilter) ([]models.RegistrationDetail, int, error) {
	var out []models.RegistrationDetail
	for _, r := range m.registrations {
		out = append(out, models.RegistrationDetail{Registration: r})
	}
	return out, len(out), nil
}

func (m *mockRegistrationRepo) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	if r, ok := m.registrations[id]; ok {
		return &r, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRegistrationRepo) FindDetailByID(ctx context.Context, id string) (*models.RegistrationDetail, error) {
	if r, ok := m.registrations[id]; ok {
		return &models.RegistrationDetail{Registration: r, TotalCredits: m.credits[id]}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRegistrationRepo) FindByStudentAndSemester(ctx context.Context, studentID, semesterID string) (*models.Registration, error) {
	if id, ok := m.byPair[studentID+"/"+semesterID]; ok {
		r := m.registrations[id]
		return &r, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRegistrationRepo) Create(ctx context.Context, registration *models.Registration) error {
	if m.registrations == nil {
		m.registrations = make(map[string]models.Registration)
	}
	if m.byPair == nil {
		m.byPair = make(map[string]string)
	}
	if registration.ID == "" {
		registration.ID = "new-reg"
	}
	m.registrations[registration.ID] = *registration
	m.byPair[registration.StudentID+"/"+registration.SemesterID] = registration.ID
	m.created = registration
	return nil
}

func (m *mockRegistrationRepo) UpdateStatusIfPending(ctx context.Context, id string, status models.ApprovalStatus, decidedBy string, note *string) (bool, error) {
	r, ok := m.registrations[id]
	if !ok || r.Status != models.StatusPending {
		return false, nil
	}
	r.Status = status
	r.DecidedBy = &decidedBy
	r.DecisionNote = note
	m.registrations[id] = r
	return true, nil
}

func (m *mockRegistrationRepo) SumCredits(ctx context.Context, registrationID string) (int, error) {
	return m.credits[registrationID], nil
}

func (m *mockRegistrationRepo) CountByStatus(ctx context.Context, semesterID string) (*models.RegistrationStats, error) {
	m.statsCalls++
	if m.stats != nil {
		return m.stats, nil
	}
	return &models.RegistrationStats{SemesterID: semesterID}, nil
}

type mockSemesterReader struct {
	semesters map[string]*models.Semester
}

func (m *mockSemesterReader) FindByID(ctx context.Context, id string) (*models.Semester, error) {
	if s, ok := m.semesters[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

type mockUploadLister struct {
	uploads map[string][]models.CourseUploadDetail
}

func (m *mockUploadLister) ListByRegistration(ctx context.Context, registrationID string) ([]models.CourseUploadDetail, error) {
	return m.uploads[registrationID], nil
}

func activeSemester(id string) *models.Semester {
	return &models.Semester{ID: id, Name: "Odd 2026/2027", IsActive: true}
}

func newRegistrationService(repo *mockRegistrationRepo, semesters *mockSemesterReader) *RegistrationService {
	return NewRegistrationService(repo, semesters, &mockUploadLister{}, nil, nil, validator.New(), zap.NewNop(), true)
}

func TestRegistrationServiceOpenCreatesPending(t *testing.T) {
	repo := &mockRegistrationRepo{}
	semesters := &mockSemesterReader{semesters: map[string]*models.Semester{"sem-1": activeSemester("sem-1")}}
	svc := newRegistrationService(repo, semesters)

	detail, err := svc.Open(context.Background(), OpenRegistrationRequest{StudentID: "stu-1", SemesterID: "sem-1"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, detail.Status)
	assert.NotNil(t, repo.created)
}

func TestRegistrationServiceOpenIsIdempotent(t *testing.T) {
	repo := &mockRegistrationRepo{}
	semesters := &mockSemesterReader{semesters: map[string]*models.Semester{"sem-1": activeSemester("sem-1")}}
	svc := newRegistrationService(repo, semesters)

	first, err := svc.Open(context.Background(), OpenRegistrationRequest{StudentID: "stu-1", SemesterID: "sem-1"})
	require.NoError(t, err)
	second, err := svc.Open(context.Background(), OpenRegistrationRequest{StudentID: "stu-1", SemesterID: "sem-1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestRegistrationServiceOpenReturnsExistingAfterDecision(t *testing.T) {
	repo := &mockRegistrationRepo{
		registrations: map[string]models.Registration{"reg-1": {ID: "reg-1", StudentID: "stu-1", SemesterID: "sem-1", Status: models.StatusApproved}},
		byPair:        map[string]string{"stu-1/sem-1": "reg-1"},
	}
	semesters := &mockSemesterReader{semesters: map[string]*models.Semester{"sem-1": activeSemester("sem-1")}}
	svc := newRegistrationService(repo, semesters)

	detail, err := svc.Open(context.Background(), OpenRegistrationRequest{StudentID: "stu-1", SemesterID: "sem-1"})
	require.NoError(t, err)
	assert.Equal(t, "reg-1", detail.ID)
	assert.Equal(t, models.StatusApproved, detail.Status)
}

func TestRegistrationServiceOpenRejectsInactiveSemester(t *testing.T) {
	repo := &mockRegistrationRepo{}
	semesters := &mockSemesterReader{semesters: map[string]*models.Semester{"sem-1": {ID: "sem-1", IsActive: false}}}
	svc := newRegistrationService(repo, semesters)

	_, err := svc.Open(context.Background(), OpenRegistrationRequest{StudentID: "stu-1", SemesterID: "sem-1"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInvalidSemester.Code, appErr.Code)
}

func TestRegistrationServiceOpenRejectsPastDeadline(t *testing.T) {
	deadline := time.Now().UTC().Add(-time.Hour)
	semester := activeSemester("sem-1")
	semester.RegistrationDeadline = &deadline
	repo := &mockRegistrationRepo{}
	semesters := &mockSemesterReader{semesters: map[string]*models.Semester{"sem-1": semester}}
	svc := newRegistrationService(repo, semesters)

	_, err := svc.Open(context.Background(), OpenRegistrationRequest{StudentID: "stu-1", SemesterID: "sem-1"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInvalidSemester.Code, appErr.Code)
}

func TestRegistrationServiceApprove(t *testing.T) {
	repo := &mockRegistrationRepo{
		registrations: map[string]models.Registration{"reg-1": {ID: "reg-1", StudentID: "stu-1", SemesterID: "sem-1", Status: models.StatusPending}},
	}
	semesters := &mockSemesterReader{semesters: map[string]*models.Semester{"sem-1": activeSemester("sem-1")}}
	svc := newRegistrationService(repo, semesters)

	detail, err := svc.Approve(context.Background(), "reg-1", "staff-1", DecisionRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, detail.Status)
	require.NotNil(t, detail.DecidedBy)
	assert.Equal(t, "staff-1", *detail.DecidedBy)
}

func TestRegistrationServiceApproveAlreadyDecided(t *testing.T) {
	repo := &mockRegistrationRepo{
		registrations: map[string]models.Registration{"reg-1": {ID: "reg-1", Status: models.StatusRejected}},
	}
	semesters := &mockSemesterReader{semesters: map[string]*models.Semester{}}
	svc := newRegistrationService(repo, semesters)

	_, err := svc.Approve(context.Background(), "reg-1", "staff-1", DecisionRequest{})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErr.Code)
}

func TestRegistrationServiceApproveMissing(t *testing.T) {
	repo := &mockRegistrationRepo{registrations: map[string]models.Registration{}}
	semesters := &mockSemesterReader{semesters: map[string]*models.Semester{}}
	svc := newRegistrationService(repo, semesters)

	_, err := svc.Approve(context.Background(), "nope", "staff-1", DecisionRequest{})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestRegistrationServiceRejectThenApproveFails(t *testing.T) {
	repo := &mockRegistrationRepo{
		registrations: map[string]models.Registration{"reg-1": {ID: "reg-1", Status: models.StatusPending}},
	}
	semesters := &mockSemesterReader{semesters: map[string]*models.Semester{}}
	svc := newRegistrationService(repo, semesters)

	note := "missing paperwork"
	_, err := svc.Reject(context.Background(), "reg-1", "staff-1", DecisionRequest{Note: &note})
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), "reg-1", "staff-2", DecisionRequest{})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErr.Code)
}

func TestRegistrationServiceGetForStudentOwnership(t *testing.T) {
	repo := &mockRegistrationRepo{
		registrations: map[string]models.Registration{"reg-1": {ID: "reg-1", StudentID: "stu-1", Status: models.StatusPending}},
	}
	semesters := &mockSemesterReader{semesters: map[string]*models.Semester{}}
	svc := newRegistrationService(repo, semesters)

	_, err := svc.GetForStudent(context.Background(), "reg-1", "stu-2")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestRegistrationServiceStats(t *testing.T) {
	repo := &mockRegistrationRepo{stats: &models.RegistrationStats{SemesterID: "sem-1", Pending: 2, Approved: 5, Rejected: 1}}
	semesters := &mockSemesterReader{semesters: map[string]*models.Semester{}}
	svc := newRegistrationService(repo, semesters)

	stats, cacheHit, err := svc.Stats(context.Background(), "sem-1")
	require.NoError(t, err)
	assert.False(t, cacheHit)
	assert.Equal(t, 5, stats.Approved)
	assert.Equal(t, 1, repo.statsCalls)
}
