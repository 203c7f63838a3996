package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campusflow/registrar-api/internal/models"
	"github.com/campusflow/registrar-api/internal/repository"
	appErrors "github.com/campusflow/registrar-api/pkg/errors"
)

type mockUploadRepo struct {
	uploads map[string]models.CourseUpload
	details map[string]models.CourseUploadDetail
	credits map[string]int
	courses map[string]int
	seq     int
}

func (m *mockUploadRepo) ensure() {
	if m.uploads == nil {
		m.uploads = make(map[string]models.CourseUpload)
	}
	if m.details == nil {
		m.details = make(map[string]models.CourseUploadDetail)
	}
	if m.credits == nil {
		m.credits = make(map[string]int)
	}
}

func (m *mockUploadRepo) FindByID(ctx context.Context, id string) (*models.CourseUpload, error) {
	if u, ok := m.uploads[id]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUploadRepo) FindDetailByID(ctx context.Context, id string) (*models.CourseUploadDetail, error) {
	if d, ok := m.details[id]; ok {
		return &d, nil
	}
	if u, ok := m.uploads[id]; ok {
		return &models.CourseUploadDetail{CourseUpload: u}, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUploadRepo) ListByRegistration(ctx context.Context, registrationID string) ([]models.CourseUploadDetail, error) {
	var out []models.CourseUploadDetail
	for _, u := range m.uploads {
		if u.RegistrationID == registrationID {
			out = append(out, models.CourseUploadDetail{CourseUpload: u})
		}
	}
	return out, nil
}

func (m *mockUploadRepo) List(ctx context.Context, filter models.CourseUploadFilter) ([]models.CourseUploadDetail, int, error) {
	var out []models.CourseUploadDetail
	for _, u := range m.uploads {
		if filter.Status != "" && u.Status != filter.Status {
			continue
		}
		out = append(out, models.CourseUploadDetail{CourseUpload: u})
	}
	return out, len(out), nil
}

func (m *mockUploadRepo) CreateWithinLimit(ctx context.Context, upload *models.CourseUpload, courseCredits, maxCredits int) error {
	m.ensure()
	for _, u := range m.uploads {
		if u.StudentID == upload.StudentID && u.CourseID == upload.CourseID && u.SemesterID == upload.SemesterID {
			return repository.ErrDuplicateUpload
		}
	}
	if m.credits[upload.RegistrationID]+courseCredits > maxCredits {
		return repository.ErrCreditLimitReached
	}
	m.seq++
	upload.ID = itoa(m.seq)
	upload.Status = models.StatusPending
	m.uploads[upload.ID] = *upload
	m.credits[upload.RegistrationID] += courseCredits
	return nil
}

func (m *mockUploadRepo) Delete(ctx context.Context, id string) (bool, error) {
	u, ok := m.uploads[id]
	if !ok || u.Status != models.StatusPending {
		return false, nil
	}
	delete(m.uploads, id)
	return true, nil
}

func (m *mockUploadRepo) UpdateStatusIfPending(ctx context.Context, id string, status models.ApprovalStatus, decidedBy string, note *string) (bool, error) {
	u, ok := m.uploads[id]
	if !ok || u.Status != models.StatusPending {
		return false, nil
	}
	u.Status = status
	u.DecidedBy = &decidedBy
	u.DecisionNote = note
	m.uploads[id] = u
	return true, nil
}

type mockRegistrationReader struct {
	registrations map[string]*models.Registration
}

func (m *mockRegistrationReader) FindByID(ctx context.Context, id string) (*models.Registration, error) {
	if r, ok := m.registrations[id]; ok {
		return r, nil
	}
	return nil, sql.ErrNoRows
}

type mockCourseReader struct {
	courses map[string]*models.Course
}

func (m *mockCourseReader) FindByID(ctx context.Context, id string) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

func itoa(n int) string {
	return string(rune('a' + n - 1))
}

func newUploadFixture() (*mockUploadRepo, *CourseUploadService) {
	repo := &mockUploadRepo{}
	registrations := &mockRegistrationReader{registrations: map[string]*models.Registration{
		"reg-1": {ID: "reg-1", StudentID: "stu-1", SemesterID: "sem-1", Status: models.StatusPending},
	}}
	courses := &mockCourseReader{courses: map[string]*models.Course{
		"c-3": {ID: "c-3", Code: "CS101", Credits: 3, Active: true},
		"c-4": {ID: "c-4", Code: "CS102", Credits: 4, Active: true},
		"c-22": {ID: "c-22", Code: "CS499", Credits: 22, Active: true},
		"c-off": {ID: "c-off", Code: "CS000", Credits: 3, Active: false},
	}}
	semesters := &mockSemesterReader{semesters: map[string]*models.Semester{"sem-1": activeSemester("sem-1")}}
	svc := NewCourseUploadService(repo, registrations, courses, semesters, nil, validator.New(), zap.NewNop(), 24, true)
	return repo, svc
}

func TestCourseUploadServiceAdd(t *testing.T) {
	repo, svc := newUploadFixture()

	detail, err := svc.Add(context.Background(), "stu-1", AddCourseRequest{RegistrationID: "reg-1", CourseID: "c-3"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, detail.Status)
	assert.Len(t, repo.uploads, 1)
}

func TestCourseUploadServiceAddDuplicate(t *testing.T) {
	_, svc := newUploadFixture()

	_, err := svc.Add(context.Background(), "stu-1", AddCourseRequest{RegistrationID: "reg-1", CourseID: "c-3"})
	require.NoError(t, err)
	_, err = svc.Add(context.Background(), "stu-1", AddCourseRequest{RegistrationID: "reg-1", CourseID: "c-3"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrDuplicateCourse.Code, appErr.Code)
}

func TestCourseUploadServiceAddCreditCeiling(t *testing.T) {
	_, svc := newUploadFixture()

	_, err := svc.Add(context.Background(), "stu-1", AddCourseRequest{RegistrationID: "reg-1", CourseID: "c-22"})
	require.NoError(t, err)
	_, err = svc.Add(context.Background(), "stu-1", AddCourseRequest{RegistrationID: "reg-1", CourseID: "c-4"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrCreditLimit.Code, appErr.Code)
}

func TestCourseUploadServiceAddOwnership(t *testing.T) {
	_, svc := newUploadFixture()

	_, err := svc.Add(context.Background(), "stu-2", AddCourseRequest{RegistrationID: "reg-1", CourseID: "c-3"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestCourseUploadServiceAddInactiveCourse(t *testing.T) {
	_, svc := newUploadFixture()

	_, err := svc.Add(context.Background(), "stu-1", AddCourseRequest{RegistrationID: "reg-1", CourseID: "c-off"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestCourseUploadServiceDropThenReAdd(t *testing.T) {
	repo, svc := newUploadFixture()

	detail, err := svc.Add(context.Background(), "stu-1", AddCourseRequest{RegistrationID: "reg-1", CourseID: "c-3"})
	require.NoError(t, err)

	// Drop frees the slot: the mock mirrors the hard DELETE the real
	// repository performs.
	repo.credits["reg-1"] -= 3
	require.NoError(t, svc.Drop(context.Background(), detail.ID, "stu-1"))

	_, err = svc.Add(context.Background(), "stu-1", AddCourseRequest{RegistrationID: "reg-1", CourseID: "c-3"})
	require.NoError(t, err)
}

func TestCourseUploadServiceDropDecided(t *testing.T) {
	repo, svc := newUploadFixture()

	detail, err := svc.Add(context.Background(), "stu-1", AddCourseRequest{RegistrationID: "reg-1", CourseID: "c-3"})
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), detail.ID, "staff-1", DecisionRequest{})
	require.NoError(t, err)

	err = svc.Drop(context.Background(), detail.ID, "stu-1")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErr.Code)
	assert.Len(t, repo.uploads, 1)
}

func TestCourseUploadServiceDropAfterRegistrationDecided(t *testing.T) {
	repo, svc := newUploadFixture()

	detail, err := svc.Add(context.Background(), "stu-1", AddCourseRequest{RegistrationID: "reg-1", CourseID: "c-3"})
	require.NoError(t, err)

	// The registrar approves the registration while the upload itself is
	// still PENDING. The selection is locked in with the decision, so the
	// student must not be able to strip courses out afterwards.
	reg := &models.Registration{ID: "reg-1", StudentID: "stu-1", SemesterID: "sem-1", Status: models.StatusApproved}
	svc.registrations.(*mockRegistrationReader).registrations["reg-1"] = reg

	err = svc.Drop(context.Background(), detail.ID, "stu-1")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErr.Code)
	assert.Len(t, repo.uploads, 1)
}

func TestCourseUploadServiceApproveTwice(t *testing.T) {
	_, svc := newUploadFixture()

	detail, err := svc.Add(context.Background(), "stu-1", AddCourseRequest{RegistrationID: "reg-1", CourseID: "c-3"})
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), detail.ID, "staff-1", DecisionRequest{})
	require.NoError(t, err)
	_, err = svc.Reject(context.Background(), detail.ID, "staff-2", DecisionRequest{})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErr.Code)
}

func TestCourseUploadServiceBulkApprovePartialSuccess(t *testing.T) {
	_, svc := newUploadFixture()

	first, err := svc.Add(context.Background(), "stu-1", AddCourseRequest{RegistrationID: "reg-1", CourseID: "c-3"})
	require.NoError(t, err)
	second, err := svc.Add(context.Background(), "stu-1", AddCourseRequest{RegistrationID: "reg-1", CourseID: "c-4"})
	require.NoError(t, err)

	_, err = svc.Reject(context.Background(), second.ID, "staff-1", DecisionRequest{})
	require.NoError(t, err)

	result, err := svc.BulkApprove(context.Background(), "staff-1", BulkApproveRequest{IDs: []string{first.ID, second.ID, "missing"}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.SucceededCount)
	assert.ElementsMatch(t, []string{second.ID, "missing"}, result.FailedIDs)
}

func TestCourseUploadServiceBulkApproveDeduplicates(t *testing.T) {
	_, svc := newUploadFixture()

	first, err := svc.Add(context.Background(), "stu-1", AddCourseRequest{RegistrationID: "reg-1", CourseID: "c-3"})
	require.NoError(t, err)

	result, err := svc.BulkApprove(context.Background(), "staff-1", BulkApproveRequest{IDs: []string{first.ID, first.ID}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.SucceededCount)
	assert.Empty(t, result.FailedIDs)
}

func TestCourseUploadServiceListPendingForcesStatus(t *testing.T) {
	_, svc := newUploadFixture()

	first, err := svc.Add(context.Background(), "stu-1", AddCourseRequest{RegistrationID: "reg-1", CourseID: "c-3"})
	require.NoError(t, err)
	second, err := svc.Add(context.Background(), "stu-1", AddCourseRequest{RegistrationID: "reg-1", CourseID: "c-4"})
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), second.ID, "staff-1", DecisionRequest{})
	require.NoError(t, err)

	pending, _, err := svc.ListPending(context.Background(), models.CourseUploadFilter{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)
}
