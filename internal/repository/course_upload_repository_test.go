package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/campusflow/registrar-api/internal/models"
)

func newCourseUploadRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestCourseUploadRepositoryCreateWithinLimit(t *testing.T) {
	db, mock, cleanup := newCourseUploadRepoMock(t)
	defer cleanup()
	repo := NewCourseUploadRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM registrations WHERE id = $1 FOR UPDATE")).
		WithArgs("reg-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.StatusPending))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM course_uploads WHERE student_id = $1 AND course_id = $2 AND semester_id = $3 LIMIT 1")).
		WithArgs("stu-1", "course-1", "sem-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(c.credits\), 0\)`).
		WithArgs("reg-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(18))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO course_uploads")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	upload := &models.CourseUpload{RegistrationID: "reg-1", StudentID: "stu-1", CourseID: "course-1", SemesterID: "sem-1"}
	err := repo.CreateWithinLimit(context.Background(), upload, 3, 24)
	require.NoError(t, err)
	require.NotEmpty(t, upload.ID)
	require.Equal(t, models.StatusPending, upload.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseUploadRepositoryCreateWithinLimitExceeded(t *testing.T) {
	db, mock, cleanup := newCourseUploadRepoMock(t)
	defer cleanup()
	repo := NewCourseUploadRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM registrations WHERE id = $1 FOR UPDATE")).
		WithArgs("reg-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.StatusPending))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM course_uploads WHERE student_id = $1 AND course_id = $2 AND semester_id = $3 LIMIT 1")).
		WithArgs("stu-1", "course-1", "sem-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(c.credits\), 0\)`).
		WithArgs("reg-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(22))
	mock.ExpectRollback()

	upload := &models.CourseUpload{RegistrationID: "reg-1", StudentID: "stu-1", CourseID: "course-1", SemesterID: "sem-1"}
	err := repo.CreateWithinLimit(context.Background(), upload, 3, 24)
	require.ErrorIs(t, err, ErrCreditLimitReached)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseUploadRepositoryCreateWithinLimitDuplicate(t *testing.T) {
	db, mock, cleanup := newCourseUploadRepoMock(t)
	defer cleanup()
	repo := NewCourseUploadRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM registrations WHERE id = $1 FOR UPDATE")).
		WithArgs("reg-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.StatusPending))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM course_uploads WHERE student_id = $1 AND course_id = $2 AND semester_id = $3 LIMIT 1")).
		WithArgs("stu-1", "course-1", "sem-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	upload := &models.CourseUpload{RegistrationID: "reg-1", StudentID: "stu-1", CourseID: "course-1", SemesterID: "sem-1"}
	err := repo.CreateWithinLimit(context.Background(), upload, 3, 24)
	require.ErrorIs(t, err, ErrDuplicateUpload)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseUploadRepositoryCreateWithinLimitDecidedRegistration(t *testing.T) {
	db, mock, cleanup := newCourseUploadRepoMock(t)
	defer cleanup()
	repo := NewCourseUploadRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM registrations WHERE id = $1 FOR UPDATE")).
		WithArgs("reg-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.StatusApproved))
	mock.ExpectRollback()

	upload := &models.CourseUpload{RegistrationID: "reg-1", StudentID: "stu-1", CourseID: "course-1", SemesterID: "sem-1"}
	err := repo.CreateWithinLimit(context.Background(), upload, 3, 24)
	require.ErrorIs(t, err, ErrRegistrationNotPending)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseUploadRepositoryDeletePendingOnly(t *testing.T) {
	db, mock, cleanup := newCourseUploadRepoMock(t)
	defer cleanup()
	repo := NewCourseUploadRepository(db)

	mock.ExpectExec(`DELETE FROM course_uploads WHERE id = \$1 AND status = 'PENDING'\s+AND registration_id IN \(SELECT id FROM registrations WHERE status = 'PENDING'\)`).
		WithArgs("cu-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := repo.Delete(context.Background(), "cu-1")
	require.NoError(t, err)
	require.False(t, deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseUploadRepositoryUpdateStatusIfPending(t *testing.T) {
	db, mock, cleanup := newCourseUploadRepoMock(t)
	defer cleanup()
	repo := NewCourseUploadRepository(db)

	mock.ExpectExec(`UPDATE course_uploads SET status = \$2, decided_by = \$3, decision_note = \$4, updated_at = \$5\s+WHERE id = \$1 AND status = 'PENDING'`).
		WithArgs("cu-1", models.StatusApproved, "staff-1", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	updated, err := repo.UpdateStatusIfPending(context.Background(), "cu-1", models.StatusApproved, "staff-1", nil)
	require.NoError(t, err)
	require.True(t, updated)
	require.NoError(t, mock.ExpectationsWereMet())
}
