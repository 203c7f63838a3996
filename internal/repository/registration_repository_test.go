package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/campusflow/registrar-api/internal/models"
)

func newRegistrationRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestRegistrationRepositoryFindByStudentAndSemester(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	rows := sqlmock.NewRows([]string{"id", "student_id", "semester_id", "status", "decided_by", "decision_note", "created_at", "updated_at"}).
		AddRow("reg-1", "stu-1", "sem-1", models.StatusPending, nil, nil, time.Now(), time.Now())
	mock.ExpectQuery(`SELECT id, student_id, semester_id, status, decided_by, decision_note, created_at, updated_at\s+FROM registrations WHERE student_id = \$1 AND semester_id = \$2`).
		WithArgs("stu-1", "sem-1").
		WillReturnRows(rows)

	registration, err := repo.FindByStudentAndSemester(context.Background(), "stu-1", "sem-1")
	require.NoError(t, err)
	require.Equal(t, "reg-1", registration.ID)
	require.Equal(t, models.StatusPending, registration.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryCreateDefaultsStatus(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO registrations")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	registration := &models.Registration{StudentID: "stu-1", SemesterID: "sem-1"}
	err := repo.Create(context.Background(), registration)
	require.NoError(t, err)
	require.NotEmpty(t, registration.ID)
	require.Equal(t, models.StatusPending, registration.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryUpdateStatusIfPending(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	note := "verified"
	mock.ExpectExec(`UPDATE registrations SET status = \$2, decided_by = \$3, decision_note = \$4, updated_at = \$5\s+WHERE id = \$1 AND status = 'PENDING'`).
		WithArgs("reg-1", models.StatusApproved, "staff-1", &note, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	updated, err := repo.UpdateStatusIfPending(context.Background(), "reg-1", models.StatusApproved, "staff-1", &note)
	require.NoError(t, err)
	require.True(t, updated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryUpdateStatusIfPendingAlreadyDecided(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	mock.ExpectExec(`UPDATE registrations SET status = \$2, decided_by = \$3, decision_note = \$4, updated_at = \$5\s+WHERE id = \$1 AND status = 'PENDING'`).
		WithArgs("reg-1", models.StatusRejected, "staff-1", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	updated, err := repo.UpdateStatusIfPending(context.Background(), "reg-1", models.StatusRejected, "staff-1", nil)
	require.NoError(t, err)
	require.False(t, updated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositorySumCredits(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	rows := sqlmock.NewRows([]string{"coalesce"}).AddRow(18)
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(c.credits\), 0\)`).
		WithArgs("reg-1").
		WillReturnRows(rows)

	total, err := repo.SumCredits(context.Background(), "reg-1")
	require.NoError(t, err)
	require.Equal(t, 18, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistrationRepositoryCountByStatus(t *testing.T) {
	db, mock, cleanup := newRegistrationRepoMock(t)
	defer cleanup()
	repo := NewRegistrationRepository(db)

	rows := sqlmock.NewRows([]string{"pending", "approved", "rejected"}).AddRow(4, 10, 2)
	mock.ExpectQuery(`SELECT\s+COUNT\(\*\) FILTER \(WHERE status = 'PENDING'\) AS pending`).
		WithArgs("sem-1").
		WillReturnRows(rows)

	stats, err := repo.CountByStatus(context.Background(), "sem-1")
	require.NoError(t, err)
	require.Equal(t, "sem-1", stats.SemesterID)
	require.Equal(t, 4, stats.Pending)
	require.Equal(t, 10, stats.Approved)
	require.Equal(t, 2, stats.Rejected)
	require.NoError(t, mock.ExpectationsWereMet())
}
