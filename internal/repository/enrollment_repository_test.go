package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/openclass/registry-api/internal/models"
)

func newEnrollmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEnrollmentRepositoryAdmit(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	enrollment := &models.Enrollment{
		UserID:   "student-1",
		CourseID: "course-1",
		Status:   models.EnrollmentStatusEnrolled,
	}
	admitted, err := repo.Admit(context.Background(), enrollment)
	require.NoError(t, err)
	require.True(t, admitted)
	require.NotEmpty(t, enrollment.ID)
	require.False(t, enrollment.EnrolledAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryAdmitRejectedByGuard(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)
	// The conditional insert matches zero rows when the seat is taken
	// or the student already holds an enrollment.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollments")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	admitted, err := repo.Admit(context.Background(), &models.Enrollment{
		UserID:   "student-1",
		CourseID: "course-1",
		Status:   models.EnrollmentStatusEnrolled,
	})
	require.NoError(t, err)
	require.False(t, admitted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryDeleteMissing(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM enrollments WHERE user_id = $1 AND course_id = $2")).
		WithArgs("student-1", "course-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "student-1", "course-1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositorySetGrade(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET grade = $1, status = $2")).
		WithArgs(17, string(models.EnrollmentStatusCompleted), sqlmock.AnyArg(), "enr-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetGrade(context.Background(), "enr-1", 17))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListPassedCourseIDs(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)
	rows := sqlmock.NewRows([]string{"course_id"}).AddRow("course-1").AddRow("course-2")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT course_id FROM enrollments")).
		WithArgs("student-1", string(models.EnrollmentStatusCompleted), 10).
		WillReturnRows(rows)

	passed, err := repo.ListPassedCourseIDs(context.Background(), "student-1", 10)
	require.NoError(t, err)
	require.Len(t, passed, 2)
	require.Contains(t, passed, "course-1")
	require.Contains(t, passed, "course-2")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListByStudentScopedToTerm(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()

	repo := NewEnrollmentRepository(db)
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "course_id", "status", "grade", "enrolled_at", "updated_at",
		"student_name", "course_title", "course_credits", "day_of_week", "start_minute", "end_minute",
		"term_id", "term_name",
	}).AddRow("enr-1", "student-1", "course-1", "ENROLLED", nil, time.Now(), time.Now(),
		"ada", "Algorithms", 3, "MONDAY", 540, 630, "term-1", "Fall 2026")
	mock.ExpectQuery("SELECT e.id, e.user_id").
		WithArgs("student-1", "term-1").
		WillReturnRows(rows)

	enrollments, err := repo.ListByStudent(context.Background(), "student-1", "term-1")
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	require.Equal(t, "Algorithms", enrollments[0].CourseTitle)
	require.Nil(t, enrollments[0].Grade)
	require.NoError(t, mock.ExpectationsWereMet())
}
