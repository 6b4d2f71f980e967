package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openclass/registry-api/internal/models"
	appErrors "github.com/openclass/registry-api/pkg/errors"
)

type fakeTranscriptEnrollments struct {
	rows []models.EnrollmentDetail
}

func (f *fakeTranscriptEnrollments) ListByStudent(_ context.Context, _, _ string) ([]models.EnrollmentDetail, error) {
	return f.rows, nil
}

type fakeTranscriptUsers struct {
	users map[string]*models.User
}

func (f *fakeTranscriptUsers) FindByID(_ context.Context, id string) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func gradedEntry(courseID, title string, credits int, grade *int) models.EnrollmentDetail {
	status := models.EnrollmentStatusEnrolled
	if grade != nil {
		status = models.EnrollmentStatusCompleted
	}
	return models.EnrollmentDetail{
		Enrollment:    models.Enrollment{CourseID: courseID, Status: status, Grade: grade},
		CourseTitle:   title,
		CourseCredits: credits,
		TermName:      "Fall 2026",
	}
}

func TestTranscriptWeightsGPAByCredits(t *testing.T) {
	enrollments := &fakeTranscriptEnrollments{rows: []models.EnrollmentDetail{
		gradedEntry("course-1", "Algorithms", 3, intPtr(18)),
		gradedEntry("course-2", "Databases", 4, nil),
		gradedEntry("course-3", "Networks", 2, intPtr(12)),
	}}
	users := &fakeTranscriptUsers{users: map[string]*models.User{
		"student-1": {ID: "student-1", Username: "ada", Role: models.RoleStudent},
	}}
	svc := NewTranscriptService(enrollments, users, nil)

	transcript, err := svc.Get(context.Background(), "student-1")
	require.NoError(t, err)
	require.Equal(t, "ada", transcript.StudentName)
	require.Len(t, transcript.Entries, 3)

	// (18*3 + 12*2) / (3 + 2) = 78 / 5
	require.Equal(t, 5, transcript.GradedCredits)
	require.InDelta(t, 15.6, transcript.GPA, 0.001)
}

func TestTranscriptEmptyRecordHasZeroGPA(t *testing.T) {
	users := &fakeTranscriptUsers{users: map[string]*models.User{
		"student-1": {ID: "student-1", Username: "ada", Role: models.RoleStudent},
	}}
	svc := NewTranscriptService(&fakeTranscriptEnrollments{}, users, nil)

	transcript, err := svc.Get(context.Background(), "student-1")
	require.NoError(t, err)
	require.Empty(t, transcript.Entries)
	require.Zero(t, transcript.GradedCredits)
	require.Zero(t, transcript.GPA)
}

func TestTranscriptRejectsNonStudents(t *testing.T) {
	users := &fakeTranscriptUsers{users: map[string]*models.User{
		"instructor-1": {ID: "instructor-1", Username: "grace", Role: models.RoleInstructor},
	}}
	svc := NewTranscriptService(&fakeTranscriptEnrollments{}, users, nil)

	_, err := svc.Get(context.Background(), "instructor-1")
	requireErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestTranscriptUnknownStudent(t *testing.T) {
	svc := NewTranscriptService(&fakeTranscriptEnrollments{}, &fakeTranscriptUsers{}, nil)

	_, err := svc.Get(context.Background(), "missing")
	requireErrorCode(t, err, appErrors.ErrNotFound.Code)
}

func TestTranscriptRoundsGPAToTwoDecimals(t *testing.T) {
	enrollments := &fakeTranscriptEnrollments{rows: []models.EnrollmentDetail{
		gradedEntry("course-1", "Algorithms", 3, intPtr(17)),
		gradedEntry("course-2", "Databases", 3, intPtr(16)),
		gradedEntry("course-3", "Networks", 3, intPtr(16)),
	}}
	users := &fakeTranscriptUsers{users: map[string]*models.User{
		"student-1": {ID: "student-1", Username: "ada", Role: models.RoleStudent},
	}}
	svc := NewTranscriptService(enrollments, users, nil)

	transcript, err := svc.Get(context.Background(), "student-1")
	require.NoError(t, err)
	// 147 / 9 = 16.333...
	require.Equal(t, 16.33, transcript.GPA)
}

func TestTranscriptFailedCourseCountsTowardGPA(t *testing.T) {
	enrollments := &fakeTranscriptEnrollments{rows: []models.EnrollmentDetail{
		gradedEntry("course-1", "Algorithms", 3, intPtr(4)),
	}}
	users := &fakeTranscriptUsers{users: map[string]*models.User{
		"student-1": {ID: "student-1", Username: "ada", Role: models.RoleStudent},
	}}
	svc := NewTranscriptService(enrollments, users, nil)

	transcript, err := svc.Get(context.Background(), "student-1")
	require.NoError(t, err)
	require.Equal(t, 3, transcript.GradedCredits)
	require.InDelta(t, 4.0, transcript.GPA, 0.001)
}
