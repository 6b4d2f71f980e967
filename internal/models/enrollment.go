package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

const (
	EnrollmentStatusEnrolled  EnrollmentStatus = "ENROLLED"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
)

// Grading scale bounds and the passing threshold applied to
// prerequisite checks.
const (
	MinGrade     = 0
	MaxGrade     = 20
	PassingGrade = 10
)

// Enrollment captures a student's registration to a course. Grade is
// nil until the owning instructor or an admin records one, which also
// flips the status to COMPLETED.
type Enrollment struct {
	ID         string           `db:"id" json:"id"`
	UserID     string           `db:"user_id" json:"user_id"`
	CourseID   string           `db:"course_id" json:"course_id"`
	Status     EnrollmentStatus `db:"status" json:"status"`
	Grade      *int             `db:"grade" json:"grade,omitempty"`
	EnrolledAt time.Time        `db:"enrolled_at" json:"enrolled_at"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updated_at"`
}

// Passed reports whether the enrollment is completed with a passing
// grade.
func (e Enrollment) Passed() bool {
	return e.Status == EnrollmentStatusCompleted && e.Grade != nil && *e.Grade >= PassingGrade
}

// EnrollmentDetail enriches Enrollment with student and course info.
type EnrollmentDetail struct {
	Enrollment
	StudentName   string    `db:"student_name" json:"student_name"`
	CourseTitle   string    `db:"course_title" json:"course_title"`
	CourseCredits int       `db:"course_credits" json:"course_credits"`
	DayOfWeek     DayOfWeek `db:"day_of_week" json:"day_of_week"`
	StartMinute   int       `db:"start_minute" json:"start_minute"`
	EndMinute     int       `db:"end_minute" json:"end_minute"`
	TermID        string    `db:"term_id" json:"term_id"`
	TermName      string    `db:"term_name" json:"term_name"`
}
