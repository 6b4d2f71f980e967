package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openclass/registry-api/internal/models"
)

const enrollmentColumns = "e.id, e.user_id, e.course_id, e.status, e.grade, e.enrolled_at, e.updated_at"

const enrollmentDetailQuery = `SELECT ` + enrollmentColumns + `, u.username AS student_name,
	c.title AS course_title, c.credits AS course_credits, c.day_of_week, c.start_minute, c.end_minute,
	c.term_id, t.name AS term_name
	FROM enrollments e
	JOIN users u ON u.id = e.user_id
	JOIN courses c ON c.id = e.course_id
	JOIN terms t ON t.id = c.term_id`

// EnrollmentRepository handles persistence for enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository instantiates an enrollment repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindByID loads an enrollment by identifier.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, user_id, course_id, status, grade, enrolled_at, updated_at FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID loads an enrollment with student, course and term info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	query := enrollmentDetailQuery + ` WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindByStudentAndCourse loads the single (student, course) enrollment.
func (r *EnrollmentRepository) FindByStudentAndCourse(ctx context.Context, userID, courseID string) (*models.Enrollment, error) {
	const query = `SELECT id, user_id, course_id, status, grade, enrolled_at, updated_at FROM enrollments WHERE user_id = $1 AND course_id = $2`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, userID, courseID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// CountByCourse returns the number of enrollments for a course.
func (r *EnrollmentRepository) CountByCourse(ctx context.Context, courseID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE course_id = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, courseID); err != nil {
		return 0, fmt.Errorf("count course enrollments: %w", err)
	}
	return count, nil
}

// Count returns the total number of enrollments, optionally scoped to a
// term.
func (r *EnrollmentRepository) Count(ctx context.Context, termID string) (int, error) {
	query := `SELECT COUNT(*) FROM enrollments e`
	var args []interface{}
	if termID != "" {
		query += ` JOIN courses c ON c.id = e.course_id WHERE c.term_id = $1`
		args = append(args, termID)
	}
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count enrollments: %w", err)
	}
	return count, nil
}

// Admit inserts an enrollment guarded by the capacity bound and the
// one-per-(student, course) rule in a single conditional statement, so
// two racing requests for the last seat cannot both be admitted. It
// returns false when the guard rejected the insert.
func (r *EnrollmentRepository) Admit(ctx context.Context, enrollment *models.Enrollment) (bool, error) {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = now
	}
	enrollment.UpdatedAt = now

	const query = `INSERT INTO enrollments (id, user_id, course_id, status, grade, enrolled_at, updated_at)
		SELECT :id, :user_id, :course_id, :status, NULL, :enrolled_at, :updated_at
		WHERE NOT EXISTS (
			SELECT 1 FROM enrollments WHERE user_id = :user_id AND course_id = :course_id
		)
		AND (SELECT COUNT(*) FROM enrollments WHERE course_id = :course_id)
			< (SELECT capacity FROM courses WHERE id = :course_id)`

	res, err := r.db.NamedExecContext(ctx, query, enrollment)
	if err != nil {
		return false, fmt.Errorf("admit enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("admit enrollment rows affected: %w", err)
	}
	return affected == 1, nil
}

// Delete removes the (student, course) enrollment. Returns
// sql.ErrNoRows when no matching row existed.
func (r *EnrollmentRepository) Delete(ctx context.Context, userID, courseID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM enrollments WHERE user_id = $1 AND course_id = $2`, userID, courseID)
	if err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete enrollment rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetGrade records a grade and flips the status to completed in one
// statement; there is no intermediate graded-but-enrolled state.
func (r *EnrollmentRepository) SetGrade(ctx context.Context, id string, grade int) error {
	const query = `UPDATE enrollments SET grade = $1, status = $2, updated_at = $3 WHERE id = $4`
	if _, err := r.db.ExecContext(ctx, query, grade, models.EnrollmentStatusCompleted, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("set enrollment grade: %w", err)
	}
	return nil
}

// ListByStudent returns a student's enrollments with course and term
// info, optionally scoped to a term.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, userID, termID string) ([]models.EnrollmentDetail, error) {
	query := enrollmentDetailQuery + ` WHERE e.user_id = $1`
	args := []interface{}{userID}
	if termID != "" {
		query += ` AND c.term_id = $2`
		args = append(args, termID)
	}
	query += ` ORDER BY e.enrolled_at DESC`

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return enrollments, nil
}

// ListByCourse returns the roster for a course.
func (r *EnrollmentRepository) ListByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error) {
	query := enrollmentDetailQuery + ` WHERE e.course_id = $1 ORDER BY u.username ASC`
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, courseID); err != nil {
		return nil, fmt.Errorf("list course roster: %w", err)
	}
	return enrollments, nil
}

// ListPassedCourseIDs returns the set of course ids the student has
// completed with a passing grade. Used by the prerequisite check.
func (r *EnrollmentRepository) ListPassedCourseIDs(ctx context.Context, userID string, passingGrade int) (map[string]struct{}, error) {
	const query = `SELECT course_id FROM enrollments WHERE user_id = $1 AND status = $2 AND grade >= $3`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, userID, models.EnrollmentStatusCompleted, passingGrade); err != nil {
		return nil, fmt.Errorf("list passed courses: %w", err)
	}
	passed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		passed[id] = struct{}{}
	}
	return passed, nil
}

// ListEnrolledCoursesInTerm returns the courses a student is currently
// enrolled in within the given term, with schedule fields populated.
// Used by the time-conflict check.
func (r *EnrollmentRepository) ListEnrolledCoursesInTerm(ctx context.Context, userID, termID string) ([]models.Course, error) {
	const query = `SELECT c.id, c.title, c.description, c.credits, c.day_of_week, c.start_minute, c.end_minute, c.capacity, c.instructor_id, c.term_id, c.created_at, c.updated_at
		FROM courses c
		JOIN enrollments e ON e.course_id = c.id
		WHERE e.user_id = $1 AND c.term_id = $2 AND e.status = $3
		ORDER BY c.title`
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, userID, termID, models.EnrollmentStatusEnrolled); err != nil {
		return nil, fmt.Errorf("list enrolled courses in term: %w", err)
	}
	return courses, nil
}
