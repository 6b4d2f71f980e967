package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openclass/registry-api/internal/models"
)

const courseColumns = "c.id, c.title, c.description, c.credits, c.day_of_week, c.start_minute, c.end_minute, c.capacity, c.instructor_id, c.term_id, c.created_at, c.updated_at"

// CourseRepository handles persistence for the course catalog and the
// prerequisite adjacency set.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository instantiates a course repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// List returns catalog entries matching provided filters with
// instructor, term and seat information joined in.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	base := `FROM courses c
		JOIN users u ON u.id = c.instructor_id
		JOIN terms t ON t.id = c.term_id
		WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.TermID != "" {
		conditions = append(conditions, fmt.Sprintf("c.term_id = $%d", len(args)+1))
		args = append(args, filter.TermID)
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "t.is_active = TRUE")
	}
	if filter.InstructorID != "" {
		conditions = append(conditions, fmt.Sprintf("c.instructor_id = $%d", len(args)+1))
		args = append(args, filter.InstructorID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("c.title ILIKE $%d", len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"title":      true,
		"credits":    true,
		"created_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "title"
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 6
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s, u.username AS instructor_name, t.name AS term_name, t.is_active AS term_active,
		(SELECT COUNT(*) FROM enrollments e WHERE e.course_id = c.id) AS enrolled_count
		%s ORDER BY c.%s %s LIMIT %d OFFSET %d`, courseColumns, base, sortBy, order, size, offset)

	var courses []models.CourseDetail
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}

	return courses, total, nil
}

// FindByID loads a course by identifier.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	query := fmt.Sprintf("SELECT %s FROM courses c WHERE c.id = $1", courseColumns)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// FindDetailByID loads a course with instructor, term and seat info.
func (r *CourseRepository) FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error) {
	query := fmt.Sprintf(`SELECT %s, u.username AS instructor_name, t.name AS term_name, t.is_active AS term_active,
		(SELECT COUNT(*) FROM enrollments e WHERE e.course_id = c.id) AS enrolled_count
		FROM courses c
		JOIN users u ON u.id = c.instructor_id
		JOIN terms t ON t.id = c.term_id
		WHERE c.id = $1`, courseColumns)
	var detail models.CourseDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListPrerequisites returns the prerequisite courses of a course.
func (r *CourseRepository) ListPrerequisites(ctx context.Context, courseID string) ([]models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses c
		JOIN course_prerequisites p ON p.prerequisite_id = c.id
		WHERE p.course_id = $1
		ORDER BY c.title`, courseColumns)
	var prereqs []models.Course
	if err := r.db.SelectContext(ctx, &prereqs, query, courseID); err != nil {
		return nil, fmt.Errorf("list prerequisites: %w", err)
	}
	return prereqs, nil
}

// Create inserts a new course with its prerequisite links in one
// transaction.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course, prerequisiteIDs []string) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if course.CreatedAt.IsZero() {
		course.CreatedAt = now
	}
	course.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create course tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insert = `INSERT INTO courses (id, title, description, credits, day_of_week, start_minute, end_minute, capacity, instructor_id, term_id, created_at, updated_at)
		VALUES (:id, :title, :description, :credits, :day_of_week, :start_minute, :end_minute, :capacity, :instructor_id, :term_id, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insert, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}

	if err = insertPrerequisites(ctx, tx, course.ID, prerequisiteIDs); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create course tx: %w", err)
	}
	return nil
}

// Update modifies a course and replaces its prerequisite set.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course, prerequisiteIDs []string) error {
	course.UpdatedAt = time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update course tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const update = `UPDATE courses SET title = :title, description = :description, credits = :credits, day_of_week = :day_of_week,
		start_minute = :start_minute, end_minute = :end_minute, capacity = :capacity, instructor_id = :instructor_id,
		term_id = :term_id, updated_at = :updated_at WHERE id = :id`
	if _, err = tx.NamedExecContext(ctx, update, course); err != nil {
		return fmt.Errorf("update course: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM course_prerequisites WHERE course_id = $1`, course.ID); err != nil {
		return fmt.Errorf("clear prerequisites: %w", err)
	}

	if err = insertPrerequisites(ctx, tx, course.ID, prerequisiteIDs); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit update course tx: %w", err)
	}
	return nil
}

// Delete removes a course and everything hanging off it: enrollments,
// then prerequisite links on both sides, then the row itself. All in a
// single transaction so a failed step leaves no partial cascade.
func (r *CourseRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete course tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM enrollments WHERE course_id = $1`, id); err != nil {
		return fmt.Errorf("delete course enrollments: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM course_prerequisites WHERE course_id = $1 OR prerequisite_id = $1`, id); err != nil {
		return fmt.Errorf("delete prerequisite links: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete course: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete course tx: %w", err)
	}
	return nil
}

// CountByID reports whether every provided course id exists.
func (r *CourseRepository) CountByID(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`SELECT COUNT(*) FROM courses WHERE id IN (?)`, ids)
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}
	query = r.db.Rebind(query)
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count courses by id: %w", err)
	}
	return count, nil
}

// TopByEnrollment ranks courses by enrollment volume.
func (r *CourseRepository) TopByEnrollment(ctx context.Context, limit int) ([]models.CourseEnrollmentCount, error) {
	if limit <= 0 {
		limit = 5
	}
	const query = `SELECT c.id AS course_id, c.title, COUNT(e.id) AS enrolled_count
		FROM courses c
		LEFT JOIN enrollments e ON e.course_id = c.id
		GROUP BY c.id, c.title
		ORDER BY enrolled_count DESC, c.title ASC
		LIMIT $1`
	var ranked []models.CourseEnrollmentCount
	if err := r.db.SelectContext(ctx, &ranked, query, limit); err != nil {
		return nil, fmt.Errorf("rank courses by enrollment: %w", err)
	}
	return ranked, nil
}

// Count returns the total number of courses, optionally scoped to a
// term.
func (r *CourseRepository) Count(ctx context.Context, termID string) (int, error) {
	query := `SELECT COUNT(*) FROM courses`
	var args []interface{}
	if termID != "" {
		query += ` WHERE term_id = $1`
		args = append(args, termID)
	}
	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, fmt.Errorf("count courses: %w", err)
	}
	return count, nil
}

func insertPrerequisites(ctx context.Context, tx *sqlx.Tx, courseID string, prerequisiteIDs []string) error {
	for _, prereqID := range prerequisiteIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO course_prerequisites (course_id, prerequisite_id) VALUES ($1, $2)`, courseID, prereqID); err != nil {
			return fmt.Errorf("insert prerequisite link: %w", err)
		}
	}
	return nil
}
