package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/openclass/registry-api/internal/models"
	appErrors "github.com/openclass/registry-api/pkg/errors"
)

type enrollmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	FindByStudentAndCourse(ctx context.Context, userID, courseID string) (*models.Enrollment, error)
	CountByCourse(ctx context.Context, courseID string) (int, error)
	Admit(ctx context.Context, enrollment *models.Enrollment) (bool, error)
	Delete(ctx context.Context, userID, courseID string) error
	SetGrade(ctx context.Context, id string, grade int) error
	ListByStudent(ctx context.Context, userID, termID string) ([]models.EnrollmentDetail, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.EnrollmentDetail, error)
	ListPassedCourseIDs(ctx context.Context, userID string, passingGrade int) (map[string]struct{}, error)
	ListEnrolledCoursesInTerm(ctx context.Context, userID, termID string) ([]models.Course, error)
}

type enrollmentCourseReader interface {
	FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	ListPrerequisites(ctx context.Context, courseID string) ([]models.Course, error)
}

// GradeRequest records a grade for an enrollment.
type GradeRequest struct {
	Grade *int `json:"grade" validate:"required,min=0,max=20"`
}

// EnrollmentService implements the eligibility engine plus unenroll,
// roster and grading workflows.
type EnrollmentService struct {
	repo      enrollmentRepository
	courses   enrollmentCourseReader
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, courses enrollmentCourseReader, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{repo: repo, courses: courses, cache: cache, metrics: metrics, validator: validate, logger: logger}
}

// Enroll runs the eligibility checks in order and admits the student
// when every one passes. The checks short-circuit: the first failure
// decides the rejection. The final insert re-validates uniqueness and
// capacity atomically in SQL, so a concurrent race for the last seat
// cannot over-admit.
func (s *EnrollmentService) Enroll(ctx context.Context, studentID, courseID string) (*models.EnrollmentDetail, error) {
	detail, err := s.enroll(ctx, studentID, courseID)
	s.metrics.RecordEnrollmentDecision(enrollmentOutcome(err))
	return detail, err
}

func (s *EnrollmentService) enroll(ctx context.Context, studentID, courseID string) (*models.EnrollmentDetail, error) {
	course, err := s.courses.FindDetailByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	if !course.TermActive {
		return nil, appErrors.Clone(appErrors.ErrRegistrationClosed, "registration is closed for this term")
	}

	if _, err := s.repo.FindByStudentAndCourse(ctx, studentID, courseID); err == nil {
		return nil, appErrors.Clone(appErrors.ErrAlreadyEnrolled, "already enrolled in this course")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollment")
	}

	if course.EnrolledCount >= course.Capacity {
		return nil, appErrors.Clone(appErrors.ErrCourseFull, "course is full")
	}

	if err := s.checkPrerequisites(ctx, studentID, courseID); err != nil {
		return nil, err
	}

	if err := s.checkScheduleConflicts(ctx, studentID, course); err != nil {
		return nil, err
	}

	enrollment := &models.Enrollment{
		UserID:   studentID,
		CourseID: courseID,
		Status:   models.EnrollmentStatusEnrolled,
	}
	admitted, err := s.repo.Admit(ctx, enrollment)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}
	if !admitted {
		// The conditional insert lost a race: either the seat was taken
		// or a duplicate row appeared since the checks above ran.
		if _, err := s.repo.FindByStudentAndCourse(ctx, studentID, courseID); err == nil {
			return nil, appErrors.Clone(appErrors.ErrAlreadyEnrolled, "already enrolled in this course")
		}
		return nil, appErrors.Clone(appErrors.ErrCourseFull, "course is full")
	}

	s.invalidateReports(ctx)

	detail, err := s.repo.FindDetailByID(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

// Unenroll removes the student's enrollment in the course. The grade,
// if any, is discarded with the row.
func (s *EnrollmentService) Unenroll(ctx context.Context, studentID, courseID string) error {
	if err := s.repo.Delete(ctx, studentID, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enrollment")
	}
	s.invalidateReports(ctx)
	return nil
}

// Grade records a grade on an enrollment and marks it completed.
// Allowed for admins and for the instructor teaching the course.
func (s *EnrollmentService) Grade(ctx context.Context, actor *models.JWTClaims, enrollmentID string, req GradeRequest) (*models.EnrollmentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "grade must be an integer between 0 and 20")
	}

	enrollment, err := s.repo.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	if err := s.authorizeGrading(ctx, actor, enrollment.CourseID); err != nil {
		return nil, err
	}

	if err := s.repo.SetGrade(ctx, enrollmentID, *req.Grade); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record grade")
	}

	detail, err := s.repo.FindDetailByID(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment detail")
	}
	return detail, nil
}

// AuthorizeRoster checks whether the actor may read the course's
// roster: admins always, instructors only for their own course.
func (s *EnrollmentService) AuthorizeRoster(ctx context.Context, actor *models.JWTClaims, courseID string) error {
	return s.authorizeGrading(ctx, actor, courseID)
}

// Roster lists a course's enrollments. Allowed for admins and for the
// instructor teaching the course.
func (s *EnrollmentService) Roster(ctx context.Context, actor *models.JWTClaims, courseID string) ([]models.EnrollmentDetail, error) {
	if err := s.AuthorizeRoster(ctx, actor, courseID); err != nil {
		return nil, err
	}

	roster, err := s.repo.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	return roster, nil
}

// ListByStudent returns the student's enrollments, optionally scoped
// to a term.
func (s *EnrollmentService) ListByStudent(ctx context.Context, studentID, termID string) ([]models.EnrollmentDetail, error) {
	enrollments, err := s.repo.ListByStudent(ctx, studentID, termID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	return enrollments, nil
}

func (s *EnrollmentService) checkPrerequisites(ctx context.Context, studentID, courseID string) error {
	prereqs, err := s.courses.ListPrerequisites(ctx, courseID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
	}
	if len(prereqs) == 0 {
		return nil
	}

	passed, err := s.repo.ListPassedCourseIDs(ctx, studentID, models.PassingGrade)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load completed courses")
	}

	for _, prereq := range prereqs {
		if _, ok := passed[prereq.ID]; !ok {
			return appErrors.Clone(appErrors.ErrPrerequisiteUnmet, fmt.Sprintf("prerequisite not met: %s", prereq.Title))
		}
	}
	return nil
}

func (s *EnrollmentService) checkScheduleConflicts(ctx context.Context, studentID string, target *models.CourseDetail) error {
	enrolled, err := s.repo.ListEnrolledCoursesInTerm(ctx, studentID, target.TermID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load current schedule")
	}

	for _, other := range enrolled {
		if target.Course.OverlapsWith(other) {
			return appErrors.Clone(appErrors.ErrScheduleConflict, fmt.Sprintf("time conflict with %s", other.Title))
		}
	}
	return nil
}

func (s *EnrollmentService) authorizeGrading(ctx context.Context, actor *models.JWTClaims, courseID string) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role == models.RoleAdmin {
		return nil
	}
	if actor.Role != models.RoleInstructor {
		return appErrors.Clone(appErrors.ErrForbidden, "instructor or admin role required")
	}

	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.InstructorID != actor.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "not the instructor of this course")
	}
	return nil
}

// enrollmentOutcome maps an Enroll result onto the label used by the
// enrollment_decisions_total counter.
func enrollmentOutcome(err error) string {
	if err == nil {
		return "admitted"
	}
	switch appErrors.FromError(err).Code {
	case appErrors.ErrRegistrationClosed.Code:
		return "closed_term"
	case appErrors.ErrAlreadyEnrolled.Code:
		return "already_enrolled"
	case appErrors.ErrCourseFull.Code:
		return "course_full"
	case appErrors.ErrPrerequisiteUnmet.Code:
		return "prerequisite_unmet"
	case appErrors.ErrScheduleConflict.Code:
		return "schedule_conflict"
	case appErrors.ErrNotFound.Code:
		return "not_found"
	default:
		return "error"
	}
}

func (s *EnrollmentService) invalidateReports(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, "reports:*"); err != nil {
		s.logger.Warn("reports cache invalidation failed", zap.Error(err))
	}
	if err := s.cache.Invalidate(ctx, "catalog:*"); err != nil {
		s.logger.Warn("catalog cache invalidation failed", zap.Error(err))
	}
}
