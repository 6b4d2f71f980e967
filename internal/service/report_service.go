package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/openclass/registry-api/internal/models"
	appErrors "github.com/openclass/registry-api/pkg/errors"
)

const (
	cacheKeyDashboard  = "reports:dashboard"
	cacheKeyTopCourses = "reports:top_courses"
)

type reportUserReader interface {
	CountByRole(ctx context.Context) (map[models.UserRole]int, error)
}

type reportTermReader interface {
	FindActive(ctx context.Context) (*models.Term, error)
}

type reportCourseReader interface {
	Count(ctx context.Context, termID string) (int, error)
	TopByEnrollment(ctx context.Context, limit int) ([]models.CourseEnrollmentCount, error)
}

type reportEnrollmentReader interface {
	Count(ctx context.Context, termID string) (int, error)
	ListByStudent(ctx context.Context, userID, termID string) ([]models.EnrollmentDetail, error)
}

// StudentDashboard summarizes the student's standing in the active term.
type StudentDashboard struct {
	ActiveTermID   string                    `json:"active_term_id,omitempty"`
	ActiveTermName string                    `json:"active_term_name,omitempty"`
	Enrollments    []models.EnrollmentDetail `json:"enrollments"`
	TotalCredits   int                       `json:"total_credits"`
}

// ReportService builds admin and student dashboards with cached reads.
type ReportService struct {
	users       reportUserReader
	terms       reportTermReader
	courses     reportCourseReader
	enrollments reportEnrollmentReader
	cache       *CacheService
	metrics     *MetricsService
	topCourses  int
	cacheTTL    time.Duration
	logger      *zap.Logger
}

// NewReportService constructs ReportService.
func NewReportService(users reportUserReader, terms reportTermReader, courses reportCourseReader, enrollments reportEnrollmentReader, cache *CacheService, metrics *MetricsService, topCourses int, cacheTTL time.Duration, logger *zap.Logger) *ReportService {
	if topCourses <= 0 {
		topCourses = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportService{
		users:       users,
		terms:       terms,
		courses:     courses,
		enrollments: enrollments,
		cache:       cache,
		metrics:     metrics,
		topCourses:  topCourses,
		cacheTTL:    cacheTTL,
		logger:      logger,
	}
}

// AdminDashboard returns user counts by role plus course and
// enrollment counts for the active term. Without an active term the
// course and enrollment counts cover the whole platform.
func (s *ReportService) AdminDashboard(ctx context.Context) (*models.DashboardSummary, error) {
	var cached models.DashboardSummary
	if hit, _ := s.cache.Get(ctx, cacheKeyDashboard, &cached); hit {
		return &cached, nil
	}

	var activeTermID string
	active, err := s.terms.FindActive(ctx)
	if err == nil {
		activeTermID = active.ID
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active term")
	}

	roleCounts, err := s.users.CountByRole(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count users")
	}
	courseCount, err := s.courses.Count(ctx, activeTermID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count courses")
	}
	enrollmentCount, err := s.enrollments.Count(ctx, activeTermID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}

	summary := &models.DashboardSummary{
		StudentCount:    roleCounts[models.RoleStudent],
		InstructorCount: roleCounts[models.RoleInstructor],
		AdminCount:      roleCounts[models.RoleAdmin],
		CourseCount:     courseCount,
		EnrollmentCount: enrollmentCount,
	}
	if active != nil {
		summary.ActiveTermID = active.ID
		summary.ActiveTermName = active.Name
	}

	if err := s.cache.Set(ctx, cacheKeyDashboard, summary, s.cacheTTL); err != nil {
		s.logger.Warn("dashboard cache write failed", zap.Error(err))
	}
	return summary, nil
}

// TopCourses lists the most subscribed courses, largest first. Ties
// break by title.
func (s *ReportService) TopCourses(ctx context.Context) ([]models.CourseEnrollmentCount, error) {
	var cached []models.CourseEnrollmentCount
	if hit, _ := s.cache.Get(ctx, cacheKeyTopCourses, &cached); hit {
		return cached, nil
	}

	top, err := s.courses.TopByEnrollment(ctx, s.topCourses)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rank courses")
	}

	if err := s.cache.Set(ctx, cacheKeyTopCourses, top, s.cacheTTL); err != nil {
		s.logger.Warn("top courses cache write failed", zap.Error(err))
	}
	return top, nil
}

// StudentDashboard returns the student's active-term schedule and
// credit load. No active term yields an empty schedule rather than an
// error.
func (s *ReportService) StudentDashboard(ctx context.Context, studentID string) (*StudentDashboard, error) {
	dashboard := &StudentDashboard{Enrollments: []models.EnrollmentDetail{}}

	active, err := s.terms.FindActive(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dashboard, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active term")
	}
	dashboard.ActiveTermID = active.ID
	dashboard.ActiveTermName = active.Name

	enrollments, err := s.enrollments.ListByStudent(ctx, studentID, active.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	dashboard.Enrollments = enrollments
	for _, e := range enrollments {
		dashboard.TotalCredits += e.CourseCredits
	}
	return dashboard, nil
}

// Metrics returns the runtime metrics snapshot for admin analytics.
func (s *ReportService) Metrics() models.SystemMetrics {
	return s.metrics.Snapshot()
}
