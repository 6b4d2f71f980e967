package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openclass/registry-api/internal/models"
	appErrors "github.com/openclass/registry-api/pkg/errors"
)

type memoryCacheRepo struct {
	entries  map[string][]byte
	getCalls int
	setCalls int
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{entries: map[string][]byte{}}
}

func (m *memoryCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	m.getCalls++
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.setCalls++
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

func (m *memoryCacheRepo) DeleteByPattern(_ context.Context, _ string) error {
	m.entries = map[string][]byte{}
	return nil
}

type fakeReportUsers struct {
	counts map[models.UserRole]int
	calls  int
}

func (f *fakeReportUsers) CountByRole(_ context.Context) (map[models.UserRole]int, error) {
	f.calls++
	return f.counts, nil
}

type fakeReportTerms struct {
	active *models.Term
}

func (f *fakeReportTerms) FindActive(_ context.Context) (*models.Term, error) {
	if f.active == nil {
		return nil, sql.ErrNoRows
	}
	return f.active, nil
}

type fakeReportCourses struct {
	total       int
	ranked      []models.CourseEnrollmentCount
	countTermID string
}

func (f *fakeReportCourses) Count(_ context.Context, termID string) (int, error) {
	f.countTermID = termID
	return f.total, nil
}

func (f *fakeReportCourses) TopByEnrollment(_ context.Context, limit int) ([]models.CourseEnrollmentCount, error) {
	if limit < len(f.ranked) {
		return f.ranked[:limit], nil
	}
	return f.ranked, nil
}

type fakeReportEnrollments struct {
	total       int
	rows        []models.EnrollmentDetail
	countTermID string
}

func (f *fakeReportEnrollments) Count(_ context.Context, termID string) (int, error) {
	f.countTermID = termID
	return f.total, nil
}

func (f *fakeReportEnrollments) ListByStudent(_ context.Context, _, _ string) ([]models.EnrollmentDetail, error) {
	return f.rows, nil
}

func newReportFixture(cacheRepo CacheRepository) (*fakeReportUsers, *fakeReportTerms, *ReportService) {
	users := &fakeReportUsers{counts: map[models.UserRole]int{
		models.RoleStudent:    120,
		models.RoleInstructor: 9,
		models.RoleAdmin:      2,
	}}
	terms := &fakeReportTerms{active: &models.Term{ID: "term-1", Name: "Fall 2026", IsActive: true}}
	courses := &fakeReportCourses{total: 40, ranked: []models.CourseEnrollmentCount{
		{CourseID: "course-1", Title: "Algorithms", EnrolledCount: 42},
		{CourseID: "course-2", Title: "Databases", EnrolledCount: 17},
	}}
	enrollments := &fakeReportEnrollments{total: 300, rows: []models.EnrollmentDetail{
		{Enrollment: models.Enrollment{CourseID: "course-1"}, CourseCredits: 3},
		{Enrollment: models.Enrollment{CourseID: "course-2"}, CourseCredits: 4},
	}}

	var cache *CacheService
	if cacheRepo != nil {
		cache = NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	}
	svc := NewReportService(users, terms, courses, enrollments, cache, nil, 5, time.Minute, nil)
	return users, terms, svc
}

func TestAdminDashboardAggregatesCounts(t *testing.T) {
	_, _, svc := newReportFixture(nil)

	summary, err := svc.AdminDashboard(context.Background())
	require.NoError(t, err)
	require.Equal(t, 120, summary.StudentCount)
	require.Equal(t, 9, summary.InstructorCount)
	require.Equal(t, 40, summary.CourseCount)
	require.Equal(t, 300, summary.EnrollmentCount)
	require.Equal(t, "term-1", summary.ActiveTermID)
	require.Equal(t, "Fall 2026", summary.ActiveTermName)
}

func TestAdminDashboardServedFromCacheOnSecondCall(t *testing.T) {
	cacheRepo := newMemoryCacheRepo()
	users, _, svc := newReportFixture(cacheRepo)

	_, err := svc.AdminDashboard(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, users.calls)
	require.Equal(t, 1, cacheRepo.setCalls)

	summary, err := svc.AdminDashboard(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, users.calls)
	require.Equal(t, 120, summary.StudentCount)
}

func TestAdminDashboardScopesCountsToActiveTerm(t *testing.T) {
	users := &fakeReportUsers{counts: map[models.UserRole]int{models.RoleStudent: 10}}
	terms := &fakeReportTerms{active: &models.Term{ID: "term-1", Name: "Fall 2026", IsActive: true}}
	courses := &fakeReportCourses{total: 4}
	enrollments := &fakeReportEnrollments{total: 25}
	svc := NewReportService(users, terms, courses, enrollments, nil, nil, 5, time.Minute, nil)

	_, err := svc.AdminDashboard(context.Background())
	require.NoError(t, err)
	require.Equal(t, "term-1", courses.countTermID)
	require.Equal(t, "term-1", enrollments.countTermID)

	terms.active = nil
	_, err = svc.AdminDashboard(context.Background())
	require.NoError(t, err)
	require.Empty(t, courses.countTermID)
	require.Empty(t, enrollments.countTermID)
}

func TestAdminDashboardToleratesNoActiveTerm(t *testing.T) {
	_, terms, svc := newReportFixture(nil)
	terms.active = nil

	summary, err := svc.AdminDashboard(context.Background())
	require.NoError(t, err)
	require.Empty(t, summary.ActiveTermID)
}

func TestTopCoursesRanking(t *testing.T) {
	_, _, svc := newReportFixture(nil)

	top, err := svc.TopCourses(context.Background())
	require.NoError(t, err)
	require.Len(t, top, 2)
	require.Equal(t, "Algorithms", top[0].Title)
	require.Equal(t, 42, top[0].EnrolledCount)
}

func TestStudentDashboardSumsCredits(t *testing.T) {
	_, _, svc := newReportFixture(nil)

	dashboard, err := svc.StudentDashboard(context.Background(), "student-1")
	require.NoError(t, err)
	require.Equal(t, "term-1", dashboard.ActiveTermID)
	require.Len(t, dashboard.Enrollments, 2)
	require.Equal(t, 7, dashboard.TotalCredits)
}

func TestStudentDashboardWithoutActiveTerm(t *testing.T) {
	_, terms, svc := newReportFixture(nil)
	terms.active = nil

	dashboard, err := svc.StudentDashboard(context.Background(), "student-1")
	require.NoError(t, err)
	require.Empty(t, dashboard.ActiveTermID)
	require.Empty(t, dashboard.Enrollments)
	require.Zero(t, dashboard.TotalCredits)
}

func TestCacheServiceDisabledBehavesAsMiss(t *testing.T) {
	var disabled *CacheService
	require.False(t, disabled.Enabled())

	hit, err := disabled.Get(context.Background(), "reports:dashboard", &models.DashboardSummary{})
	require.NoError(t, err)
	require.False(t, hit)
	require.NoError(t, disabled.Set(context.Background(), "k", "v", time.Minute))
	require.NoError(t, disabled.Invalidate(context.Background(), "reports:*"))
}

func TestCacheServiceRoundTrip(t *testing.T) {
	repo := newMemoryCacheRepo()
	cache := NewCacheService(repo, nil, time.Minute, nil, true)

	require.NoError(t, cache.Set(context.Background(), "k", map[string]int{"a": 1}, 0))

	var out map[string]int
	hit, err := cache.Get(context.Background(), "k", &out)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, 1, out["a"])

	require.NoError(t, cache.Invalidate(context.Background(), "*"))
	hit, err = cache.Get(context.Background(), "k", &out)
	require.NoError(t, err)
	require.False(t, hit)
}
