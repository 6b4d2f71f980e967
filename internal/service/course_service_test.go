package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openclass/registry-api/internal/models"
	appErrors "github.com/openclass/registry-api/pkg/errors"
)

type fakeCourseRepo struct {
	courses   map[string]*models.Course
	details   map[string]*models.CourseDetail
	prereqs   map[string][]models.Course
	existing  map[string]struct{}
	listTotal int
	listRows  []models.CourseDetail
	lastList  models.CourseFilter
	listCalls int

	created *models.Course
	deleted string
}

func newFakeCourseRepo() *fakeCourseRepo {
	return &fakeCourseRepo{
		courses:  map[string]*models.Course{},
		details:  map[string]*models.CourseDetail{},
		prereqs:  map[string][]models.Course{},
		existing: map[string]struct{}{},
	}
}

func (f *fakeCourseRepo) List(_ context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	f.lastList = filter
	f.listCalls++
	return f.listRows, f.listTotal, nil
}

func (f *fakeCourseRepo) FindByID(_ context.Context, id string) (*models.Course, error) {
	if c, ok := f.courses[id]; ok {
		return c, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeCourseRepo) FindDetailByID(_ context.Context, id string) (*models.CourseDetail, error) {
	if d, ok := f.details[id]; ok {
		return d, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeCourseRepo) ListPrerequisites(_ context.Context, courseID string) ([]models.Course, error) {
	return f.prereqs[courseID], nil
}

func (f *fakeCourseRepo) Create(_ context.Context, course *models.Course, _ []string) error {
	course.ID = "course-new"
	f.created = course
	f.courses[course.ID] = course
	f.details[course.ID] = &models.CourseDetail{Course: *course}
	return nil
}

func (f *fakeCourseRepo) Update(_ context.Context, course *models.Course, _ []string) error {
	f.courses[course.ID] = course
	f.details[course.ID] = &models.CourseDetail{Course: *course}
	return nil
}

func (f *fakeCourseRepo) Delete(_ context.Context, id string) error {
	delete(f.courses, id)
	f.deleted = id
	return nil
}

func (f *fakeCourseRepo) CountByID(_ context.Context, ids []string) (int, error) {
	count := 0
	for _, id := range ids {
		if _, ok := f.existing[id]; ok {
			count++
		}
	}
	return count, nil
}

type fakeCourseUsers struct {
	users map[string]*models.User
}

func (f *fakeCourseUsers) FindByID(_ context.Context, id string) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

type fakeCourseTerms struct {
	terms map[string]*models.Term
}

func (f *fakeCourseTerms) FindByID(_ context.Context, id string) (*models.Term, error) {
	if t, ok := f.terms[id]; ok {
		return t, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeCourseTerms) FindActive(_ context.Context) (*models.Term, error) {
	for _, t := range f.terms {
		if t.IsActive {
			return t, nil
		}
	}
	return nil, sql.ErrNoRows
}

func validCourseRequest() CourseRequest {
	return CourseRequest{
		Title:        "Algorithms",
		Credits:      3,
		DayOfWeek:    models.Monday,
		StartTime:    "09:00",
		EndTime:      "10:30",
		Capacity:     30,
		InstructorID: "instructor-1",
		TermID:       "term-1",
	}
}

func newCourseFixture() (*fakeCourseRepo, *CourseService) {
	repo := newFakeCourseRepo()
	users := &fakeCourseUsers{users: map[string]*models.User{
		"instructor-1": {ID: "instructor-1", Username: "grace", Role: models.RoleInstructor},
		"student-1":    {ID: "student-1", Username: "ada", Role: models.RoleStudent},
	}}
	terms := &fakeCourseTerms{terms: map[string]*models.Term{
		"term-1": {ID: "term-1", Name: "Fall 2026", IsActive: true},
	}}
	svc := NewCourseService(repo, users, terms, nil, nil, nil, 0)
	return repo, svc
}

func newCachedCourseFixture(cacheRepo CacheRepository) (*fakeCourseRepo, *CourseService) {
	repo := newFakeCourseRepo()
	users := &fakeCourseUsers{users: map[string]*models.User{
		"instructor-1": {ID: "instructor-1", Username: "grace", Role: models.RoleInstructor},
	}}
	terms := &fakeCourseTerms{terms: map[string]*models.Term{
		"term-1": {ID: "term-1", Name: "Fall 2026", IsActive: true},
	}}
	cache := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	svc := NewCourseService(repo, users, terms, cache, nil, nil, 0)
	return repo, svc
}

func TestCourseCreateParsesClockTimes(t *testing.T) {
	repo, svc := newCourseFixture()

	detail, err := svc.Create(context.Background(), validCourseRequest())
	require.NoError(t, err)
	require.Equal(t, "course-new", detail.ID)
	require.Equal(t, 540, repo.created.StartMinute)
	require.Equal(t, 630, repo.created.EndMinute)
}

func TestCourseCreateRejectsInvertedTimes(t *testing.T) {
	_, svc := newCourseFixture()
	req := validCourseRequest()
	req.StartTime = "10:30"
	req.EndTime = "09:00"

	_, err := svc.Create(context.Background(), req)
	requireErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestCourseCreateRejectsUnknownDay(t *testing.T) {
	_, svc := newCourseFixture()
	req := validCourseRequest()
	req.DayOfWeek = "FUNDAY"

	_, err := svc.Create(context.Background(), req)
	requireErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestCourseCreateRejectsNonInstructor(t *testing.T) {
	_, svc := newCourseFixture()
	req := validCourseRequest()
	req.InstructorID = "student-1"

	_, err := svc.Create(context.Background(), req)
	requireErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestCourseCreateRejectsMissingInstructor(t *testing.T) {
	_, svc := newCourseFixture()
	req := validCourseRequest()
	req.InstructorID = "nobody"

	_, err := svc.Create(context.Background(), req)
	requireErrorCode(t, err, appErrors.ErrNotFound.Code)
}

func TestCourseCreateRejectsCreditsOutOfRange(t *testing.T) {
	_, svc := newCourseFixture()
	req := validCourseRequest()
	req.Credits = 5

	_, err := svc.Create(context.Background(), req)
	requireErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestCourseCreateRejectsGhostPrerequisites(t *testing.T) {
	repo, svc := newCourseFixture()
	repo.existing["prereq-1"] = struct{}{}
	req := validCourseRequest()
	req.PrerequisiteIDs = []string{"prereq-1", "prereq-2"}

	_, err := svc.Create(context.Background(), req)
	requireErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestCourseListDefaultsToActiveTermAndPageSize(t *testing.T) {
	repo, svc := newCourseFixture()
	repo.listTotal = 13

	_, pagination, err := svc.List(context.Background(), models.CourseFilter{})
	require.NoError(t, err)
	require.True(t, repo.lastList.ActiveOnly)
	require.Equal(t, 6, repo.lastList.PageSize)
	require.Equal(t, 13, pagination.TotalCount)
}

func TestCourseListExplicitTermSkipsActiveFilter(t *testing.T) {
	repo, svc := newCourseFixture()

	_, _, err := svc.List(context.Background(), models.CourseFilter{TermID: "term-9"})
	require.NoError(t, err)
	require.False(t, repo.lastList.ActiveOnly)
	require.Equal(t, "term-9", repo.lastList.TermID)
}

func TestCourseListServedFromCacheOnSecondCall(t *testing.T) {
	repo, svc := newCachedCourseFixture(newMemoryCacheRepo())
	repo.listRows = []models.CourseDetail{{Course: models.Course{ID: "course-1", Title: "Algorithms"}}}
	repo.listTotal = 1

	courses, pagination, err := svc.List(context.Background(), models.CourseFilter{})
	require.NoError(t, err)
	require.Len(t, courses, 1)
	require.Equal(t, 1, repo.listCalls)

	courses, pagination, err = svc.List(context.Background(), models.CourseFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, repo.listCalls)
	require.Len(t, courses, 1)
	require.Equal(t, "Algorithms", courses[0].Title)
	require.Equal(t, 1, pagination.TotalCount)
}

func TestCourseListCachesPerFilter(t *testing.T) {
	repo, svc := newCachedCourseFixture(newMemoryCacheRepo())

	_, _, err := svc.List(context.Background(), models.CourseFilter{})
	require.NoError(t, err)
	_, _, err = svc.List(context.Background(), models.CourseFilter{TermID: "term-9"})
	require.NoError(t, err)
	require.Equal(t, 2, repo.listCalls)
}

func TestCourseMutationsInvalidateCatalogCache(t *testing.T) {
	repo, svc := newCachedCourseFixture(newMemoryCacheRepo())

	_, _, err := svc.List(context.Background(), models.CourseFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, repo.listCalls)

	_, err = svc.Create(context.Background(), validCourseRequest())
	require.NoError(t, err)

	_, _, err = svc.List(context.Background(), models.CourseFilter{})
	require.NoError(t, err)
	require.Equal(t, 2, repo.listCalls)
}

func TestCourseDeleteMissing(t *testing.T) {
	_, svc := newCourseFixture()

	err := svc.Delete(context.Background(), "missing")
	requireErrorCode(t, err, appErrors.ErrNotFound.Code)
}

func TestCourseDeleteRemovesCourse(t *testing.T) {
	repo, svc := newCourseFixture()
	repo.courses["course-1"] = &models.Course{ID: "course-1"}

	require.NoError(t, svc.Delete(context.Background(), "course-1"))
	require.Equal(t, "course-1", repo.deleted)
}

func TestCourseGetIncludesPrerequisites(t *testing.T) {
	repo, svc := newCourseFixture()
	repo.details["course-1"] = &models.CourseDetail{Course: models.Course{ID: "course-1", Title: "Algorithms"}}
	repo.prereqs["course-1"] = []models.Course{{ID: "prereq-1", Title: "Intro to Programming"}}

	detail, err := svc.Get(context.Background(), "course-1")
	require.NoError(t, err)
	require.Len(t, detail.Prerequisites, 1)
	require.Equal(t, "Intro to Programming", detail.Prerequisites[0].Title)
}
