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

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	FindDetailByID(ctx context.Context, id string) (*models.CourseDetail, error)
	ListPrerequisites(ctx context.Context, courseID string) ([]models.Course, error)
	Create(ctx context.Context, course *models.Course, prerequisiteIDs []string) error
	Update(ctx context.Context, course *models.Course, prerequisiteIDs []string) error
	Delete(ctx context.Context, id string) error
	CountByID(ctx context.Context, ids []string) (int, error)
}

type courseUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type courseTermReader interface {
	FindByID(ctx context.Context, id string) (*models.Term, error)
	FindActive(ctx context.Context) (*models.Term, error)
}

// CourseRequest is the create/update payload for catalog entries.
// Meeting times are "HH:MM" clock strings.
type CourseRequest struct {
	Title           string           `json:"title" validate:"required,max=140"`
	Description     string           `json:"description"`
	Credits         int              `json:"credits" validate:"required,min=1,max=4"`
	DayOfWeek       models.DayOfWeek `json:"day_of_week" validate:"required"`
	StartTime       string           `json:"start_time" validate:"required"`
	EndTime         string           `json:"end_time" validate:"required"`
	Capacity        int              `json:"capacity" validate:"min=0"`
	InstructorID    string           `json:"instructor_id" validate:"required"`
	TermID          string           `json:"term_id" validate:"required"`
	PrerequisiteIDs []string         `json:"prerequisite_ids"`
}

// CourseService orchestrates catalog workflows.
type CourseService struct {
	repo      courseRepository
	users     courseUserReader
	terms     courseTermReader
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	pageSize  int
}

// NewCourseService creates a new course service instance.
func NewCourseService(repo courseRepository, users courseUserReader, terms courseTermReader, cache *CacheService, validate *validator.Validate, logger *zap.Logger, pageSize int) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = 6
	}
	return &CourseService{repo: repo, users: users, terms: terms, cache: cache, validator: validate, logger: logger, pageSize: pageSize}
}

// catalogPage is the cached shape of one catalog listing.
type catalogPage struct {
	Courses []models.CourseDetail `json:"courses"`
	Total   int                   `json:"total"`
}

// List returns catalog pages. Unless a term filter is supplied, only
// courses of the active term are shown. Pages are cached per filter
// under catalog: keys; mutations invalidate the whole prefix.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, *models.Pagination, error) {
	if filter.TermID == "" {
		filter.ActiveOnly = true
	}
	if filter.PageSize <= 0 {
		filter.PageSize = s.pageSize
	}
	if filter.Page < 1 {
		filter.Page = 1
	}

	key := catalogListKey(filter)
	var cached catalogPage
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: cached.Total}
		return cached.Courses, pagination, nil
	}

	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}

	if err := s.cache.Set(ctx, key, catalogPage{Courses: courses, Total: total}, 0); err != nil {
		s.logger.Warn("catalog cache write failed", zap.Error(err))
	}

	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return courses, pagination, nil
}

func catalogListKey(filter models.CourseFilter) string {
	return fmt.Sprintf("catalog:list:%s:%s:%s:%t:%d:%d:%s:%s",
		filter.TermID, filter.InstructorID, filter.Search, filter.ActiveOnly,
		filter.Page, filter.PageSize, filter.SortBy, filter.SortOrder)
}

// Get returns a course with instructor, term, seat and prerequisite
// info.
func (s *CourseService) Get(ctx context.Context, id string) (*models.CourseDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	prereqs, err := s.repo.ListPrerequisites(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
	}
	detail.Prerequisites = prereqs
	return detail, nil
}

// Create adds a new course to the catalog.
func (s *CourseService) Create(ctx context.Context, req CourseRequest) (*models.CourseDetail, error) {
	course, err := s.buildCourse(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, course, req.PrerequisiteIDs); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}

	s.invalidateCatalog(ctx)
	return s.Get(ctx, course.ID)
}

// Update modifies an existing course and replaces its prerequisite set.
func (s *CourseService) Update(ctx context.Context, id string, req CourseRequest) (*models.CourseDetail, error) {
	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	course, err := s.buildCourse(ctx, req)
	if err != nil {
		return nil, err
	}
	course.ID = existing.ID
	course.CreatedAt = existing.CreatedAt

	if err := s.repo.Update(ctx, course, req.PrerequisiteIDs); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}

	s.invalidateCatalog(ctx)
	return s.Get(ctx, course.ID)
}

// Delete removes a course; its enrollments and prerequisite links on
// both sides go with it.
func (s *CourseService) Delete(ctx context.Context, id string) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}

	s.invalidateCatalog(ctx)
	return nil
}

func (s *CourseService) buildCourse(ctx context.Context, req CourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	if !req.DayOfWeek.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown day_of_week")
	}

	start, err := models.ParseMinuteOfDay(req.StartTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid start_time")
	}
	end, err := models.ParseMinuteOfDay(req.EndTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid end_time")
	}
	if start >= end {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_time must be before end_time")
	}

	instructor, err := s.users.FindByID(ctx, req.InstructorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "instructor not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor")
	}
	if instructor.Role != models.RoleInstructor {
		return nil, appErrors.Clone(appErrors.ErrValidation, "instructor_id does not reference an instructor")
	}

	if _, err := s.terms.FindByID(ctx, req.TermID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}

	if len(req.PrerequisiteIDs) > 0 {
		count, err := s.repo.CountByID(ctx, req.PrerequisiteIDs)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check prerequisites")
		}
		if count != len(req.PrerequisiteIDs) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "one or more prerequisite courses do not exist")
		}
	}

	return &models.Course{
		Title:        req.Title,
		Description:  req.Description,
		Credits:      req.Credits,
		DayOfWeek:    req.DayOfWeek,
		StartMinute:  start,
		EndMinute:    end,
		Capacity:     req.Capacity,
		InstructorID: req.InstructorID,
		TermID:       req.TermID,
	}, nil
}

func (s *CourseService) invalidateCatalog(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, "catalog:*"); err != nil {
		s.logger.Warn("catalog cache invalidation failed", zap.Error(err))
	}
	if err := s.cache.Invalidate(ctx, "reports:*"); err != nil {
		s.logger.Warn("reports cache invalidation failed", zap.Error(err))
	}
}
