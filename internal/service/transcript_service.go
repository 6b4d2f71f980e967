package service

import (
	"context"
	"database/sql"
	"errors"
	"math"

	"go.uber.org/zap"

	"github.com/openclass/registry-api/internal/models"
	appErrors "github.com/openclass/registry-api/pkg/errors"
)

type transcriptEnrollmentReader interface {
	ListByStudent(ctx context.Context, userID, termID string) ([]models.EnrollmentDetail, error)
}

type transcriptUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// TranscriptService assembles academic records and computes GPA.
type TranscriptService struct {
	enrollments transcriptEnrollmentReader
	users       transcriptUserReader
	logger      *zap.Logger
}

// NewTranscriptService constructs TranscriptService.
func NewTranscriptService(enrollments transcriptEnrollmentReader, users transcriptUserReader, logger *zap.Logger) *TranscriptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TranscriptService{enrollments: enrollments, users: users, logger: logger}
}

// Get builds the student's transcript across all terms. Ungraded
// enrollments appear as entries but are excluded from the GPA.
func (s *TranscriptService) Get(ctx context.Context, studentID string) (*models.Transcript, error) {
	student, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user is not a student")
	}

	enrollments, err := s.enrollments.ListByStudent(ctx, studentID, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}

	transcript := &models.Transcript{
		StudentID:   student.ID,
		StudentName: student.Username,
		Entries:     make([]models.TranscriptEntry, 0, len(enrollments)),
	}

	weightedSum := 0
	for _, e := range enrollments {
		transcript.Entries = append(transcript.Entries, models.TranscriptEntry{
			CourseID:    e.CourseID,
			CourseTitle: e.CourseTitle,
			Credits:     e.CourseCredits,
			TermName:    e.TermName,
			Status:      e.Status,
			Grade:       e.Grade,
		})
		if e.Grade != nil {
			weightedSum += *e.Grade * e.CourseCredits
			transcript.GradedCredits += e.CourseCredits
		}
	}

	if transcript.GradedCredits > 0 {
		gpa := float64(weightedSum) / float64(transcript.GradedCredits)
		transcript.GPA = math.Round(gpa*100) / 100
	}
	return transcript, nil
}
