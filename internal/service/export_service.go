package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openclass/registry-api/internal/models"
	appErrors "github.com/openclass/registry-api/pkg/errors"
	"github.com/openclass/registry-api/pkg/export"
	"github.com/openclass/registry-api/pkg/jobs"
	"github.com/openclass/registry-api/pkg/storage"
)

type exportJobRepository interface {
	Create(ctx context.Context, job *models.ExportJob) error
	FindByID(ctx context.Context, id string) (*models.ExportJob, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id, filePath string, completedAt time.Time) error
	MarkFailed(ctx context.Context, id, detail string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]models.ExportJob, error)
}

type exportFileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type transcriptBuilder interface {
	Get(ctx context.Context, studentID string) (*models.Transcript, error)
}

type rosterBuilder interface {
	AuthorizeRoster(ctx context.Context, actor *models.JWTClaims, courseID string) error
	Roster(ctx context.Context, actor *models.JWTClaims, courseID string) ([]models.EnrollmentDetail, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportService renders transcript and roster exports asynchronously.
// Jobs are persisted, enqueued on an in-memory worker queue, and the
// produced files are served through short-lived signed URLs.
type ExportService struct {
	repo        exportJobRepository
	transcripts transcriptBuilder
	rosters     rosterBuilder
	storage     exportFileStorage
	signer      *storage.SignedURLSigner
	queue       *jobs.Queue
	csv         csvRenderer
	pdf         pdfRenderer
	logger      *zap.Logger
	cfg         ExportConfig
}

// NewExportService constructs an ExportService. Call BindQueue before
// Request so jobs have somewhere to go.
func NewExportService(repo exportJobRepository, transcripts transcriptBuilder, rosters rosterBuilder, fileStorage exportFileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ExportService{
		repo:        repo,
		transcripts: transcripts,
		rosters:     rosters,
		storage:     fileStorage,
		signer:      signer,
		csv:         export.NewCSVExporter(),
		pdf:         export.NewPDFExporter(),
		logger:      logger,
		cfg:         cfg,
	}
}

// BindQueue attaches the worker queue used for asynchronous processing.
func (s *ExportService) BindQueue(queue *jobs.Queue) {
	s.queue = queue
}

// Process is the queue handler: it renders the export named by the job
// payload and records the outcome on the persisted job row.
func (s *ExportService) Process(ctx context.Context, job jobs.Job) error {
	jobID, ok := job.Payload.(string)
	if !ok {
		return fmt.Errorf("unexpected export payload %T", job.Payload)
	}
	return s.run(ctx, jobID)
}

// Request authorizes the actor for the subject, persists a new export
// job and enqueues it. Roster exports require the actor to teach the
// course (or be an admin); transcript exports are limited to the
// actor's own record unless the actor is an admin.
func (s *ExportService) Request(ctx context.Context, actor *models.JWTClaims, kind, subjectID string, format models.ExportFormat) (*models.ExportJobResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !format.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	switch kind {
	case models.ExportKindTranscript:
		if actor.Role != models.RoleAdmin && subjectID != actor.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "not your transcript")
		}
	case models.ExportKindRoster:
		if err := s.rosters.AuthorizeRoster(ctx, actor, subjectID); err != nil {
			return nil, err
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown export kind")
	}

	job := &models.ExportJob{
		UserID:    actor.UserID,
		UserRole:  actor.Role,
		Kind:      kind,
		SubjectID: subjectID,
		Format:    format,
		Status:    models.ExportJobPending,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}

	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "export workers are not running")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: kind, Payload: job.ID}); err != nil {
		s.logger.Error("export enqueue failed", zap.String("job_id", job.ID), zap.Error(err))
		_ = s.repo.MarkFailed(ctx, job.ID, "queue unavailable")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}

	return &models.ExportJobResponse{Job: *job}, nil
}

// Status returns the job plus a signed download URL once completed.
// Only the requesting user or an admin may poll a job.
func (s *ExportService) Status(ctx context.Context, actor *models.JWTClaims, jobID string) (*models.ExportJobResponse, error) {
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if actor.Role != models.RoleAdmin && job.UserID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not your export job")
	}

	resp := &models.ExportJobResponse{Job: *job}
	if job.Status == models.ExportJobCompleted && job.FilePath != "" {
		token, expiresAt, err := s.signer.Generate(job.ID, job.FilePath)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download url")
		}
		prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
		if prefix == "" {
			prefix = "/api/v1"
		}
		resp.DownloadURL = fmt.Sprintf("%s/exports/download/%s", prefix, token)
		resp.ExpiresAt = expiresAt
	}
	return resp, nil
}

// Open validates a download token and returns a handle to the file.
func (s *ExportService) Open(token string) (*os.File, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export file not found")
	}
	return file, nil
}

// Cleanup removes expired export rows and their files. Intended to run
// on a ticker from main.
func (s *ExportService) Cleanup(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.ResultTTL)
	stale, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Warn("export cleanup failed", zap.Error(err))
		return
	}
	for _, job := range stale {
		if job.FilePath == "" {
			continue
		}
		if err := s.storage.Delete(job.FilePath); err != nil {
			s.logger.Warn("export file delete failed", zap.String("path", job.FilePath), zap.Error(err))
		}
	}
	if _, err := s.storage.CleanupOlderThan(s.cfg.ResultTTL); err != nil {
		s.logger.Warn("export directory cleanup failed", zap.Error(err))
	}
}

func (s *ExportService) run(ctx context.Context, jobID string) error {
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load export job: %w", err)
	}
	if err := s.repo.MarkProcessing(ctx, job.ID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	dataset, title, err := s.buildDataset(ctx, job)
	if err != nil {
		_ = s.repo.MarkFailed(ctx, job.ID, err.Error())
		return err
	}

	var payload []byte
	switch job.Format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Format)
	}
	if err != nil {
		_ = s.repo.MarkFailed(ctx, job.ID, err.Error())
		return err
	}

	relPath, err := s.storage.Save(s.buildFilename(job), payload)
	if err != nil {
		_ = s.repo.MarkFailed(ctx, job.ID, err.Error())
		return err
	}

	if err := s.repo.MarkCompleted(ctx, job.ID, relPath, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	s.logger.Info("export completed",
		zap.String("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.String("path", relPath))
	return nil
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ExportJob) (export.Dataset, string, error) {
	switch job.Kind {
	case models.ExportKindTranscript:
		return s.buildTranscriptDataset(ctx, job.SubjectID)
	case models.ExportKindRoster:
		return s.buildRosterDataset(ctx, job)
	default:
		return export.Dataset{}, "", fmt.Errorf("unsupported export kind %s", job.Kind)
	}
}

func (s *ExportService) buildTranscriptDataset(ctx context.Context, studentID string) (export.Dataset, string, error) {
	transcript, err := s.transcripts.Get(ctx, studentID)
	if err != nil {
		return export.Dataset{}, "", err
	}
	rows := make([]map[string]string, 0, len(transcript.Entries))
	for _, entry := range transcript.Entries {
		grade := "-"
		if entry.Grade != nil {
			grade = fmt.Sprintf("%d", *entry.Grade)
		}
		rows = append(rows, map[string]string{
			"Course":  entry.CourseTitle,
			"Term":    entry.TermName,
			"Credits": fmt.Sprintf("%d", entry.Credits),
			"Status":  string(entry.Status),
			"Grade":   grade,
		})
	}
	rows = append(rows, map[string]string{
		"Course":  "GPA",
		"Term":    "",
		"Credits": fmt.Sprintf("%d", transcript.GradedCredits),
		"Status":  "",
		"Grade":   fmt.Sprintf("%.2f", transcript.GPA),
	})
	dataset := export.Dataset{
		Headers: []string{"Course", "Term", "Credits", "Status", "Grade"},
		Rows:    rows,
	}
	return dataset, fmt.Sprintf("Transcript %s", transcript.StudentName), nil
}

func (s *ExportService) buildRosterDataset(ctx context.Context, job *models.ExportJob) (export.Dataset, string, error) {
	// Rendering re-runs the ownership check under the requester's
	// stored identity, so a roster stays off limits even if the
	// instructor was reassigned after the job was queued.
	actor := &models.JWTClaims{UserID: job.UserID, Role: job.UserRole}
	roster, err := s.rosters.Roster(ctx, actor, job.SubjectID)
	if err != nil {
		return export.Dataset{}, "", err
	}
	rows := make([]map[string]string, 0, len(roster))
	title := fmt.Sprintf("Roster %s", job.SubjectID)
	for _, entry := range roster {
		grade := "-"
		if entry.Grade != nil {
			grade = fmt.Sprintf("%d", *entry.Grade)
		}
		rows = append(rows, map[string]string{
			"Student":     entry.StudentName,
			"Status":      string(entry.Status),
			"Grade":       grade,
			"Enrolled At": entry.EnrolledAt.UTC().Format("2006-01-02 15:04"),
		})
		title = fmt.Sprintf("Roster %s", entry.CourseTitle)
	}
	dataset := export.Dataset{
		Headers: []string{"Student", "Status", "Grade", "Enrolled At"},
		Rows:    rows,
	}
	return dataset, title, nil
}

func (s *ExportService) buildFilename(job *models.ExportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	return fmt.Sprintf("%s_%s_%s.%s", job.Kind, sanitizeFilename(job.SubjectID), timestamp, job.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
