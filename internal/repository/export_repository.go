package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openclass/registry-api/internal/models"
)

// ExportRepository handles persistence for asynchronous export jobs.
type ExportRepository struct {
	db *sqlx.DB
}

// NewExportRepository instantiates an export repository.
func NewExportRepository(db *sqlx.DB) *ExportRepository {
	return &ExportRepository{db: db}
}

// Create inserts a new export job record.
func (r *ExportRepository) Create(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO export_jobs (id, user_id, user_role, kind, subject_id, format, status, file_path, error_detail, created_at)
		VALUES (:id, :user_id, :user_role, :kind, :subject_id, :format, :status, :file_path, :error_detail, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create export job: %w", err)
	}
	return nil
}

// FindByID loads an export job.
func (r *ExportRepository) FindByID(ctx context.Context, id string) (*models.ExportJob, error) {
	const query = `SELECT id, user_id, user_role, kind, subject_id, format, status, file_path, error_detail, created_at, completed_at FROM export_jobs WHERE id = $1`
	var job models.ExportJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, err
	}
	return &job, nil
}

// MarkProcessing transitions a job to the processing state.
func (r *ExportRepository) MarkProcessing(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE export_jobs SET status = $1 WHERE id = $2`, models.ExportJobProcessing, id); err != nil {
		return fmt.Errorf("mark export processing: %w", err)
	}
	return nil
}

// MarkCompleted records the generated file path and completion time.
func (r *ExportRepository) MarkCompleted(ctx context.Context, id, filePath string, completedAt time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE export_jobs SET status = $1, file_path = $2, completed_at = $3 WHERE id = $4`, models.ExportJobCompleted, filePath, completedAt, id); err != nil {
		return fmt.Errorf("mark export completed: %w", err)
	}
	return nil
}

// MarkFailed records the failure reason.
func (r *ExportRepository) MarkFailed(ctx context.Context, id, detail string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE export_jobs SET status = $1, error_detail = $2 WHERE id = $3`, models.ExportJobFailed, detail, id); err != nil {
		return fmt.Errorf("mark export failed: %w", err)
	}
	return nil
}

// DeleteOlderThan removes finished jobs past the retention cutoff and
// returns them so their files can be cleaned up too.
func (r *ExportRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]models.ExportJob, error) {
	const sel = `SELECT id, user_id, user_role, kind, subject_id, format, status, file_path, error_detail, created_at, completed_at
		FROM export_jobs WHERE completed_at IS NOT NULL AND completed_at < $1`
	var jobs []models.ExportJob
	if err := r.db.SelectContext(ctx, &jobs, sel, cutoff); err != nil {
		return nil, fmt.Errorf("list stale export jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM export_jobs WHERE completed_at IS NOT NULL AND completed_at < $1`, cutoff); err != nil {
		return nil, fmt.Errorf("delete stale export jobs: %w", err)
	}
	return jobs, nil
}
