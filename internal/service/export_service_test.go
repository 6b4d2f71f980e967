package service

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openclass/registry-api/internal/models"
	appErrors "github.com/openclass/registry-api/pkg/errors"
	"github.com/openclass/registry-api/pkg/jobs"
	"github.com/openclass/registry-api/pkg/storage"
)

type fakeExportJobRepo struct {
	jobs map[string]*models.ExportJob
	seq  int

	failedDetail string
}

func newFakeExportJobRepo() *fakeExportJobRepo {
	return &fakeExportJobRepo{jobs: map[string]*models.ExportJob{}}
}

func (f *fakeExportJobRepo) Create(_ context.Context, job *models.ExportJob) error {
	f.seq++
	job.ID = fmt.Sprintf("job-%d", f.seq)
	job.CreatedAt = time.Now().UTC()
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeExportJobRepo) FindByID(_ context.Context, id string) (*models.ExportJob, error) {
	if job, ok := f.jobs[id]; ok {
		copied := *job
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeExportJobRepo) MarkProcessing(_ context.Context, id string) error {
	f.jobs[id].Status = models.ExportJobProcessing
	return nil
}

func (f *fakeExportJobRepo) MarkCompleted(_ context.Context, id, filePath string, completedAt time.Time) error {
	job := f.jobs[id]
	job.Status = models.ExportJobCompleted
	job.FilePath = filePath
	job.CompletedAt = &completedAt
	return nil
}

func (f *fakeExportJobRepo) MarkFailed(_ context.Context, id, detail string) error {
	f.jobs[id].Status = models.ExportJobFailed
	f.jobs[id].ErrorDetail = detail
	f.failedDetail = detail
	return nil
}

func (f *fakeExportJobRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) ([]models.ExportJob, error) {
	var stale []models.ExportJob
	for id, job := range f.jobs {
		if job.CreatedAt.Before(cutoff) {
			stale = append(stale, *job)
			delete(f.jobs, id)
		}
	}
	return stale, nil
}

type fakeTranscripts struct {
	transcript *models.Transcript
}

func (f *fakeTranscripts) Get(_ context.Context, _ string) (*models.Transcript, error) {
	return f.transcript, nil
}

type fakeRosters struct {
	ownerID string
	rows    []models.EnrollmentDetail
}

func (f *fakeRosters) AuthorizeRoster(_ context.Context, actor *models.JWTClaims, _ string) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role == models.RoleAdmin || (actor.Role == models.RoleInstructor && actor.UserID == f.ownerID) {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "not the instructor of this course")
}

func (f *fakeRosters) Roster(ctx context.Context, actor *models.JWTClaims, courseID string) ([]models.EnrollmentDetail, error) {
	if err := f.AuthorizeRoster(ctx, actor, courseID); err != nil {
		return nil, err
	}
	return f.rows, nil
}

func newExportFixture(t *testing.T) (*fakeExportJobRepo, *ExportService) {
	t.Helper()
	repo := newFakeExportJobRepo()
	fileStorage, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("export-test-secret", time.Hour)

	transcripts := &fakeTranscripts{transcript: &models.Transcript{
		StudentID:   "student-1",
		StudentName: "ada",
		Entries: []models.TranscriptEntry{
			{CourseID: "course-1", CourseTitle: "Algorithms", Credits: 3, TermName: "Fall 2026", Status: models.EnrollmentStatusCompleted, Grade: intPtr(18)},
		},
		GradedCredits: 3,
		GPA:           18,
	}}
	rosters := &fakeRosters{ownerID: "instructor-1", rows: []models.EnrollmentDetail{
		{Enrollment: models.Enrollment{Status: models.EnrollmentStatusEnrolled, EnrolledAt: time.Now()}, StudentName: "ada", CourseTitle: "Algorithms"},
	}}

	svc := NewExportService(repo, transcripts, rosters, fileStorage, signer, ExportConfig{APIPrefix: "/api/v1"}, nil)
	return repo, svc
}

func TestExportRequestValidatesFormatAndKind(t *testing.T) {
	_, svc := newExportFixture(t)
	actor := &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent}

	_, err := svc.Request(context.Background(), actor, models.ExportKindTranscript, "student-1", "xlsx")
	requireErrorCode(t, err, appErrors.ErrValidation.Code)

	_, err = svc.Request(context.Background(), actor, "timetable", "student-1", models.ExportFormatCSV)
	requireErrorCode(t, err, appErrors.ErrValidation.Code)
}

func TestExportRequestFailsWithoutWorkers(t *testing.T) {
	_, svc := newExportFixture(t)
	actor := &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent}

	_, err := svc.Request(context.Background(), actor, models.ExportKindTranscript, "student-1", models.ExportFormatCSV)
	requireErrorCode(t, err, appErrors.ErrInternal.Code)
}

func TestExportRequestEnqueuesJob(t *testing.T) {
	repo, svc := newExportFixture(t)

	processed := make(chan jobs.Job, 1)
	queue := jobs.NewQueue("exports-test", func(_ context.Context, job jobs.Job) error {
		processed <- job
		return nil
	}, jobs.QueueConfig{Workers: 1})
	queue.Start(context.Background())
	defer queue.Stop()
	svc.BindQueue(queue)

	actor := &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent}
	resp, err := svc.Request(context.Background(), actor, models.ExportKindTranscript, "student-1", models.ExportFormatCSV)
	require.NoError(t, err)
	require.Equal(t, models.ExportJobPending, resp.Job.Status)

	select {
	case job := <-processed:
		require.Equal(t, resp.Job.ID, job.Payload)
		require.Equal(t, models.ExportKindTranscript, job.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("job was never dispatched to a worker")
	}
	require.Contains(t, repo.jobs, resp.Job.ID)
}

func TestExportRequestRejectsNonOwningInstructorRoster(t *testing.T) {
	repo, svc := newExportFixture(t)

	stranger := &models.JWTClaims{UserID: "instructor-2", Role: models.RoleInstructor}
	_, err := svc.Request(context.Background(), stranger, models.ExportKindRoster, "course-1", models.ExportFormatCSV)
	requireErrorCode(t, err, appErrors.ErrForbidden.Code)
	require.Empty(t, repo.jobs)
}

func TestExportRequestStoresRequesterRole(t *testing.T) {
	repo, svc := newExportFixture(t)

	queue := jobs.NewQueue("exports-test", func(_ context.Context, _ jobs.Job) error { return nil }, jobs.QueueConfig{Workers: 1})
	queue.Start(context.Background())
	defer queue.Stop()
	svc.BindQueue(queue)

	owner := &models.JWTClaims{UserID: "instructor-1", Role: models.RoleInstructor}
	resp, err := svc.Request(context.Background(), owner, models.ExportKindRoster, "course-1", models.ExportFormatCSV)
	require.NoError(t, err)
	require.Equal(t, models.RoleInstructor, repo.jobs[resp.Job.ID].UserRole)
}

func TestExportRequestRejectsForeignTranscript(t *testing.T) {
	repo, svc := newExportFixture(t)

	stranger := &models.JWTClaims{UserID: "student-2", Role: models.RoleStudent}
	_, err := svc.Request(context.Background(), stranger, models.ExportKindTranscript, "student-1", models.ExportFormatCSV)
	requireErrorCode(t, err, appErrors.ErrForbidden.Code)
	require.Empty(t, repo.jobs)
}

func TestExportProcessRendersRosterWithRequesterIdentity(t *testing.T) {
	repo, svc := newExportFixture(t)
	job := &models.ExportJob{
		UserID:    "instructor-2",
		UserRole:  models.RoleInstructor,
		Kind:      models.ExportKindRoster,
		SubjectID: "course-1",
		Format:    models.ExportFormatCSV,
		Status:    models.ExportJobPending,
	}
	require.NoError(t, repo.Create(context.Background(), job))

	err := svc.Process(context.Background(), jobs.Job{ID: job.ID, Payload: job.ID})
	requireErrorCode(t, err, appErrors.ErrForbidden.Code)
	require.Equal(t, models.ExportJobFailed, repo.jobs[job.ID].Status)
}

func TestExportProcessRendersTranscriptCSV(t *testing.T) {
	repo, svc := newExportFixture(t)
	job := &models.ExportJob{
		UserID:    "student-1",
		Kind:      models.ExportKindTranscript,
		SubjectID: "student-1",
		Format:    models.ExportFormatCSV,
		Status:    models.ExportJobPending,
	}
	require.NoError(t, repo.Create(context.Background(), job))

	require.NoError(t, svc.Process(context.Background(), jobs.Job{ID: job.ID, Payload: job.ID}))

	stored := repo.jobs[job.ID]
	require.Equal(t, models.ExportJobCompleted, stored.Status)
	require.NotEmpty(t, stored.FilePath)
	require.NotNil(t, stored.CompletedAt)

	file, err := svc.storage.Open(stored.FilePath)
	require.NoError(t, err)
	defer file.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(file)
	require.NoError(t, err)
	content := buf.String()
	require.Contains(t, content, "Course,Term,Credits,Status,Grade")
	require.Contains(t, content, "Algorithms")
	require.Contains(t, content, "GPA")
}

func TestExportProcessRendersRosterPDF(t *testing.T) {
	repo, svc := newExportFixture(t)
	job := &models.ExportJob{
		UserID:    "instructor-1",
		UserRole:  models.RoleInstructor,
		Kind:      models.ExportKindRoster,
		SubjectID: "course-1",
		Format:    models.ExportFormatPDF,
		Status:    models.ExportJobPending,
	}
	require.NoError(t, repo.Create(context.Background(), job))

	require.NoError(t, svc.Process(context.Background(), jobs.Job{ID: job.ID, Payload: job.ID}))

	stored := repo.jobs[job.ID]
	require.Equal(t, models.ExportJobCompleted, stored.Status)
	require.Equal(t, ".pdf", filepath.Ext(stored.FilePath))
}

func TestExportStatusSignsCompletedJobs(t *testing.T) {
	repo, svc := newExportFixture(t)
	job := &models.ExportJob{
		UserID:    "student-1",
		Kind:      models.ExportKindTranscript,
		SubjectID: "student-1",
		Format:    models.ExportFormatCSV,
	}
	require.NoError(t, repo.Create(context.Background(), job))
	require.NoError(t, svc.Process(context.Background(), jobs.Job{ID: job.ID, Payload: job.ID}))

	owner := &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent}
	resp, err := svc.Status(context.Background(), owner, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExportJobCompleted, resp.Job.Status)
	require.True(t, strings.HasPrefix(resp.DownloadURL, "/api/v1/exports/download/"))
	require.False(t, resp.ExpiresAt.IsZero())

	token := strings.TrimPrefix(resp.DownloadURL, "/api/v1/exports/download/")
	file, err := svc.Open(token)
	require.NoError(t, err)
	file.Close()
}

func TestExportStatusForbidsOtherUsers(t *testing.T) {
	repo, svc := newExportFixture(t)
	job := &models.ExportJob{UserID: "student-1", Kind: models.ExportKindTranscript, SubjectID: "student-1", Format: models.ExportFormatCSV}
	require.NoError(t, repo.Create(context.Background(), job))

	stranger := &models.JWTClaims{UserID: "student-2", Role: models.RoleStudent}
	_, err := svc.Status(context.Background(), stranger, job.ID)
	requireErrorCode(t, err, appErrors.ErrForbidden.Code)

	admin := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
	_, err = svc.Status(context.Background(), admin, job.ID)
	require.NoError(t, err)
}

func TestExportOpenRejectsTamperedTokens(t *testing.T) {
	_, svc := newExportFixture(t)

	_, err := svc.Open("not-a-real-token")
	requireErrorCode(t, err, appErrors.ErrUnauthorized.Code)
}

func TestExportCleanupRemovesStaleFiles(t *testing.T) {
	repo, svc := newExportFixture(t)
	job := &models.ExportJob{UserID: "student-1", Kind: models.ExportKindTranscript, SubjectID: "student-1", Format: models.ExportFormatCSV}
	require.NoError(t, repo.Create(context.Background(), job))
	require.NoError(t, svc.Process(context.Background(), jobs.Job{ID: job.ID, Payload: job.ID}))

	stored := repo.jobs[job.ID]
	stored.CreatedAt = time.Now().Add(-48 * time.Hour)
	path := stored.FilePath

	svc.Cleanup(context.Background())

	require.NotContains(t, repo.jobs, job.ID)
	_, err := svc.storage.Open(path)
	require.True(t, os.IsNotExist(err))
}
