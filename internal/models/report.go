package models

import "time"

// DashboardSummary aggregates counts for the admin dashboard.
type DashboardSummary struct {
	StudentCount    int    `db:"student_count" json:"student_count"`
	InstructorCount int    `db:"instructor_count" json:"instructor_count"`
	AdminCount      int    `db:"admin_count" json:"admin_count"`
	CourseCount     int    `db:"course_count" json:"course_count"`
	EnrollmentCount int    `db:"enrollment_count" json:"enrollment_count"`
	ActiveTermID    string `json:"active_term_id,omitempty"`
	ActiveTermName  string `json:"active_term_name,omitempty"`
}

// CourseEnrollmentCount ranks a course by its enrollment volume.
type CourseEnrollmentCount struct {
	CourseID      string `db:"course_id" json:"course_id"`
	Title         string `db:"title" json:"title"`
	EnrolledCount int    `db:"enrolled_count" json:"enrolled_count"`
}

// TranscriptEntry is a single graded or in-progress course on a
// student's transcript.
type TranscriptEntry struct {
	CourseID    string           `json:"course_id"`
	CourseTitle string           `json:"course_title"`
	Credits     int              `json:"credits"`
	TermName    string           `json:"term_name"`
	Status      EnrollmentStatus `json:"status"`
	Grade       *int             `json:"grade,omitempty"`
}

// Transcript is the full academic record of a student. GPA is the
// credit-weighted mean over graded enrollments only; ungraded rows
// contribute to neither sum.
type Transcript struct {
	StudentID     string            `json:"student_id"`
	StudentName   string            `json:"student_name"`
	Entries       []TranscriptEntry `json:"entries"`
	GradedCredits int               `json:"graded_credits"`
	GPA           float64           `json:"gpa"`
}

// ExportFormat enumerates supported export encodings.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// Valid reports whether the format is supported.
func (f ExportFormat) Valid() bool {
	return f == ExportFormatCSV || f == ExportFormatPDF
}

// ExportJobStatus tracks asynchronous export generation.
type ExportJobStatus string

const (
	ExportJobPending    ExportJobStatus = "PENDING"
	ExportJobProcessing ExportJobStatus = "PROCESSING"
	ExportJobCompleted  ExportJobStatus = "COMPLETED"
	ExportJobFailed     ExportJobStatus = "FAILED"
)

// ExportJob records one requested transcript or roster export.
type ExportJob struct {
	ID          string          `db:"id" json:"id"`
	UserID      string          `db:"user_id" json:"user_id"`
	UserRole    UserRole        `db:"user_role" json:"-"`
	Kind        string          `db:"kind" json:"kind"`
	SubjectID   string          `db:"subject_id" json:"subject_id"`
	Format      ExportFormat    `db:"format" json:"format"`
	Status      ExportJobStatus `db:"status" json:"status"`
	FilePath    string          `db:"file_path" json:"-"`
	ErrorDetail string          `db:"error_detail" json:"error_detail,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	CompletedAt *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// Export job kinds.
const (
	ExportKindTranscript = "transcript"
	ExportKindRoster     = "roster"
)

// ExportJobResponse is returned when a job is created or polled.
type ExportJobResponse struct {
	Job         ExportJob `json:"job"`
	DownloadURL string    `json:"download_url,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// SystemMetrics is a lightweight snapshot exposed on admin analytics.
type SystemMetrics struct {
	RequestCount   uint64  `json:"request_count"`
	AvgRequestMs   float64 `json:"avg_request_ms"`
	CacheHitRatio  float64 `json:"cache_hit_ratio"`
	GoroutineCount int     `json:"goroutine_count"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	CacheHitCount  uint64  `json:"cache_hit_count"`
	CacheMissCount uint64  `json:"cache_miss_count"`
}
