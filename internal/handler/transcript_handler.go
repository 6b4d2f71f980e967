package handler

import (
	"io"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/openclass/registry-api/internal/models"
	"github.com/openclass/registry-api/internal/service"
	appErrors "github.com/openclass/registry-api/pkg/errors"
	"github.com/openclass/registry-api/pkg/response"
)

// TranscriptHandler exposes transcript, dashboard and export endpoints.
type TranscriptHandler struct {
	transcripts *service.TranscriptService
	reports     *service.ReportService
	exports     *service.ExportService
}

// NewTranscriptHandler constructs a transcript handler.
func NewTranscriptHandler(transcripts *service.TranscriptService, reports *service.ReportService, exports *service.ExportService) *TranscriptHandler {
	return &TranscriptHandler{transcripts: transcripts, reports: reports, exports: exports}
}

type exportRequest struct {
	Format models.ExportFormat `json:"format" binding:"required"`
}

// Transcript godoc
// @Summary Get my transcript
// @Description Full academic record with credit-weighted GPA over graded courses
// @Tags Transcripts
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /me/transcript [get]
func (h *TranscriptHandler) Transcript(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	transcript, err := h.transcripts.Get(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, transcript, nil)
}

// StudentTranscript godoc
// @Summary Get a student's transcript
// @Tags Transcripts
// @Produce json
// @Security BearerAuth
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/transcript [get]
func (h *TranscriptHandler) StudentTranscript(c *gin.Context) {
	transcript, err := h.transcripts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, transcript, nil)
}

// Dashboard godoc
// @Summary Get my dashboard
// @Description Active-term schedule and credit load
// @Tags Transcripts
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /me/dashboard [get]
func (h *TranscriptHandler) Dashboard(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	dashboard, err := h.reports.StudentDashboard(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dashboard, nil)
}

// ExportTranscript godoc
// @Summary Export my transcript
// @Description Queues an asynchronous CSV or PDF export
// @Tags Exports
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body exportRequest true "Export format"
// @Success 202 {object} response.Envelope
// @Router /me/transcript/export [post]
func (h *TranscriptHandler) ExportTranscript(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	job, err := h.exports.Request(c.Request.Context(), claims, models.ExportKindTranscript, claims.UserID, req.Format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, job)
}

// ExportRoster godoc
// @Summary Export a course roster
// @Tags Exports
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Course ID"
// @Param payload body exportRequest true "Export format"
// @Success 202 {object} response.Envelope
// @Router /courses/{id}/roster/export [post]
func (h *TranscriptHandler) ExportRoster(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req exportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	job, err := h.exports.Request(c.Request.Context(), claims, models.ExportKindRoster, c.Param("id"), req.Format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, job)
}

// ExportStatus godoc
// @Summary Poll an export job
// @Tags Exports
// @Produce json
// @Security BearerAuth
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Router /exports/jobs/{id} [get]
func (h *TranscriptHandler) ExportStatus(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	job, err := h.exports.Status(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// Download godoc
// @Summary Download an export
// @Description Streams the file named by a signed token
// @Tags Exports
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200
// @Router /exports/download/{token} [get]
func (h *TranscriptHandler) Download(c *gin.Context) {
	file, err := h.exports.Open(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	name := filepath.Base(file.Name())
	c.Header("Content-Disposition", "attachment; filename="+name)
	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, file); err != nil {
		_ = c.Error(err)
	}
}
