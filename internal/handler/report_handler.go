package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openclass/registry-api/internal/service"
	"github.com/openclass/registry-api/pkg/response"
)

// ReportHandler exposes admin reporting endpoints.
type ReportHandler struct {
	service *service.ReportService
	metrics *service.MetricsService
}

// NewReportHandler constructs a report handler.
func NewReportHandler(svc *service.ReportService, metrics *service.MetricsService) *ReportHandler {
	return &ReportHandler{service: svc, metrics: metrics}
}

// Dashboard godoc
// @Summary Admin dashboard
// @Description Platform-wide user, course and enrollment counts
// @Tags Reports
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /admin/dashboard [get]
func (h *ReportHandler) Dashboard(c *gin.Context) {
	summary, err := h.service.AdminDashboard(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// TopCourses godoc
// @Summary Most subscribed courses
// @Tags Reports
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /admin/reports/top-courses [get]
func (h *ReportHandler) TopCourses(c *gin.Context) {
	top, err := h.service.TopCourses(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, top, nil)
}

// SystemMetrics godoc
// @Summary Runtime metrics snapshot
// @Tags Reports
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /admin/metrics [get]
func (h *ReportHandler) SystemMetrics(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.metrics.Snapshot(), nil)
}
