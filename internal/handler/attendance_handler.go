package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-attendance-api/internal/models"
	"github.com/noah-isme/sma-attendance-api/internal/service"
	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
	"github.com/noah-isme/sma-attendance-api/pkg/export"
	"github.com/noah-isme/sma-attendance-api/pkg/response"
)

type attendanceService interface {
	RegisterByCode(ctx context.Context, principal models.Principal, scheduleID string, req service.RegisterByCodeRequest) (*models.AttendanceRecordDetail, error)
	RegisterManual(ctx context.Context, principal models.Principal, scheduleID string, req service.RegisterManualRequest) (*models.AttendanceRecordDetail, error)
	UpdateRecord(ctx context.Context, principal models.Principal, id string, req service.UpdateAttendanceRequest) (*models.AttendanceRecordDetail, error)
	StatsForSchedule(ctx context.Context, principal models.Principal, scheduleID string) (*models.AttendanceStats, error)
	Roster(ctx context.Context, principal models.Principal, scheduleID string, date *time.Time) ([]models.RosterEntry, error)
	ExportRoster(ctx context.Context, principal models.Principal, scheduleID string, date *time.Time, format export.Format) (*service.ExportFile, error)
}

// AttendanceHandler exposes attendance registration and reporting endpoints.
type AttendanceHandler struct {
	service attendanceService
}

// NewAttendanceHandler constructs the handler.
func NewAttendanceHandler(svc attendanceService) *AttendanceHandler {
	return &AttendanceHandler{service: svc}
}

// Scan godoc
// @Summary Register attendance from a scanned student code
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Schedule ID"
// @Param payload body service.RegisterByCodeRequest true "Scan payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /schedules/{id}/attendance/scan [post]
func (h *AttendanceHandler) Scan(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.RegisterByCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	record, err := h.service.RegisterByCode(c.Request.Context(), principal, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// Register godoc
// @Summary Register attendance for a student
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Schedule ID"
// @Param payload body service.RegisterManualRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Router /schedules/{id}/attendance [post]
func (h *AttendanceHandler) Register(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.RegisterManualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	record, err := h.service.RegisterManual(c.Request.Context(), principal, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// Update godoc
// @Summary Update an attendance record
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Attendance record ID"
// @Param payload body service.UpdateAttendanceRequest true "Changes"
// @Success 200 {object} response.Envelope
// @Router /attendance/{id} [patch]
func (h *AttendanceHandler) Update(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.UpdateAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	record, err := h.service.UpdateRecord(c.Request.Context(), principal, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// Stats godoc
// @Summary Today's attendance counts for a schedule
// @Tags Attendance
// @Produce json
// @Param id path string true "Schedule ID"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id}/attendance/stats [get]
func (h *AttendanceHandler) Stats(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	stats, err := h.service.StatsForSchedule(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Roster godoc
// @Summary Group roster with attendance status
// @Tags Attendance
// @Produce json
// @Param id path string true "Schedule ID"
// @Param date query string false "Day (YYYY-MM-DD), defaults to today"
// @Success 200 {object} response.Envelope
// @Router /schedules/{id}/attendance [get]
func (h *AttendanceHandler) Roster(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	date, err := parseDateQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	entries, err := h.service.Roster(c.Request.Context(), principal, c.Param("id"), date)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Export godoc
// @Summary Download the roster as CSV or PDF
// @Tags Attendance
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Schedule ID"
// @Param date query string false "Day (YYYY-MM-DD), defaults to today"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /schedules/{id}/attendance/export [get]
func (h *AttendanceHandler) Export(c *gin.Context) {
	principal, err := principalFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	date, err := parseDateQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unsupported export format"))
		return
	}
	file, err := h.service.ExportRoster(c.Request.Context(), principal, c.Param("id"), date, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}

func parseDateQuery(c *gin.Context) (*time.Time, error) {
	raw := c.Query("date")
	if raw == "" {
		return nil, nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "date must be YYYY-MM-DD")
	}
	return &day, nil
}
