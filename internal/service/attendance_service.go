package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-api/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
	"github.com/noah-isme/sma-attendance-api/pkg/export"
)

type attendanceRepository interface {
	FindByID(ctx context.Context, id string) (*models.AttendanceRecord, error)
	FindDetailByID(ctx context.Context, id string) (*models.AttendanceRecordDetail, error)
	Exists(ctx context.Context, scheduleID, studentID string, date time.Time) (bool, error)
	Create(ctx context.Context, record *models.AttendanceRecord) (bool, error)
	Update(ctx context.Context, record *models.AttendanceRecord) error
	CountByStatus(ctx context.Context, scheduleID string, date time.Time) ([]models.AttendanceStatusCount, error)
	Roster(ctx context.Context, scheduleID, groupID string, date time.Time) ([]models.RosterEntry, error)
}

type scheduleDetailReader interface {
	FindDetailByID(ctx context.Context, id string) (*models.ScheduleDetail, error)
}

type membershipReader interface {
	IsMember(ctx context.Context, studentID, groupID, periodID string) (bool, error)
	CountMembers(ctx context.Context, groupID string) (int, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindStudentByCode(ctx context.Context, institutionID, code string) (*models.User, error)
}

// AttendanceNotifier is told about every newly created record. Implementations must not block.
type AttendanceNotifier interface {
	NotifyAttendanceCreated(ctx context.Context, recordID string) error
}

// RegisterByCodeRequest registers a scanned student code.
type RegisterByCodeRequest struct {
	StudentCode string `json:"student_code" validate:"required,max=64"`
}

// RegisterManualRequest registers a student picked by id, PRESENT unless overridden.
type RegisterManualRequest struct {
	StudentID   string  `json:"student_id" validate:"required"`
	Status      *string `json:"status" validate:"omitempty,attendance_status"`
	Observation *string `json:"observation" validate:"omitempty,max=500"`
}

// UpdateAttendanceRequest edits status and/or observation. An empty observation clears it.
type UpdateAttendanceRequest struct {
	Status      *string `json:"status" validate:"omitempty,attendance_status"`
	Observation *string `json:"observation" validate:"omitempty,max=500"`
}

// ExportFile is a rendered roster download.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// AttendanceService registers and reports per-schedule attendance.
type AttendanceService struct {
	records   attendanceRepository
	schedules scheduleDetailReader
	groups    membershipReader
	students  studentReader
	notifier  AttendanceNotifier
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewAttendanceService constructs the attendance service. notifier and metrics may be nil.
func NewAttendanceService(records attendanceRepository, schedules scheduleDetailReader, groups membershipReader, students studentReader, notifier AttendanceNotifier, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceService{
		records:   records,
		schedules: schedules,
		groups:    groups,
		students:  students,
		notifier:  notifier,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// RegisterByCode marks the student owning code PRESENT for today's session of the schedule.
func (s *AttendanceService) RegisterByCode(ctx context.Context, principal models.Principal, scheduleID string, req RegisterByCodeRequest) (*models.AttendanceRecordDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}
	schedule, err := s.loadSchedule(ctx, principal, scheduleID, true)
	if err != nil {
		return nil, err
	}
	student, err := s.students.FindStudentByCode(ctx, schedule.InstitutionID, strings.TrimSpace(req.StudentCode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student")
	}
	return s.register(ctx, principal, schedule, student, models.AttendanceStatusPresent, nil, RegistrationMethodScan)
}

// RegisterManual records a student picked by id with an optional status override.
func (s *AttendanceService) RegisterManual(ctx context.Context, principal models.Principal, scheduleID string, req RegisterManualRequest) (*models.AttendanceRecordDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}
	schedule, err := s.loadSchedule(ctx, principal, scheduleID, true)
	if err != nil {
		return nil, err
	}
	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrValidation, "user is not a student")
	}

	status := models.AttendanceStatusPresent
	if req.Status != nil {
		status = models.AttendanceStatus(strings.ToUpper(*req.Status))
	}
	return s.register(ctx, principal, schedule, student, status, cleanObservation(req.Observation), RegistrationMethodManual)
}

func (s *AttendanceService) register(ctx context.Context, principal models.Principal, schedule *models.ScheduleDetail, student *models.User, status models.AttendanceStatus, observation *string, method string) (*models.AttendanceRecordDetail, error) {
	member, err := s.groups.IsMember(ctx, student.ID, schedule.GroupID, schedule.PeriodID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check group membership")
	}
	if !member {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "student is not a member of this group")
	}

	today := s.today()
	exists, err := s.records.Exists(ctx, schedule.ID, student.ID, today)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check attendance")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrValidation, "already registered today")
	}

	record := models.AttendanceRecord{
		ScheduleID:    schedule.ID,
		StudentID:     student.ID,
		TeacherID:     principal.UserID,
		InstitutionID: schedule.InstitutionID,
		Date:          today,
		Status:        status,
		Observation:   observation,
	}
	inserted, err := s.records.Create(ctx, &record)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register attendance")
	}
	if !inserted {
		return nil, appErrors.Clone(appErrors.ErrValidation, "already registered today")
	}

	s.metrics.RecordRegistration(method)
	s.logger.Info("attendance registered",
		zap.String("record_id", record.ID),
		zap.String("schedule_id", schedule.ID),
		zap.String("student_id", student.ID),
		zap.String("status", string(status)),
		zap.String("method", method))

	if s.notifier != nil {
		if err := s.notifier.NotifyAttendanceCreated(ctx, record.ID); err != nil {
			s.logger.Warn("attendance notification not queued", zap.String("record_id", record.ID), zap.Error(err))
		}
	}

	return &models.AttendanceRecordDetail{
		AttendanceRecord: record,
		StudentName:      student.FullName,
		StudentCode:      student.StudentCode,
		GroupID:          schedule.GroupID,
		GroupName:        schedule.GroupName,
		SubjectName:      schedule.SubjectName,
		DayOfWeek:        schedule.DayOfWeek,
		StartTime:        schedule.StartTime,
		EndTime:          schedule.EndTime,
	}, nil
}

// UpdateRecord changes status or observation of a record of the caller's institution.
func (s *AttendanceService) UpdateRecord(ctx context.Context, principal models.Principal, id string, req UpdateAttendanceRequest) (*models.AttendanceRecordDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}
	record, err := s.records.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance record")
	}
	if record.InstitutionID != principal.InstitutionID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "attendance record belongs to another institution")
	}

	if req.Status != nil {
		record.Status = models.AttendanceStatus(strings.ToUpper(*req.Status))
	}
	if req.Observation != nil {
		record.Observation = cleanObservation(req.Observation)
	}
	if err := s.records.Update(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update attendance record")
	}
	s.logger.Info("attendance updated", zap.String("record_id", id), zap.String("status", string(record.Status)), zap.String("updated_by", principal.UserID))

	detail, err := s.records.FindDetailByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance record")
	}
	return detail, nil
}

// StatsForSchedule counts today's records by status against the group's size.
func (s *AttendanceService) StatsForSchedule(ctx context.Context, principal models.Principal, scheduleID string) (*models.AttendanceStats, error) {
	schedule, err := s.loadSchedule(ctx, principal, scheduleID, false)
	if err != nil {
		return nil, err
	}
	total, err := s.groups.CountMembers(ctx, schedule.GroupID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count group members")
	}
	today := s.today()
	counts, err := s.records.CountByStatus(ctx, schedule.ID, today)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count attendance")
	}

	stats := &models.AttendanceStats{ScheduleID: schedule.ID, Date: today, Total: total}
	registered := 0
	for _, c := range counts {
		switch c.Status {
		case models.AttendanceStatusPresent:
			stats.Present += c.Count
		case models.AttendanceStatusAbsent:
			stats.Absent += c.Count
		case models.AttendanceStatusLate:
			stats.Late += c.Count
		case models.AttendanceStatusExcused:
			stats.Excused += c.Count
		default:
			continue
		}
		registered += c.Count
	}
	// Records of students who have since left the group can push this below zero.
	if unregistered := total - registered; unregistered > 0 {
		stats.Unregistered = unregistered
	}
	return stats, nil
}

// Roster lists every group member with their status on date (today when nil).
func (s *AttendanceService) Roster(ctx context.Context, principal models.Principal, scheduleID string, date *time.Time) ([]models.RosterEntry, error) {
	_, entries, _, err := s.roster(ctx, principal, scheduleID, date)
	return entries, err
}

// ExportRoster renders the roster for date as CSV or PDF.
func (s *AttendanceService) ExportRoster(ctx context.Context, principal models.Principal, scheduleID string, date *time.Time, format export.Format) (*ExportFile, error) {
	schedule, entries, day, err := s.roster(ctx, principal, scheduleID, date)
	if err != nil {
		return nil, err
	}

	data := export.Dataset{
		Title:    fmt.Sprintf("%s - %s", schedule.SubjectName, schedule.GroupName),
		Subtitle: fmt.Sprintf("%s %s-%s", day.Format("2006-01-02"), schedule.StartTime, schedule.EndTime),
		Headers:  []string{"No", "Student", "Code", "Status", "Observation"},
		Rows:     make([][]string, 0, len(entries)),
	}
	for i, entry := range entries {
		status := "UNREGISTERED"
		if entry.Status != nil {
			status = string(*entry.Status)
		}
		data.Rows = append(data.Rows, []string{
			fmt.Sprintf("%d", i+1),
			entry.FullName,
			derefString(entry.StudentCode),
			status,
			derefString(entry.Observation),
		})
	}
	body, err := export.Render(data, format)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render attendance export")
	}
	return &ExportFile{
		Filename:    fmt.Sprintf("attendance-%s-%s.%s", schedule.ID, day.Format("20060102"), format),
		ContentType: format.ContentType(),
		Body:        body,
	}, nil
}

func (s *AttendanceService) roster(ctx context.Context, principal models.Principal, scheduleID string, date *time.Time) (*models.ScheduleDetail, []models.RosterEntry, time.Time, error) {
	schedule, err := s.loadSchedule(ctx, principal, scheduleID, false)
	if err != nil {
		return nil, nil, time.Time{}, err
	}
	day := s.today()
	if date != nil {
		day = startOfDayUTC(*date)
	}
	entries, err := s.records.Roster(ctx, schedule.ID, schedule.GroupID, day)
	if err != nil {
		return nil, nil, time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance roster")
	}
	if entries == nil {
		entries = []models.RosterEntry{}
	}
	return schedule, entries, day, nil
}

// loadSchedule resolves a schedule the caller may act on. requireActive rejects
// schedules whose academic period is closed.
func (s *AttendanceService) loadSchedule(ctx context.Context, principal models.Principal, id string, requireActive bool) (*models.ScheduleDetail, error) {
	schedule, err := s.schedules.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}
	if schedule.InstitutionID != principal.InstitutionID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "schedule belongs to another institution")
	}
	if requireActive && !schedule.PeriodActive {
		return nil, appErrors.Clone(appErrors.ErrValidation, "academic period is not active")
	}
	return schedule, nil
}

func (s *AttendanceService) today() time.Time {
	return startOfDayUTC(s.now())
}

func startOfDayUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func cleanObservation(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
