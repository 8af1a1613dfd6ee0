package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-api/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
)

// exclusion_violation, raised by the schedules slot constraints when two writers race.
const pqExclusionViolation = "23P01"

type scheduleRepository interface {
	List(ctx context.Context, filter models.ScheduleFilter) ([]models.ScheduleDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Schedule, error)
	FindDetailByID(ctx context.Context, id string) (*models.ScheduleDetail, error)
	CreateChecked(ctx context.Context, schedule *models.Schedule, check func(existing []models.Schedule) error) error
	UpdateChecked(ctx context.Context, schedule *models.Schedule, check func(existing []models.Schedule) error) error
	CountAttendance(ctx context.Context, id string) (int, error)
	Delete(ctx context.Context, id string) error
}

type periodReader interface {
	FindByID(ctx context.Context, institutionID, id string) (*models.Period, error)
}

type groupReader interface {
	FindByID(ctx context.Context, institutionID, id string) (*models.Group, error)
}

type subjectReader interface {
	FindByID(ctx context.Context, institutionID, id string) (*models.Subject, error)
}

type teacherReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	HasActiveMembership(ctx context.Context, userID, institutionID string, role models.UserRole) (bool, error)
}

// CreateScheduleRequest describes payload for creating a schedule.
// Times and day are checked by the slot validator so its messages reach the caller.
type CreateScheduleRequest struct {
	PeriodID  string  `json:"period_id" validate:"required"`
	GroupID   string  `json:"group_id" validate:"required"`
	SubjectID string  `json:"subject_id" validate:"required"`
	TeacherID *string `json:"teacher_id"`
	DayOfWeek int     `json:"day_of_week"`
	StartTime string  `json:"start_time"`
	EndTime   string  `json:"end_time"`
}

// UpdateScheduleRequest carries partial changes; nil fields keep their value.
// An empty teacher_id unassigns the teacher.
type UpdateScheduleRequest struct {
	PeriodID  *string `json:"period_id" validate:"omitempty,min=1"`
	GroupID   *string `json:"group_id" validate:"omitempty,min=1"`
	SubjectID *string `json:"subject_id" validate:"omitempty,min=1"`
	TeacherID *string `json:"teacher_id"`
	DayOfWeek *int    `json:"day_of_week"`
	StartTime *string `json:"start_time"`
	EndTime   *string `json:"end_time"`
}

type scheduleListPage struct {
	Items []models.ScheduleDetail `json:"items"`
	Total int                     `json:"total"`
}

// ScheduleService manages the schedule lifecycle.
type ScheduleService struct {
	schedules scheduleRepository
	periods   periodReader
	groups    groupReader
	subjects  subjectReader
	teachers  teacherReader
	cache     *CacheService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewScheduleService instantiates ScheduleService. cache and metrics may be nil.
func NewScheduleService(schedules scheduleRepository, periods periodReader, groups groupReader, subjects subjectReader, teachers teacherReader, cache *CacheService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *ScheduleService {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleService{
		schedules: schedules,
		periods:   periods,
		groups:    groups,
		subjects:  subjects,
		teachers:  teachers,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// List returns the institution's schedules with pagination metadata.
func (s *ScheduleService) List(ctx context.Context, principal models.Principal, filter models.ScheduleFilter) ([]models.ScheduleDetail, *models.Pagination, error) {
	filter.InstitutionID = principal.InstitutionID
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	if filter.PageSize > 100 {
		filter.PageSize = 100
	}

	key := scheduleListKey(filter)
	var cached scheduleListPage
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return cached.Items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: cached.Total}, nil
	}

	items, total, err := s.schedules.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list schedules")
	}
	if items == nil {
		items = []models.ScheduleDetail{}
	}
	_ = s.cache.Set(ctx, key, scheduleListPage{Items: items, Total: total}, 0)

	return items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns a schedule of the caller's institution.
func (s *ScheduleService) Get(ctx context.Context, principal models.Principal, id string) (*models.ScheduleDetail, error) {
	detail, err := s.schedules.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}
	if detail.InstitutionID != principal.InstitutionID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
	}
	return detail, nil
}

// Create validates references, checks for slot conflicts and persists a new schedule
// owned by the caller's institution.
func (s *ScheduleService) Create(ctx context.Context, principal models.Principal, req CreateScheduleRequest) (*models.ScheduleDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}
	institutionID := principal.InstitutionID

	if _, err := s.loadPeriod(ctx, institutionID, req.PeriodID); err != nil {
		return nil, err
	}
	if err := s.ensureGroupInPeriod(ctx, institutionID, req.GroupID, req.PeriodID); err != nil {
		return nil, err
	}
	if err := s.ensureSubject(ctx, institutionID, req.SubjectID); err != nil {
		return nil, err
	}
	teacherID := normalizeTeacher(req.TeacherID)
	if teacherID != nil {
		if err := s.ensureTeacher(ctx, institutionID, *teacherID); err != nil {
			return nil, err
		}
	}

	schedule := models.Schedule{
		InstitutionID: institutionID,
		PeriodID:      req.PeriodID,
		GroupID:       req.GroupID,
		SubjectID:     req.SubjectID,
		TeacherID:     teacherID,
		DayOfWeek:     req.DayOfWeek,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
	}
	candidate := schedule.Candidate()
	if err := s.schedules.CreateChecked(ctx, &schedule, func(existing []models.Schedule) error {
		return ValidateSlot(candidate, existing)
	}); err != nil {
		return nil, s.writeError(err, "failed to create schedule")
	}

	s.logger.Info("schedule created",
		zap.String("schedule_id", schedule.ID),
		zap.String("group_id", schedule.GroupID),
		zap.Int("day_of_week", schedule.DayOfWeek),
		zap.String("created_by", principal.UserID))
	s.invalidate(ctx, institutionID)
	return s.Get(ctx, principal, schedule.ID)
}

// Update merges req over the stored schedule, re-validates changed references and
// re-runs conflict validation against every other slot.
func (s *ScheduleService) Update(ctx context.Context, principal models.Principal, id string, req UpdateScheduleRequest) (*models.ScheduleDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}
	existing, err := s.loadSchedule(ctx, principal, id)
	if err != nil {
		return nil, err
	}

	merged := *existing
	if req.PeriodID != nil {
		merged.PeriodID = *req.PeriodID
	}
	if req.GroupID != nil {
		merged.GroupID = *req.GroupID
	}
	if req.SubjectID != nil {
		merged.SubjectID = *req.SubjectID
	}
	if req.TeacherID != nil {
		merged.TeacherID = normalizeTeacher(req.TeacherID)
	}
	if req.DayOfWeek != nil {
		merged.DayOfWeek = *req.DayOfWeek
	}
	if req.StartTime != nil {
		merged.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		merged.EndTime = *req.EndTime
	}

	institutionID := existing.InstitutionID
	periodChanged := merged.PeriodID != existing.PeriodID
	if periodChanged {
		if _, err := s.loadPeriod(ctx, institutionID, merged.PeriodID); err != nil {
			return nil, err
		}
	}
	if periodChanged || merged.GroupID != existing.GroupID {
		if err := s.ensureGroupInPeriod(ctx, institutionID, merged.GroupID, merged.PeriodID); err != nil {
			return nil, err
		}
	}
	if merged.SubjectID != existing.SubjectID {
		if err := s.ensureSubject(ctx, institutionID, merged.SubjectID); err != nil {
			return nil, err
		}
	}
	if merged.TeacherID != nil && teacherValue(merged.TeacherID) != teacherValue(existing.TeacherID) {
		if err := s.ensureTeacher(ctx, institutionID, *merged.TeacherID); err != nil {
			return nil, err
		}
	}

	candidate := merged.Candidate()
	if err := s.schedules.UpdateChecked(ctx, &merged, func(others []models.Schedule) error {
		return ValidateSlot(candidate, others)
	}); err != nil {
		return nil, s.writeError(err, "failed to update schedule")
	}

	s.logger.Info("schedule updated", zap.String("schedule_id", id), zap.String("updated_by", principal.UserID))
	s.invalidate(ctx, institutionID)
	return s.Get(ctx, principal, id)
}

// Delete removes a schedule that has no attendance records.
func (s *ScheduleService) Delete(ctx context.Context, principal models.Principal, id string) error {
	existing, err := s.loadSchedule(ctx, principal, id)
	if err != nil {
		return err
	}
	count, err := s.schedules.CountAttendance(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check schedule attendance")
	}
	if count > 0 {
		return appErrors.Clone(appErrors.ErrValidation, "cannot delete: has attendance records")
	}
	if err := s.schedules.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete schedule")
	}
	s.logger.Info("schedule deleted", zap.String("schedule_id", id), zap.String("deleted_by", principal.UserID))
	s.invalidate(ctx, existing.InstitutionID)
	return nil
}

func (s *ScheduleService) loadSchedule(ctx context.Context, principal models.Principal, id string) (*models.Schedule, error) {
	schedule, err := s.schedules.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}
	if schedule.InstitutionID != principal.InstitutionID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
	}
	return schedule, nil
}

func (s *ScheduleService) loadPeriod(ctx context.Context, institutionID, id string) (*models.Period, error) {
	period, err := s.periods.FindByID(ctx, institutionID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "period not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load period")
	}
	return period, nil
}

func (s *ScheduleService) ensureGroupInPeriod(ctx context.Context, institutionID, groupID, periodID string) error {
	group, err := s.groups.FindByID(ctx, institutionID, groupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
	}
	if group.PeriodID != periodID {
		return appErrors.Clone(appErrors.ErrValidation, "group does not belong to the period")
	}
	return nil
}

func (s *ScheduleService) ensureSubject(ctx context.Context, institutionID, subjectID string) error {
	if _, err := s.subjects.FindByID(ctx, institutionID, subjectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	return nil
}

func (s *ScheduleService) ensureTeacher(ctx context.Context, institutionID, teacherID string) error {
	user, err := s.teachers.FindByID(ctx, teacherID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "teacher not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if user.Role != models.RoleTeacher {
		return appErrors.Clone(appErrors.ErrValidation, "assigned user is not a teacher")
	}
	if !user.Active {
		return appErrors.Clone(appErrors.ErrValidation, "teacher is inactive")
	}
	member, err := s.teachers.HasActiveMembership(ctx, teacherID, institutionID, models.RoleTeacher)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check teacher membership")
	}
	if !member {
		return appErrors.Clone(appErrors.ErrValidation, "teacher is not a member of this institution")
	}
	return nil
}

// writeError maps a failed checked write to the caller-facing error.
func (s *ScheduleService) writeError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		var conflict *models.ScheduleConflictError
		if errors.As(err, &conflict) {
			s.metrics.RecordScheduleConflict(conflict.Conflict.Dimension)
		}
		return appErr
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqExclusionViolation {
		if pqErr.Constraint == "schedules_teacher_slot_excl" {
			s.metrics.RecordScheduleConflict(models.ConflictDimensionTeacher)
			return appErrors.Clone(appErrors.ErrConflict, msgTeacherConflict)
		}
		s.metrics.RecordScheduleConflict(models.ConflictDimensionGroup)
		return appErrors.Clone(appErrors.ErrConflict, msgGroupConflict)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func (s *ScheduleService) invalidate(ctx context.Context, institutionID string) {
	_ = s.cache.Invalidate(ctx, scheduleCachePrefix(institutionID)+"*")
}

func normalizeTeacher(id *string) *string {
	if id == nil || *id == "" {
		return nil
	}
	v := *id
	return &v
}

func teacherValue(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}
