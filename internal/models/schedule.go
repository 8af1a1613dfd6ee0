package models

import "time"

// Schedule is one weekly recurring class slot.
// DayOfWeek runs 1 (Monday) through 7 (Sunday); times are zero-padded "HH:MM".
type Schedule struct {
	ID            string    `db:"id" json:"id"`
	InstitutionID string    `db:"institution_id" json:"institution_id"`
	PeriodID      string    `db:"period_id" json:"period_id"`
	GroupID       string    `db:"group_id" json:"group_id"`
	SubjectID     string    `db:"subject_id" json:"subject_id"`
	TeacherID     *string   `db:"teacher_id" json:"teacher_id"`
	DayOfWeek     int       `db:"day_of_week" json:"day_of_week"`
	StartTime     string    `db:"start_time" json:"start_time"`
	EndTime       string    `db:"end_time" json:"end_time"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Candidate returns the slot view of a persisted schedule.
func (s Schedule) Candidate() SlotCandidate {
	return SlotCandidate{
		ID:        s.ID,
		GroupID:   s.GroupID,
		TeacherID: s.TeacherID,
		DayOfWeek: s.DayOfWeek,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
	}
}

// ScheduleDetail resolves referenced entity names for responses.
type ScheduleDetail struct {
	Schedule
	PeriodName   string  `db:"period_name" json:"period_name"`
	PeriodActive bool    `db:"period_active" json:"period_active"`
	GroupName    string  `db:"group_name" json:"group_name"`
	SubjectName  string  `db:"subject_name" json:"subject_name"`
	TeacherName  *string `db:"teacher_name" json:"teacher_name,omitempty"`
}

// SlotCandidate is a proposed slot submitted to conflict validation.
// ID is empty for new slots.
type SlotCandidate struct {
	ID        string
	GroupID   string
	TeacherID *string
	DayOfWeek int
	StartTime string
	EndTime   string
}

// HasTeacher reports whether a teacher is assigned.
func (c SlotCandidate) HasTeacher() bool {
	return c.TeacherID != nil && *c.TeacherID != ""
}

// ScheduleFilter describes query params for listing schedules.
type ScheduleFilter struct {
	InstitutionID string
	PeriodID      string
	GroupID       string
	SubjectID     string
	TeacherID     string
	DayOfWeek     int
	Page          int
	PageSize      int
}

// Conflict dimensions.
const (
	ConflictDimensionGroup   = "GROUP"
	ConflictDimensionTeacher = "TEACHER"
)

// ScheduleConflict describes an existing schedule that causes a conflict.
type ScheduleConflict struct {
	ScheduleID string  `json:"schedule_id"`
	GroupID    string  `json:"group_id"`
	TeacherID  *string `json:"teacher_id,omitempty"`
	DayOfWeek  int     `json:"day_of_week"`
	StartTime  string  `json:"start_time"`
	EndTime    string  `json:"end_time"`
	Dimension  string  `json:"dimension"`
}

// ScheduleConflictError is returned when a schedule collides with an existing one.
type ScheduleConflictError struct {
	Message  string           `json:"message"`
	Conflict ScheduleConflict `json:"conflict"`
}

// Error implements the error interface for conflict errors.
func (e *ScheduleConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}
