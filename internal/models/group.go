package models

import "time"

// Group is a cohort of students sharing a timetable within one period.
type Group struct {
	ID            string    `db:"id" json:"id"`
	InstitutionID string    `db:"institution_id" json:"institution_id"`
	PeriodID      string    `db:"period_id" json:"period_id"`
	Name          string    `db:"name" json:"name"`
	Grade         string    `db:"grade" json:"grade"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// GroupMember is a student enrolled in a group, used for rosters and stats.
type GroupMember struct {
	StudentID   string  `db:"student_id" json:"student_id"`
	FullName    string  `db:"full_name" json:"full_name"`
	StudentCode *string `db:"student_code" json:"student_code,omitempty"`
}
