package models

import "time"

// AttendanceStatus represents the status for attendance records.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "PRESENT"
	AttendanceStatusAbsent  AttendanceStatus = "ABSENT"
	AttendanceStatusLate    AttendanceStatus = "LATE"
	AttendanceStatusExcused AttendanceStatus = "EXCUSED"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusAbsent, AttendanceStatusLate, AttendanceStatusExcused:
		return true
	default:
		return false
	}
}

// AttendanceRecord is one row per (student, schedule, calendar day).
// Date is always stored as UTC midnight.
type AttendanceRecord struct {
	ID            string           `db:"id" json:"id"`
	ScheduleID    string           `db:"schedule_id" json:"schedule_id"`
	StudentID     string           `db:"student_id" json:"student_id"`
	TeacherID     string           `db:"teacher_id" json:"teacher_id"`
	InstitutionID string           `db:"institution_id" json:"institution_id"`
	Date          time.Time        `db:"date" json:"date"`
	Status        AttendanceStatus `db:"status" json:"status"`
	Observation   *string          `db:"observation" json:"observation,omitempty"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updated_at"`
}

// AttendanceRecordDetail attaches student and schedule summaries to a record.
type AttendanceRecordDetail struct {
	AttendanceRecord
	StudentName string  `db:"student_name" json:"student_name"`
	StudentCode *string `db:"student_code" json:"student_code,omitempty"`
	GroupID     string  `db:"group_id" json:"group_id"`
	GroupName   string  `db:"group_name" json:"group_name"`
	SubjectName string  `db:"subject_name" json:"subject_name"`
	DayOfWeek   int     `db:"day_of_week" json:"day_of_week"`
	StartTime   string  `db:"start_time" json:"start_time"`
	EndTime     string  `db:"end_time" json:"end_time"`
}

// AttendanceStats summarises a schedule's attendance for one day.
type AttendanceStats struct {
	ScheduleID   string    `json:"schedule_id"`
	Date         time.Time `json:"date"`
	Total        int       `json:"total"`
	Present      int       `json:"present"`
	Absent       int       `json:"absent"`
	Late         int       `json:"late"`
	Excused      int       `json:"excused"`
	Unregistered int       `json:"unregistered"`
}

// AttendanceStatusCount is one aggregate row of status counts.
type AttendanceStatusCount struct {
	Status AttendanceStatus `db:"status"`
	Count  int              `db:"count"`
}

// RosterEntry is a group member with their status for a day. Status is nil when
// no record exists.
type RosterEntry struct {
	StudentID   string            `db:"student_id" json:"student_id"`
	FullName    string            `db:"full_name" json:"full_name"`
	StudentCode *string           `db:"student_code" json:"student_code,omitempty"`
	RecordID    *string           `db:"record_id" json:"record_id,omitempty"`
	Status      *AttendanceStatus `db:"status" json:"status,omitempty"`
	Observation *string           `db:"observation" json:"observation,omitempty"`
}

// AttendanceNotification is the context needed to tell a guardian about a record.
type AttendanceNotification struct {
	RecordID      string           `db:"record_id"`
	Status        AttendanceStatus `db:"status"`
	Date          time.Time        `db:"date"`
	StudentName   string           `db:"student_name"`
	GuardianName  *string          `db:"guardian_name"`
	GuardianEmail *string          `db:"guardian_email"`
	GuardianPhone *string          `db:"guardian_phone"`
	SubjectName   string           `db:"subject_name"`
	StartTime     string           `db:"start_time"`
}
