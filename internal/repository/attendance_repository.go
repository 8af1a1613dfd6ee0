package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-attendance-api/internal/models"
)

const attendanceColumns = "id, schedule_id, student_id, teacher_id, institution_id, date, status, observation, created_at, updated_at"

// AttendanceRepository persists per-schedule attendance records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// FindByID loads a record by id.
func (r *AttendanceRepository) FindByID(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, "SELECT "+attendanceColumns+" FROM attendance_records WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &record, nil
}

// FindDetailByID loads a record with its student and schedule summary.
func (r *AttendanceRepository) FindDetailByID(ctx context.Context, id string) (*models.AttendanceRecordDetail, error) {
	const query = `SELECT ar.id, ar.schedule_id, ar.student_id, ar.teacher_id, ar.institution_id, ar.date, ar.status, ar.observation, ar.created_at, ar.updated_at,
       u.full_name AS student_name, u.student_code, s.group_id, g.name AS group_name, sub.name AS subject_name, s.day_of_week, s.start_time, s.end_time
FROM attendance_records ar
JOIN users u ON u.id = ar.student_id
JOIN schedules s ON s.id = ar.schedule_id
JOIN class_groups g ON g.id = s.group_id
JOIN subjects sub ON sub.id = s.subject_id
WHERE ar.id = $1`
	var detail models.AttendanceRecordDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Exists reports whether the student already has a record for the schedule on date.
func (r *AttendanceRepository) Exists(ctx context.Context, scheduleID, studentID string, date time.Time) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM attendance_records WHERE schedule_id = $1 AND student_id = $2 AND date = $3)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, scheduleID, studentID, date); err != nil {
		return false, fmt.Errorf("check attendance record: %w", err)
	}
	return exists, nil
}

// Create inserts the record unless one already exists for the same schedule, student and date.
// It returns false without error when the unique key was already taken.
func (r *AttendanceRepository) Create(ctx context.Context, record *models.AttendanceRecord) (bool, error) {
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	const query = `INSERT INTO attendance_records (` + attendanceColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (schedule_id, student_id, date) DO NOTHING RETURNING id`
	var insertedID string
	err := r.db.QueryRowxContext(ctx, query, record.ID, record.ScheduleID, record.StudentID, record.TeacherID, record.InstitutionID,
		record.Date, record.Status, record.Observation, record.CreatedAt, record.UpdatedAt).Scan(&insertedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("create attendance record: %w", err)
	}
	return true, nil
}

// Update persists status and observation changes.
func (r *AttendanceRepository) Update(ctx context.Context, record *models.AttendanceRecord) error {
	record.UpdatedAt = time.Now().UTC()
	const query = `UPDATE attendance_records SET status = :status, observation = :observation, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("update attendance record: %w", err)
	}
	return nil
}

// CountByStatus aggregates the schedule's records for one date.
func (r *AttendanceRepository) CountByStatus(ctx context.Context, scheduleID string, date time.Time) ([]models.AttendanceStatusCount, error) {
	const query = `SELECT status, COUNT(*) AS count FROM attendance_records WHERE schedule_id = $1 AND date = $2 GROUP BY status`
	var counts []models.AttendanceStatusCount
	if err := r.db.SelectContext(ctx, &counts, query, scheduleID, date); err != nil {
		return nil, fmt.Errorf("count attendance by status: %w", err)
	}
	return counts, nil
}

// Roster lists every member of the group with their record for the schedule on date.
func (r *AttendanceRepository) Roster(ctx context.Context, scheduleID, groupID string, date time.Time) ([]models.RosterEntry, error) {
	const query = `SELECT u.id AS student_id, u.full_name, u.student_code, ar.id AS record_id, ar.status, ar.observation
FROM group_memberships gm
JOIN users u ON u.id = gm.student_id
LEFT JOIN attendance_records ar ON ar.student_id = gm.student_id AND ar.schedule_id = $1 AND ar.date = $3
WHERE gm.group_id = $2
ORDER BY u.full_name ASC`
	var entries []models.RosterEntry
	if err := r.db.SelectContext(ctx, &entries, query, scheduleID, groupID, date); err != nil {
		return nil, fmt.Errorf("attendance roster: %w", err)
	}
	return entries, nil
}

// NotificationContext loads what a guardian notification needs for a record.
func (r *AttendanceRepository) NotificationContext(ctx context.Context, recordID string) (*models.AttendanceNotification, error) {
	const query = `SELECT ar.id AS record_id, ar.status, ar.date, u.full_name AS student_name, u.guardian_name, u.guardian_email, u.guardian_phone,
       sub.name AS subject_name, s.start_time
FROM attendance_records ar
JOIN users u ON u.id = ar.student_id
JOIN schedules s ON s.id = ar.schedule_id
JOIN subjects sub ON sub.id = s.subject_id
WHERE ar.id = $1`
	var notification models.AttendanceNotification
	if err := r.db.GetContext(ctx, &notification, query, recordID); err != nil {
		return nil, err
	}
	return &notification, nil
}
