package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-attendance-api/internal/models"
)

const scheduleColumns = `id, institution_id, period_id, group_id, subject_id, teacher_id, day_of_week, start_time, end_time, created_at, updated_at`

const scheduleDetailSelect = `SELECT s.id, s.institution_id, s.period_id, s.group_id, s.subject_id, s.teacher_id, s.day_of_week, s.start_time, s.end_time, s.created_at, s.updated_at,
       p.name AS period_name, p.is_active AS period_active, g.name AS group_name, sub.name AS subject_name, u.full_name AS teacher_name
FROM schedules s
JOIN periods p ON p.id = s.period_id
JOIN class_groups g ON g.id = s.group_id
JOIN subjects sub ON sub.id = s.subject_id
LEFT JOIN users u ON u.id = s.teacher_id`

// ScheduleRepository provides persistence for schedules.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// List returns schedules with optional filtering and pagination.
func (r *ScheduleRepository) List(ctx context.Context, filter models.ScheduleFilter) ([]models.ScheduleDetail, int, error) {
	conditions := []string{"s.institution_id = $1"}
	args := []interface{}{filter.InstitutionID}

	if filter.PeriodID != "" {
		conditions = append(conditions, fmt.Sprintf("s.period_id = $%d", len(args)+1))
		args = append(args, filter.PeriodID)
	}
	if filter.GroupID != "" {
		conditions = append(conditions, fmt.Sprintf("s.group_id = $%d", len(args)+1))
		args = append(args, filter.GroupID)
	}
	if filter.SubjectID != "" {
		conditions = append(conditions, fmt.Sprintf("s.subject_id = $%d", len(args)+1))
		args = append(args, filter.SubjectID)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("s.teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.DayOfWeek != 0 {
		conditions = append(conditions, fmt.Sprintf("s.day_of_week = $%d", len(args)+1))
		args = append(args, filter.DayOfWeek)
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("%s%s ORDER BY s.day_of_week ASC, s.start_time ASC LIMIT %d OFFSET %d", scheduleDetailSelect, where, size, offset)
	var schedules []models.ScheduleDetail
	if err := r.db.SelectContext(ctx, &schedules, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list schedules: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM schedules s"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count schedules: %w", err)
	}

	return schedules, total, nil
}

// FindByID loads a schedule by id.
func (r *ScheduleRepository) FindByID(ctx context.Context, id string) (*models.Schedule, error) {
	var sched models.Schedule
	if err := r.db.GetContext(ctx, &sched, `SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &sched, nil
}

// FindDetailByID loads a schedule with its period, group, subject and teacher names.
func (r *ScheduleRepository) FindDetailByID(ctx context.Context, id string) (*models.ScheduleDetail, error) {
	var detail models.ScheduleDetail
	if err := r.db.GetContext(ctx, &detail, scheduleDetailSelect+` WHERE s.id = $1`, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// CreateChecked inserts the schedule once check accepts the current same-day slots
// sharing its group or teacher.
// The read and the insert share a transaction holding advisory locks on the
// (group, day) and (teacher, day) keys, so concurrent writers to the same keys serialise.
func (r *ScheduleRepository) CreateChecked(ctx context.Context, schedule *models.Schedule, check func(existing []models.Schedule) error) error {
	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}
	schedule.UpdatedAt = now

	return r.withSlotLock(ctx, schedule, check, func(tx *sqlx.Tx) error {
		const query = `INSERT INTO schedules (` + scheduleColumns + `) VALUES (:id, :institution_id, :period_id, :group_id, :subject_id, :teacher_id, :day_of_week, :start_time, :end_time, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, query, schedule); err != nil {
			return fmt.Errorf("create schedule: %w", err)
		}
		return nil
	})
}

// UpdateChecked persists the schedule once check accepts the current same-day slots,
// excluding the schedule itself.
func (r *ScheduleRepository) UpdateChecked(ctx context.Context, schedule *models.Schedule, check func(existing []models.Schedule) error) error {
	schedule.UpdatedAt = time.Now().UTC()

	return r.withSlotLock(ctx, schedule, check, func(tx *sqlx.Tx) error {
		const query = `UPDATE schedules SET period_id = :period_id, group_id = :group_id, subject_id = :subject_id, teacher_id = :teacher_id, day_of_week = :day_of_week, start_time = :start_time, end_time = :end_time, updated_at = :updated_at WHERE id = :id`
		if _, err := tx.NamedExecContext(ctx, query, schedule); err != nil {
			return fmt.Errorf("update schedule: %w", err)
		}
		return nil
	})
}

// Delete removes a schedule by id.
func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}

// CountAttendance returns how many attendance records reference the schedule.
func (r *ScheduleRepository) CountAttendance(ctx context.Context, id string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM attendance_records WHERE schedule_id = $1`, id); err != nil {
		return 0, fmt.Errorf("count schedule attendance: %w", err)
	}
	return count, nil
}

func (r *ScheduleRepository) withSlotLock(ctx context.Context, schedule *models.Schedule, check func(existing []models.Schedule) error, write func(tx *sqlx.Tx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schedule transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, key := range slotLockKeys(schedule) {
		if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("lock schedule slot %s: %w", key, err)
		}
	}

	var existing []models.Schedule
	const query = `SELECT ` + scheduleColumns + ` FROM schedules WHERE day_of_week = $1 AND id <> $2 AND (group_id = $3 OR teacher_id = $4) ORDER BY start_time ASC`
	if err = tx.SelectContext(ctx, &existing, query, schedule.DayOfWeek, schedule.ID, schedule.GroupID, schedule.TeacherID); err != nil {
		return fmt.Errorf("load same-day schedules: %w", err)
	}

	if err = check(existing); err != nil {
		return err
	}
	if err = write(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit schedule transaction: %w", err)
	}
	return nil
}

// slotLockKeys returns the advisory lock keys in a stable order to avoid lock-order deadlocks.
func slotLockKeys(schedule *models.Schedule) []string {
	keys := []string{fmt.Sprintf("schedule:group:%s:%d", schedule.GroupID, schedule.DayOfWeek)}
	if schedule.TeacherID != nil && *schedule.TeacherID != "" {
		keys = append(keys, fmt.Sprintf("schedule:teacher:%s:%d", *schedule.TeacherID, schedule.DayOfWeek))
	}
	sort.Strings(keys)
	return keys
}
