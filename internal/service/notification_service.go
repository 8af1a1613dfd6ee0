package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-api/internal/models"
	"github.com/noah-isme/sma-attendance-api/pkg/jobs"
	"github.com/noah-isme/sma-attendance-api/pkg/notify"
)

const (
	jobTypeAttendanceCreated = "attendance.created"
	notificationTimeout      = 15 * time.Second
)

type notificationRepository interface {
	NotificationContext(ctx context.Context, recordID string) (*models.AttendanceNotification, error)
}

// NotificationService tells guardians about new attendance records through a background queue.
type NotificationService struct {
	repo    notificationRepository
	sender  notify.Sender
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService wires the queue handler. Call Start before registering attendance.
func NewNotificationService(repo notificationRepository, sender notify.Sender, cfg jobs.QueueConfig, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{repo: repo, sender: sender, metrics: metrics, logger: logger}
	cfg.Logger = logger
	svc.queue = jobs.NewQueue("attendance-notifications", svc.handle, cfg)
	return svc
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop waits for in-flight deliveries and drops whatever is still buffered.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// NotifyAttendanceCreated queues a guardian notification without blocking.
func (s *NotificationService) NotifyAttendanceCreated(ctx context.Context, recordID string) error {
	if err := s.queue.Enqueue(jobs.Job{ID: recordID, Type: jobTypeAttendanceCreated, Payload: recordID}); err != nil {
		s.metrics.RecordNotification("dropped")
		return err
	}
	return nil
}

func (s *NotificationService) handle(ctx context.Context, job jobs.Job) error {
	recordID, ok := job.Payload.(string)
	if !ok {
		return fmt.Errorf("unexpected payload %T for job %s", job.Payload, job.ID)
	}
	ctx, cancel := context.WithTimeout(ctx, notificationTimeout)
	defer cancel()

	info, err := s.repo.NotificationContext(ctx, recordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordNotification("skipped")
			return nil
		}
		return fmt.Errorf("load notification context: %w", err)
	}

	msg := attendanceMessage(info)
	if len(msg.To) == 0 {
		s.metrics.RecordNotification("skipped")
		s.logger.Debug("no guardian contact", zap.String("record_id", recordID))
		return nil
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		if errors.Is(err, notify.ErrNoRecipients) {
			s.metrics.RecordNotification("skipped")
			return nil
		}
		s.metrics.RecordNotification("failed")
		return fmt.Errorf("send attendance notification: %w", err)
	}
	s.metrics.RecordNotification("sent")
	return nil
}

func attendanceMessage(info *models.AttendanceNotification) notify.Message {
	recipient := notify.Recipient{
		Name:  derefString(info.GuardianName),
		Email: derefString(info.GuardianEmail),
		Phone: derefString(info.GuardianPhone),
	}
	msg := notify.Message{
		Subject: fmt.Sprintf("Attendance: %s - %s", info.StudentName, info.SubjectName),
		Text: fmt.Sprintf("%s was marked %s for %s (%s) on %s.",
			info.StudentName, info.Status, info.SubjectName, info.StartTime, info.Date.Format("2006-01-02")),
	}
	if recipient.Email != "" || recipient.Phone != "" {
		msg.To = []notify.Recipient{recipient}
	}
	return msg
}
