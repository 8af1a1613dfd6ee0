package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes messages to the application log. Used when no provider is configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender builds a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send logs the message.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	for _, to := range msg.To {
		s.logger.Info("notification",
			zap.String("to_email", to.Email),
			zap.String("to_phone", to.Phone),
			zap.String("subject", msg.Subject),
			zap.String("body", msg.Text),
		)
	}
	return nil
}
