package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSender writes notifications to the log instead of delivering mail.
// It stands in for a real mail provider in development.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender returns a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the notification and always succeeds.
func (s *LogSender) Send(_ context.Context, to, subject, _ string) error {
	s.logger.Info("notification",
		zap.String("to", to),
		zap.String("subject", subject),
	)
	return nil
}
