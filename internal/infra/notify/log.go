// internal/infra/notify/log.go
package notify

import (
	"context"
	"log/slog"

	"release-orchestrator/internal/domain"
)

// LogNotifier writes notifications to the log. It is used when no redis URL
// is configured.
type LogNotifier struct {
	logger *slog.Logger
}

var _ domain.Notifier = (*LogNotifier)(nil)

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "log-notifier")}
}

func (n *LogNotifier) Notify(_ context.Context, msg domain.Notification) error {
	n.logger.Info("notification",
		"channel", msg.Channel,
		"owner_slack", msg.Owner.Slack,
		"owner_mail", msg.Owner.Mail,
		"test_name", msg.TestName,
		"status", msg.Status,
		"message", msg.Message,
	)
	return nil
}
