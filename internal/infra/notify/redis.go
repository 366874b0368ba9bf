// internal/infra/notify/redis.go

// Package notify delivers owner and channel notifications.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"release-orchestrator/internal/domain"

	"github.com/redis/go-redis/v9"
)

const DefaultStream = "releaser:notifications"

// StreamAdder is the part of the redis client the notifier uses.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisNotifier appends notifications to a redis stream consumed by the
// chat bridge.
type RedisNotifier struct {
	client StreamAdder
	stream string
	maxLen int64
	now    func() time.Time
	logger *slog.Logger
}

var _ domain.Notifier = (*RedisNotifier)(nil)

func NewRedisNotifier(client StreamAdder, stream string, logger *slog.Logger) *RedisNotifier {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisNotifier{
		client: client,
		stream: stream,
		maxLen: 10000,
		now:    time.Now,
		logger: logger.With("component", "redis-notifier"),
	}
}

// NewRedisClient connects to redisURL and checks the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (n *RedisNotifier) Notify(ctx context.Context, msg domain.Notification) error {
	args := &redis.XAddArgs{
		Stream: n.stream,
		MaxLen: n.maxLen,
		Approx: true,
		Values: map[string]any{
			"channel":     msg.Channel,
			"owner_slack": msg.Owner.Slack,
			"owner_mail":  msg.Owner.Mail,
			"test_name":   msg.TestName,
			"status":      string(msg.Status),
			"message":     msg.Message,
			"sent_at":     n.now().UTC().Format(time.RFC3339Nano),
		},
	}

	id, err := n.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to publish notification to %s: %w", n.stream, err)
	}
	n.logger.Debug("published notification", "stream", n.stream, "msg_id", id, "test_name", msg.TestName)
	return nil
}
