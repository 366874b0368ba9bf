// internal/usecase/scheduler_service.go
package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"release-orchestrator/internal/domain"
	"release-orchestrator/internal/metrics"
)

const campaignRetryDelay = 5 * time.Second

// SchedulerService runs the scheduler loop on the elected leader only.
type SchedulerService struct {
	leaderManager domain.LeaderElectionManager
	schedular     domain.Schedular
	nodeID        string
	retryDelay    time.Duration
	logger        *slog.Logger
}

// NewSchedulerService creates the service. With a nil leaderManager the loop
// runs unconditionally on this node.
func NewSchedulerService(leaderManager domain.LeaderElectionManager, schedular domain.Schedular, nodeID string, logger *slog.Logger) *SchedulerService {
	return &SchedulerService{
		leaderManager: leaderManager,
		schedular:     schedular,
		nodeID:        nodeID,
		retryDelay:    campaignRetryDelay,
		logger:        logger.With("component", "scheduler-service", "node_id", nodeID),
	}
}

// Start blocks until ctx is done.
func (s *SchedulerService) Start(ctx context.Context) error {
	s.logger.Info("scheduler service starting")

	if s.leaderManager == nil {
		metrics.IsLeader.WithLabelValues(s.nodeID).Set(1)
		defer metrics.IsLeader.WithLabelValues(s.nodeID).Set(0)
		return s.schedular.Start(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler service shutting down")
			return ctx.Err()
		default:
		}

		s.logger.Info("attempting to campaign for leadership")
		lostLeadershipCh, err := s.leaderManager.Campaign(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("error during leadership campaign, retrying", "error", err, "retry_in", s.retryDelay)
			select {
			case <-time.After(s.retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		s.logger.Info("became the leader, starting the scheduler")
		metrics.IsLeader.WithLabelValues(s.nodeID).Set(1)
		err = s.lead(ctx, lostLeadershipCh)
		metrics.IsLeader.WithLabelValues(s.nodeID).Set(0)

		resignCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.retryDelay)
		if rerr := s.leaderManager.Resign(resignCtx); rerr != nil {
			s.logger.Warn("failed to resign leadership", "error", rerr)
		}
		cancel()

		if ctx.Err() != nil {
			s.logger.Info("scheduler service shutting down")
			return ctx.Err()
		}
		s.logger.Warn("scheduler stopped leading, campaigning again", "error", err)
	}
}

// lead runs the scheduler until leadership is lost or ctx is done.
func (s *SchedulerService) lead(ctx context.Context, lost <-chan struct{}) error {
	leaderCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.schedular.Start(leaderCtx)
	}()

	select {
	case <-lost:
		cancel()
		<-done
		return errors.New("leadership session expired")
	case err := <-done:
		return err
	}
}
