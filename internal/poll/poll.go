// internal/poll/poll.go

// Package poll implements the fixed-cadence wait loop shared by the build,
// session and command waits.
package poll

import (
	"context"
	"log/slog"
	"time"

	"release-orchestrator/internal/domain"
)

const (
	DefaultInterval    = time.Second
	DefaultReportEvery = 30 * time.Second
)

// Config is the cadence of a wait loop.
type Config struct {
	Interval    time.Duration
	ReportEvery time.Duration
}

// Defaults fills zero fields.
func (c Config) Defaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.ReportEvery <= 0 {
		c.ReportEvery = DefaultReportEvery
	}
	return c
}

// CheckFunc reports whether the awaited condition holds. A non-nil error ends
// the wait as Failed.
type CheckFunc func(ctx context.Context) (bool, error)

// Until calls check once per interval until it reports done, fails, or ctx is
// cancelled. Cancellation is checked at the top of every iteration. A progress
// line is logged every ReportEvery.
func Until(ctx context.Context, cfg Config, logger *slog.Logger, what string, check CheckFunc) domain.WaitOutcome {
	cfg = cfg.Defaults()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	start := time.Now()
	nextReport := start.Add(cfg.ReportEvery)
	for {
		if err := ctx.Err(); err != nil {
			return domain.TimedOut(err)
		}

		if now := time.Now(); now.After(nextReport) {
			logger.Info("still waiting", "for", what, "elapsed_seconds", int(now.Sub(start).Seconds()))
			nextReport = nextReport.Add(cfg.ReportEvery)
		}

		done, err := check(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return domain.TimedOut(ctx.Err())
			}
			return domain.Failed(err)
		}
		if done {
			return domain.Ready()
		}

		select {
		case <-ctx.Done():
			return domain.TimedOut(ctx.Err())
		case <-ticker.C:
		}
	}
}
