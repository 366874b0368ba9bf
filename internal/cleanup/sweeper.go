// internal/cleanup/sweeper.go
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"release-orchestrator/internal/domain"
	"release-orchestrator/internal/metrics"
	"release-orchestrator/internal/session"
	"release-orchestrator/internal/sessionname"
	"release-orchestrator/internal/testtype"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config is the immutable configuration of a Sweeper.
type Config struct {
	ProjectID string
	// Bucket receives post-processed results when uploads are enabled.
	Bucket string
}

// Sweeper finds completed and stale sessions of a test type, reports on the
// completed ones and terminates both.
type Sweeper struct {
	cfg      Config
	scan     domain.ScanAPI
	sessions *session.Manager
	registry *testtype.Registry
	store    domain.ObjectStore
	notifier domain.Notifier
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewSweeper creates a Sweeper. store may be nil when uploads are disabled.
func NewSweeper(provider domain.Provider, sessions *session.Manager, registry *testtype.Registry, store domain.ObjectStore, notifier domain.Notifier, cfg Config, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		cfg:      cfg,
		scan:     provider,
		sessions: sessions,
		registry: registry,
		store:    store,
		notifier: notifier,
		logger:   logger.With("component", "cleanup-sweeper"),
		tracer:   otel.Tracer("release-orchestrator-cleanup"),
		now:      time.Now,
	}
}

// Clean runs both sweeps for testType. A failing completed-session sweep
// stops the clean before the stale sweep.
func (s *Sweeper) Clean(ctx context.Context, testType string, opts domain.ReportOptions) error {
	if err := s.CleanupCompleted(ctx, testType, opts); err != nil {
		return err
	}
	return s.ForceTerminateOld(ctx, testType)
}

// CleanupCompleted post-processes and terminates every session of testType
// whose commands all finished. The first update or stop failure is reported
// to the channel and aborts the sweep.
func (s *Sweeper) CleanupCompleted(ctx context.Context, testType string, opts domain.ReportOptions) error {
	ctx, span := s.tracer.Start(ctx, "cleanup.CleanupCompleted", trace.WithAttributes(attribute.String("test.type", testType)))
	defer span.End()

	sessions, err := s.sessionsOf(ctx, testType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list sessions")
		return err
	}

	s.logger.Info("scanning for completed sessions", "test_type", testType, "candidates", len(sessions))
	for _, ses := range sessions {
		if !ses.status.Completed() {
			continue
		}

		s.logger.Info("updating result of completed session", "session_name", ses.status.Name)
		if err := s.update(ctx, ses.status, ses.name, opts); err != nil {
			err = fmt.Errorf("failed to update session %s: %w", ses.status.Name, err)
			s.reportFailure(ctx, testType, ses.status.Name, "updating the test result", err, opts)
			span.RecordError(err)
			span.SetStatus(codes.Error, "update failed")
			return err
		}

		if err := s.sessions.Stop(ctx, ses.status.ID, true); err != nil {
			s.reportFailure(ctx, testType, ses.status.Name, "stopping the session", err, opts)
			span.RecordError(err)
			span.SetStatus(codes.Error, "stop failed")
			return err
		}
		metrics.SessionsTerminated.WithLabelValues(testType, "completed").Inc()
	}
	return nil
}

// ForceTerminateOld terminates every session of testType older than the
// expected duration of the type, whether or not its commands finished. An
// unparsable age aborts the sweep.
func (s *Sweeper) ForceTerminateOld(ctx context.Context, testType string) error {
	ctx, span := s.tracer.Start(ctx, "cleanup.ForceTerminateOld", trace.WithAttributes(attribute.String("test.type", testType)))
	defer span.End()

	kind, err := testtype.Lookup(testType)
	if err != nil {
		return err
	}
	sessions, err := s.sessionsOf(ctx, testType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list sessions")
		return err
	}

	budget := kind.ExpectedDuration.Hours()
	for _, ses := range sessions {
		age, err := ParseAge(ses.status.CreatedAt)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to parse session age")
			return fmt.Errorf("failed to parse age of session %s: %w", ses.status.Name, err)
		}
		if age <= budget {
			continue
		}

		s.logger.Warn("force terminating old session", "session_name", ses.status.Name, "age_hours", age, "budget_hours", budget)
		if err := s.sessions.Stop(ctx, ses.status.ID, true); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to terminate old session")
			return err
		}
		metrics.SessionsTerminated.WithLabelValues(testType, "old").Inc()
	}
	return nil
}

// UpdateByName post-processes the named session.
func (s *Sweeper) UpdateByName(ctx context.Context, name string, opts domain.ReportOptions) error {
	parsed, err := sessionname.Parse(name)
	if err != nil {
		return err
	}
	all, err := s.scan.ListSessions(ctx, s.cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	for _, status := range all {
		if status.Name == name {
			return s.update(ctx, status, parsed, opts)
		}
	}
	return fmt.Errorf("%s: %w", name, domain.ErrSessionNotFound)
}

// update processes the logs of a session with its test type controller,
// writes the report file, uploads it and posts the report. Upload and
// notification failures are logged only.
func (s *Sweeper) update(ctx context.Context, status domain.SessionStatus, name sessionname.Name, opts domain.ReportOptions) error {
	controller, err := s.registry.Controller(name.TestType)
	if err != nil {
		return err
	}
	rc := testtype.FromSessionName(name)

	logs, err := s.scan.GetSessionLogs(ctx, status.ID)
	if err != nil {
		return fmt.Errorf("failed to download session logs: %w", err)
	}

	results := controller.ProcessLogs(strings.Split(logs, "\n"))
	at := s.now()
	report := controller.GenerateReport(rc, results, at)

	file, err := controller.WriteResult(rc, results)
	if err != nil {
		return err
	}

	if opts.Upload && s.store != nil {
		if _, err := s.store.Put(ctx, file, s.cfg.Bucket, ResultKey(name, at)); err != nil {
			s.logger.Error("result upload has failed", "session_name", status.Name, "error", err)
		}
	}
	if opts.Notify {
		n := domain.Notification{Channel: opts.Channel, TestName: name.TestType, Message: report}
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.Error("report notification has failed", "session_name", status.Name, "error", err)
		}
	}
	return nil
}

func (s *Sweeper) reportFailure(ctx context.Context, testType, sessionName, action string, cause error, opts domain.ReportOptions) {
	msg := fmt.Sprintf("Error while %s.\nTest type: %s\nSession Name: %s\nError Message: %v", action, testType, sessionName, cause)
	s.logger.Error("cleanup sweep failed", "test_type", testType, "session_name", sessionName, "error", cause)
	if err := s.notifier.Notify(ctx, domain.Notification{Channel: opts.Channel, TestName: testType, Message: msg}); err != nil {
		s.logger.Error("failed to send failure notification", "error", err)
	}
}

type typedSession struct {
	status domain.SessionStatus
	name   sessionname.Name
}

// sessionsOf lists the live sessions whose name decodes to testType.
func (s *Sweeper) sessionsOf(ctx context.Context, testType string) ([]typedSession, error) {
	all, err := s.scan.ListSessions(ctx, s.cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var out []typedSession
	for _, status := range all {
		if status.Status == string(domain.SessionTerminated) {
			continue
		}
		name, err := sessionname.Parse(status.Name)
		if err != nil {
			if !errors.Is(err, domain.ErrInvalidSessionName) {
				return nil, err
			}
			s.logger.Debug("skipping session with foreign name", "session_name", status.Name)
			continue
		}
		if name.TestType != testType {
			continue
		}
		out = append(out, typedSession{status: status, name: name})
	}
	return out, nil
}

// ResultKey is the object key of a post-processed result.
func ResultKey(name sessionname.Name, at time.Time) string {
	return fmt.Sprintf("%s/time=%s/session_id=%s/commit=%s/branch=%s/version=%s",
		name.TestType, at.Format(testtype.ReportTimeLayout), name.ID, name.Commit, name.Branch, name.Version)
}
