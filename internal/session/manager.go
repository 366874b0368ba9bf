// internal/session/manager.go
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"release-orchestrator/internal/domain"
	"release-orchestrator/internal/poll"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Manager owns session start, stop and terminate transitions. It never
// imposes a timeout of its own; the caller's context bounds every wait.
type Manager struct {
	api    domain.SessionAPI
	poll   poll.Config
	logger *slog.Logger
	tracer trace.Tracer
}

// NewManager creates a session Manager.
func NewManager(api domain.SessionAPI, cfg poll.Config, logger *slog.Logger) *Manager {
	return &Manager{
		api:    api,
		poll:   cfg.Defaults(),
		logger: logger.With("component", "session-manager"),
		tracer: otel.Tracer("release-orchestrator-session"),
	}
}

// FindRunning returns the id of a running session with the given name, or ""
// if there is none. Only the first search hit is considered.
func (m *Manager) FindRunning(ctx context.Context, projectID, name string) (string, error) {
	ctx, span := m.tracer.Start(ctx, "session.FindRunning", trace.WithAttributes(attribute.String("session.name", name)))
	defer span.End()

	m.logger.Info("looking for existing session", "session_name", name)
	results, err := m.api.SearchSessions(ctx, projectID, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to search sessions")
		return "", fmt.Errorf("failed to search sessions named %s: %w", name, err)
	}
	if len(results) > 0 && results[0].State == string(domain.SessionRunning) {
		m.logger.Info("found existing session", "session_name", name, "session_id", results[0].ID)
		return results[0].ID, nil
	}
	return "", nil
}

// CreateAndAwaitReady creates and starts a session and waits for the start
// operation to complete. When the session was created but never became
// ready, the handle is returned together with the error so the caller can
// tear it down.
func (m *Manager) CreateAndAwaitReady(ctx context.Context, opts domain.SessionOptions) (*domain.SessionHandle, error) {
	ctx, span := m.tracer.Start(ctx, "session.CreateAndAwaitReady", trace.WithAttributes(attribute.String("session.name", opts.Name)))
	defer span.End()

	logger := m.logger.With("session_name", opts.Name)
	logger.Info("creating session", "uses_app_config", opts.UsesAppConfig)

	id, err := m.api.CreateSession(ctx, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create session")
		return nil, fmt.Errorf("failed to create session %s: %w", opts.Name, err)
	}
	handle := &domain.SessionHandle{ID: id, Name: opts.Name, State: domain.SessionCreating}
	span.SetAttributes(attribute.String("session.id", id))

	logger.Info("starting session", "session_id", id)
	op, err := m.api.StartSession(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start session")
		return handle, fmt.Errorf("failed to start session %s: %w", opts.Name, err)
	}

	if !op.Completed {
		logger.Info("waiting for session to become ready", "operation_id", op.ID)
		outcome := poll.Until(ctx, m.poll, logger, "session "+opts.Name, func(ctx context.Context) (bool, error) {
			current, err := m.api.GetSessionOperation(ctx, op.ID)
			if err != nil {
				return false, fmt.Errorf("failed to get session operation %s: %w", op.ID, err)
			}
			return current.Completed, nil
		})
		if err := outcome.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "session wait "+outcome.State.String())
			return handle, fmt.Errorf("session %s did not become ready: %w", opts.Name, err)
		}
	}

	handle.State = domain.SessionReadyForWork
	logger.Info("session ready", "session_id", id)
	return handle, nil
}

// Stop stops a session, terminating it when terminate is set.
func (m *Manager) Stop(ctx context.Context, sessionID string, terminate bool) error {
	ctx, span := m.tracer.Start(ctx, "session.Stop", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.Bool("terminate", terminate),
	))
	defer span.End()

	if err := m.api.StopSession(ctx, sessionID, terminate); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to stop session")
		return fmt.Errorf("failed to stop session %s: %w", sessionID, err)
	}
	m.logger.Info("session stopped", "session_id", sessionID, "terminate", terminate)
	return nil
}

// StopByName stops every non-terminated session carrying name.
func (m *Manager) StopByName(ctx context.Context, projectID, name string, terminate bool) error {
	results, err := m.api.SearchSessions(ctx, projectID, name)
	if err != nil {
		return fmt.Errorf("failed to search sessions named %s: %w", name, err)
	}

	var errs []error
	stopped := 0
	for _, s := range results {
		if s.State == string(domain.SessionTerminated) {
			continue
		}
		if err := m.Stop(ctx, s.ID, terminate); err != nil {
			errs = append(errs, err)
			continue
		}
		stopped++
	}
	if stopped == 0 && len(errs) == 0 {
		return fmt.Errorf("%s: %w", name, domain.ErrSessionNotFound)
	}
	return errors.Join(errs...)
}

// Release terminates the session of a run. With no id known it looks the
// session up by name, which covers a session created by a request whose
// response never arrived. Releasing a run that never created a session is a
// no-op.
func (m *Manager) Release(ctx context.Context, projectID, name, sessionID string) error {
	if sessionID != "" {
		return m.Stop(ctx, sessionID, true)
	}
	err := m.StopByName(ctx, projectID, name, true)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil
	}
	return err
}
