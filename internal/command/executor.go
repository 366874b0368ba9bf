// internal/command/executor.go
package command

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"release-orchestrator/internal/domain"
	"release-orchestrator/internal/poll"

	"al.essio.dev/pkg/shellescape"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ExitError is returned when a remote command finishes with a nonzero code.
type ExitError struct {
	CommandID string
	Code      int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command returned non-success status: %d", e.Code)
}

// Executor runs shell commands on a ready session.
type Executor struct {
	api    domain.CommandAPI
	poll   poll.Config
	logger *slog.Logger
	tracer trace.Tracer
}

// NewExecutor creates a remote command Executor.
func NewExecutor(api domain.CommandAPI, cfg poll.Config, logger *slog.Logger) *Executor {
	return &Executor{
		api:    api,
		poll:   cfg.Defaults(),
		logger: logger.With("executor_type", "remote"),
		tracer: otel.Tracer("release-orchestrator-command-executor"),
	}
}

// BuildCommandLine prefixes command with exports of env, keys sorted.
func BuildCommandLine(command string, env map[string]string) string {
	if len(env) == 0 {
		return command
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	assignments := make([]string, 0, len(keys))
	for _, k := range keys {
		assignments = append(assignments, k+"="+shellescape.Quote(env[k]))
	}
	return "export " + strings.Join(assignments, " ") + " && " + command
}

// Run submits command and waits for it to finish. The returned execution is
// non-nil whenever the command was submitted, including on a nonzero exit
// (*ExitError) and on cancellation, so callers can still fetch its logs.
// Cancellation does not kill the remote process.
func (e *Executor) Run(ctx context.Context, sessionID, command string, env map[string]string) (*domain.CommandExecution, error) {
	ctx, span := e.tracer.Start(ctx, "executor.remote.Run", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("command", command),
	))
	defer span.End()

	line := BuildCommandLine(command, env)
	e.logger.Info("running command in session", "session_id", sessionID, "command", line)

	start := time.Now()
	status, err := e.api.CreateCommand(ctx, sessionID, line)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit command")
		return nil, fmt.Errorf("failed to submit command to session %s: %w", sessionID, err)
	}

	execution := &domain.CommandExecution{ID: status.ID, SessionID: sessionID, State: domain.CommandSubmitted}
	span.SetAttributes(attribute.String("command.id", status.ID))

	if status.FinishedAt == nil {
		execution.State = domain.CommandPolling
		outcome := poll.Until(ctx, e.poll, e.logger, "command "+status.ID, func(ctx context.Context) (bool, error) {
			current, err := e.api.GetCommand(ctx, status.ID)
			if err != nil {
				return false, fmt.Errorf("failed to get command %s: %w", status.ID, err)
			}
			status = current
			return current.FinishedAt != nil, nil
		})
		if err := outcome.Err(); err != nil {
			execution.Elapsed = time.Since(start)
			if outcome.State == domain.WaitTimedOut {
				execution.State = domain.CommandTimedOut
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "command wait "+outcome.State.String())
			return execution, err
		}
	}

	execution.State = domain.CommandFinished
	execution.ExitCode = status.StatusCode
	execution.Elapsed = time.Since(start)
	span.SetAttributes(attribute.Int("command.exit_code", status.StatusCode))

	if status.StatusCode != 0 {
		err := &ExitError{CommandID: status.ID, Code: status.StatusCode}
		span.RecordError(err)
		span.SetStatus(codes.Error, "command failed")
		return execution, err
	}

	e.logger.Info("command finished successfully", "command_id", status.ID, "elapsed", execution.Elapsed)
	return execution, nil
}

// Logs returns the last lines of a command's output.
func (e *Executor) Logs(ctx context.Context, commandID string, lines int) (string, error) {
	ctx, span := e.tracer.Start(ctx, "executor.remote.Logs", trace.WithAttributes(attribute.String("command.id", commandID)))
	defer span.End()

	logs, err := e.api.GetExecutionLogs(ctx, commandID, lines)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch logs")
		return "", fmt.Errorf("failed to fetch logs of command %s: %w", commandID, err)
	}
	return logs, nil
}
