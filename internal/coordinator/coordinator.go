// internal/coordinator/coordinator.go
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"release-orchestrator/internal/command"
	"release-orchestrator/internal/domain"
	"release-orchestrator/internal/environment"
	"release-orchestrator/internal/poll"
	"release-orchestrator/internal/session"
	"release-orchestrator/internal/sessionname"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultGracePeriod     = 10 * time.Second
	DefaultTeardownTimeout = 2 * time.Minute

	timedOutLogs = "Test timed out."
)

// Phase is a high-level step of a run.
type Phase string

const (
	PhaseResolving         Phase = "Resolving"
	PhaseAcquiringSession  Phase = "AcquiringSession"
	PhasePreparing         Phase = "Preparing"
	PhaseExecuting         Phase = "Executing"
	PhaseCollectingResults Phase = "CollectingResults"
	PhaseReporting         Phase = "Reporting"
	PhaseTerminated        Phase = "Terminated"
)

// Event is a progress report of a worker.
type Event struct {
	Phase Phase
	At    time.Time
}

// Config is the immutable configuration of a Coordinator.
type Config struct {
	ProjectID string
	CloudID   string
	// Location prefixes object keys of logs and artifacts.
	Location string
	Bucket   string
	// Env is exported to every command, next to TEST_OUTPUT_JSON and
	// IS_SMOKE_TEST.
	Env map[string]string
	// TemplateEnv is exposed to declaration templates as .Env.
	TemplateEnv     map[string]string
	TempDir         string
	GracePeriod     time.Duration
	TeardownTimeout time.Duration
	Poll            poll.Config
}

func (c Config) withDefaults() Config {
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.TeardownTimeout <= 0 {
		c.TeardownTimeout = DefaultTeardownTimeout
	}
	if c.Env == nil {
		c.Env = map[string]string{"RAY_ADDRESS": "auto"}
	}
	c.Poll = c.Poll.Defaults()
	return c
}

func (c Config) templateContext() TemplateContext {
	return TemplateContext{
		Env:       c.TemplateEnv,
		ProjectID: c.ProjectID,
		CloudID:   c.CloudID,
		Location:  c.Location,
		Bucket:    c.Bucket,
	}
}

// Coordinator drives single test runs end to end.
type Coordinator struct {
	cfg      Config
	files    domain.FileAPI
	resolver *environment.Resolver
	sessions *session.Manager
	executor *command.Executor
	store    domain.ObjectStore
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// New creates a Coordinator. store may be nil, in which case logs and
// artifacts are not uploaded.
func New(provider domain.Provider, store domain.ObjectStore, cfg Config, logger *slog.Logger) *Coordinator {
	cfg = cfg.withDefaults()
	logger = logger.With("component", "run-coordinator")
	return &Coordinator{
		cfg:      cfg,
		files:    provider,
		resolver: environment.NewResolver(provider, cfg.Poll, logger),
		sessions: session.NewManager(provider, cfg.Poll, logger),
		executor: command.NewExecutor(provider, cfg.Poll, logger),
		store:    store,
		logger:   logger,
		tracer:   otel.Tracer("release-orchestrator-coordinator"),
		now:      time.Now,
	}
}

// SessionName returns the session name of a run of def started at start.
func SessionName(def *domain.TestDefinition, opts domain.RunOptions, start time.Time) string {
	id := opts.SessionID
	if id == "" {
		id = fmt.Sprintf("%s-%d", def.Name, start.Unix())
	}
	return sessionname.Name{
		TestType: def.Kind(),
		Version:  opts.Version,
		Commit:   opts.Commit,
		Branch:   opts.Branch,
		ID:       id,
	}.String()
}

// RunTest executes def once and returns its result. The status is always one
// of finished, error or timeout. The session the run acquired is torn down
// exactly once on every path.
func (c *Coordinator) RunTest(ctx context.Context, def *domain.TestDefinition, opts domain.RunOptions) *domain.RunResult {
	start := c.now()
	name := SessionName(def, opts, start)

	ctx, span := c.tracer.Start(ctx, "coordinator.RunTest", trace.WithAttributes(
		attribute.String("test.name", def.Name),
		attribute.String("session.name", name),
		attribute.Bool("smoke", opts.Smoke),
	))
	defer span.End()

	logger := c.logger.With("test_name", def.Name, "session_name", name)

	decl, err := loadDeclarations(def, c.cfg.templateContext())
	if err != nil {
		logger.Error("failed to load declarations", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load declarations")
		return domain.ErrorResult(err.Error())
	}

	tempDir, err := os.MkdirTemp(c.cfg.TempDir, "releaser-")
	if err != nil {
		err = fmt.Errorf("failed to create temp dir: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create temp dir")
		return domain.ErrorResult(err.Error())
	}

	r := &run{
		c:       c,
		def:     def,
		opts:    opts,
		name:    name,
		decl:    decl,
		tempDir: tempDir,
		logger:  logger,
		baseCtx: ctx,
	}

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan Event)
	done := make(chan *domain.RunResult, 1)
	go func() {
		done <- r.execute(workerCtx, events)
	}()

	result := c.supervise(ctx, r, cancel, events, done, def.Timeout(), start).Normalize()
	logger.Info("run terminated", "phase", PhaseTerminated, "status", result.Status, "elapsed", c.now().Sub(start))
	span.SetAttributes(attribute.String("run.status", string(result.Status)))
	if result.Status != domain.RunStatusFinished {
		span.SetStatus(codes.Error, "run "+string(result.Status))
	}
	return result
}

// supervise is the wall-clock watchdog of a run. Every phase event moves the
// deadline to event time plus timeout, unless the deadline already passed.
func (c *Coordinator) supervise(ctx context.Context, r *run, cancel context.CancelFunc, events <-chan Event, done <-chan *domain.RunResult, timeout time.Duration, start time.Time) *domain.RunResult {
	deadline := start.Add(timeout)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case result := <-done:
			return result
		case ev := <-events:
			if ev.At.After(deadline) {
				return c.abort(r, cancel, done, "phase event after deadline")
			}
			r.logger.Info("run phase changed", "phase", ev.Phase)
			deadline = ev.At.Add(timeout)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(deadline.Sub(c.now()))
		case <-timer.C:
			return c.abort(r, cancel, done, "deadline exceeded")
		case <-ctx.Done():
			cancel()
			r.logger.Warn("run cancelled", "error", ctx.Err())
			return c.awaitOrAbandon(r, done, domain.ErrorResult(fmt.Sprintf("%s: %v", domain.ErrRunAborted, ctx.Err())))
		}
	}
}

// abort cancels the worker and turns the run into a timeout.
func (c *Coordinator) abort(r *run, cancel context.CancelFunc, done <-chan *domain.RunResult, reason string) *domain.RunResult {
	r.logger.Warn("run timed out, cancelling worker", "reason", reason, "grace_period", c.cfg.GracePeriod)
	cancel()
	return c.awaitOrAbandon(r, done, &domain.RunResult{Status: domain.RunStatusTimeout, LastLogs: timedOutLogs})
}

// awaitOrAbandon gives a cancelled worker the grace period to exit, then
// tears the run down itself. The worker's own result is discarded.
func (c *Coordinator) awaitOrAbandon(r *run, done <-chan *domain.RunResult, result *domain.RunResult) *domain.RunResult {
	grace := time.NewTimer(c.cfg.GracePeriod)
	defer grace.Stop()

	select {
	case <-done:
	case <-grace.C:
		r.logger.Warn("worker did not exit within grace period, abandoning it")
		r.teardown()
	}
	return result
}
