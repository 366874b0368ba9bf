// internal/usecase/run_service.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"release-orchestrator/internal/domain"
	"release-orchestrator/internal/metrics"
	"release-orchestrator/internal/testdef"
	"release-orchestrator/internal/testtype"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultBranch = "master"

// TestRunner executes one release test. It is implemented by the run
// coordinator.
type TestRunner interface {
	RunTest(ctx context.Context, def *domain.TestDefinition, opts domain.RunOptions) *domain.RunResult
}

// CommitResolver returns the head commit of a branch.
type CommitResolver interface {
	LatestCommit(ctx context.Context, branch string) (string, error)
}

// RunServiceConfig holds the defaults of a run context.
type RunServiceConfig struct {
	// ReleaseTestsDir is the root of the per-type test directories.
	ReleaseTestsDir string
	NightlyVersion  string
}

// RunService turns run requests into coordinator runs and reports their
// results. It is the scheduler's dispatcher.
type RunService struct {
	runner   TestRunner
	registry *testtype.Registry
	results  domain.ResultRepository
	notifier domain.Notifier
	locker   domain.Locker
	commits  CommitResolver
	cfg      RunServiceConfig
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	wg sync.WaitGroup
}

var _ domain.Dispatcher = (*RunService)(nil)

// NewRunService creates a RunService. notifier and commits may be nil.
func NewRunService(runner TestRunner, registry *testtype.Registry, results domain.ResultRepository, notifier domain.Notifier, locker domain.Locker, commits CommitResolver, cfg RunServiceConfig, logger *slog.Logger) *RunService {
	return &RunService{
		runner:   runner,
		registry: registry,
		results:  results,
		notifier: notifier,
		locker:   locker,
		commits:  commits,
		cfg:      cfg,
		logger:   logger.With("component", "run-service"),
		tracer:   otel.Tracer("release-orchestrator-usecase"),
		now:      time.Now,
	}
}

// ContextFromKwargs builds the run context of a scheduled test.
func ContextFromKwargs(test *domain.ScheduledTest) (testtype.RunContext, error) {
	rc := testtype.RunContext{TestType: test.TestType}
	var err error
	fields := map[string]*string{
		"test_name":   &rc.TestName,
		"test_config": &rc.ConfigFile,
		"version":     &rc.Version,
		"commit":      &rc.Commit,
		"branch":      &rc.Branch,
		"session_id":  &rc.SessionID,
	}
	for key, dst := range fields {
		if *dst, err = kwargString(test.Kwargs, key); err != nil {
			return rc, err
		}
	}

	switch v := test.Kwargs["smoke_test"].(type) {
	case nil:
	case bool:
		rc.Smoke = v
	case string:
		if rc.Smoke, err = strconv.ParseBool(v); err != nil {
			return rc, fmt.Errorf("invalid kwarg smoke_test %q: %w", v, err)
		}
	default:
		return rc, fmt.Errorf("invalid kwarg smoke_test of type %T", v)
	}
	return rc, nil
}

func kwargString(kwargs map[string]any, key string) (string, error) {
	switch v := kwargs[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case int, int64, float64:
		return fmt.Sprint(v), nil
	default:
		return "", fmt.Errorf("invalid kwarg %s of type %T", key, v)
	}
}

// Dispatch starts a run of a scheduled test and returns once it is in
// flight.
func (s *RunService) Dispatch(ctx context.Context, test *domain.ScheduledTest) error {
	rc, err := ContextFromKwargs(test)
	if err != nil {
		return err
	}
	return s.Start(ctx, rc)
}

// Start prepares rc, takes the test's run lock and runs it in the
// background. The run is detached from ctx cancellation.
func (s *RunService) Start(ctx context.Context, rc testtype.RunContext) error {
	rc, ctrl, lock, err := s.prepare(ctx, rc)
	if err != nil {
		return err
	}

	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.unlock(runCtx, lock, rc)
		if _, err := s.execute(runCtx, rc, ctrl); err != nil {
			s.logger.Error("release test run failed", "test_type", rc.TestType, "test_name", rc.TestName, "error", err)
		}
	}()
	return nil
}

// Run is the synchronous form of Start.
func (s *RunService) Run(ctx context.Context, rc testtype.RunContext) (*domain.RunResult, error) {
	rc, ctrl, lock, err := s.prepare(ctx, rc)
	if err != nil {
		return nil, err
	}
	defer s.unlock(ctx, lock, rc)
	return s.execute(ctx, rc, ctrl)
}

// Wait blocks until every run started by Start has returned.
func (s *RunService) Wait() {
	s.wg.Wait()
}

func (s *RunService) prepare(ctx context.Context, rc testtype.RunContext) (testtype.RunContext, testtype.Controller, domain.Lock, error) {
	ctrl, err := s.registry.Controller(rc.TestType)
	if err != nil {
		return rc, nil, nil, err
	}

	if rc.NeedsRevision() {
		if rc, err = s.withNightlyRevision(ctx, rc); err != nil {
			return rc, nil, nil, err
		}
	}
	if err := rc.Validate(); err != nil {
		return rc, nil, nil, err
	}

	if rc.TestName == "" {
		rc.TestName = rc.TestType
	}
	if rc.ConfigFile == "" {
		rc.ConfigFile = filepath.Join(s.cfg.ReleaseTestsDir, ctrl.Kind().Path, "release_tests.yaml")
	}
	if rc.SessionID == "" {
		rc.SessionID = uuid.New().String()
	}

	lockName := rc.TestType + "/" + rc.TestName
	lock, err := s.locker.Lock(ctx, lockName)
	if err != nil {
		if errors.Is(err, domain.ErrLockNotAcquired) {
			return rc, nil, nil, fmt.Errorf("%w: %s", domain.ErrRunInFlight, lockName)
		}
		return rc, nil, nil, fmt.Errorf("failed to lock %s: %w", lockName, err)
	}
	return rc, ctrl, lock, nil
}

func (s *RunService) withNightlyRevision(ctx context.Context, rc testtype.RunContext) (testtype.RunContext, error) {
	if s.commits == nil {
		return rc, fmt.Errorf("no commit resolver configured to fill the nightly revision")
	}
	commit, err := s.commits.LatestCommit(ctx, DefaultBranch)
	if err != nil {
		return rc, fmt.Errorf("failed to resolve latest commit of %s: %w", DefaultBranch, err)
	}
	rc.Branch = DefaultBranch
	rc.Commit = commit
	rc.Version = s.cfg.NightlyVersion
	s.logger.Info("using nightly revision", "test_type", rc.TestType, "version", rc.Version, "commit", rc.Commit)
	return rc, nil
}

func (s *RunService) unlock(ctx context.Context, lock domain.Lock, rc testtype.RunContext) {
	if err := lock.Unlock(ctx); err != nil {
		s.logger.Warn("failed to release run lock", "test_type", rc.TestType, "test_name", rc.TestName, "error", err)
	}
}

// launch is the Launcher handed to a controller for one run. It keeps the
// result so the caller can return it.
type launch struct {
	s      *RunService
	result *domain.RunResult
}

func (l *launch) Launch(ctx context.Context, rc testtype.RunContext, args []string) error {
	result, err := l.s.runAndReport(ctx, rc, args)
	l.result = result
	return err
}

func (s *RunService) execute(ctx context.Context, rc testtype.RunContext, ctrl testtype.Controller) (*domain.RunResult, error) {
	l := &launch{s: s}
	if err := ctrl.Run(ctx, rc, l); err != nil {
		return l.result, err
	}
	return l.result, nil
}

func (s *RunService) runAndReport(ctx context.Context, rc testtype.RunContext, args []string) (*domain.RunResult, error) {
	ctx, span := s.tracer.Start(ctx, "service.RunTest", trace.WithAttributes(
		attribute.String("test.type", rc.TestType),
		attribute.String("test.name", rc.TestName),
	))
	defer span.End()

	def, err := testdef.Load(rc.ConfigFile, rc.TestName, rc.Smoke)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load test definition")
		return nil, err
	}
	if def.TestType == "" {
		def.TestType = rc.TestType
	}

	opts := rc.RunOptions()
	opts.Args = args

	logger := s.logger.With("test_name", def.Name, "session_id", rc.SessionID)
	logger.Info("starting release test", "version", rc.Version, "branch", rc.Branch, "commit", rc.Commit, "smoke", rc.Smoke)

	started := s.now()
	result := s.runner.RunTest(ctx, def, opts)
	metrics.RunDuration.WithLabelValues(def.Name).Observe(s.now().Sub(started).Seconds())
	metrics.RunsTotal.WithLabelValues(def.Name, string(result.Status)).Inc()
	logger.Info("release test done", "status", result.Status)

	record := &domain.ResultRecord{
		ID:        uuid.New().String(),
		CreatedOn: s.now().UTC(),
		TestName:  def.Name,
		Status:    result.Status,
		LastLogs:  result.LastLogs,
		Results:   result.Results,
		Artifacts: result.Artifacts,
	}
	if err := s.results.Save(ctx, record); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save result")
		return result, fmt.Errorf("failed to report result of %s: %w", def.Name, err)
	}

	if result.Status != domain.RunStatusFinished {
		span.SetStatus(codes.Error, "run "+string(result.Status))
		s.notifyOwner(ctx, def, result)
	}
	return result, nil
}

func (s *RunService) notifyOwner(ctx context.Context, def *domain.TestDefinition, result *domain.RunResult) {
	if s.notifier == nil {
		return
	}
	n := domain.Notification{
		Owner:    def.Owner,
		TestName: def.Name,
		Status:   result.Status,
		Message:  fmt.Sprintf("Release test %s ended with status %s.\n%s", def.Name, result.Status, result.LastLogs),
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("failed to notify test owner", "test_name", def.Name, "error", err)
	}
}

// History returns up to limit results of a test, newest first.
func (s *RunService) History(ctx context.Context, testName string, limit int) ([]*domain.ResultRecord, error) {
	ctx, span := s.tracer.Start(ctx, "service.History")
	defer span.End()
	span.SetAttributes(attribute.String("test.name", testName), attribute.Int("limit", limit))

	records, err := s.results.List(ctx, testName, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list results from repository")
	}
	return records, err
}
