// internal/app/app.go

// Package app builds the releaser components from a config.Config. It is
// shared by the releaser CLI and the scheduler daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"release-orchestrator/internal/cleanup"
	"release-orchestrator/internal/config"
	"release-orchestrator/internal/coordinator"
	"release-orchestrator/internal/domain"
	"release-orchestrator/internal/infra/etcd"
	"release-orchestrator/internal/infra/github"
	"release-orchestrator/internal/infra/memlock"
	"release-orchestrator/internal/infra/notify"
	"release-orchestrator/internal/infra/objstore"
	"release-orchestrator/internal/infra/provider"
	"release-orchestrator/internal/infra/sqlstore"
	"release-orchestrator/internal/poll"
	"release-orchestrator/internal/scheduler"
	"release-orchestrator/internal/session"
	"release-orchestrator/internal/testtype"
	"release-orchestrator/internal/usecase"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// App holds the wired components. Close releases every connection it opened.
type App struct {
	Config      *config.Config
	Provider    domain.Provider
	Sessions    *session.Manager
	Registry    *testtype.Registry
	Coordinator *coordinator.Coordinator
	Results     domain.ResultRepository
	Store       domain.ObjectStore
	Notifier    domain.Notifier
	Locker      domain.Locker
	RunService  *usecase.RunService
	Sweeper     *cleanup.Sweeper

	etcd    *clientv3.Client
	logger  *slog.Logger
	closers []func() error
}

// New connects to every configured backend. Optional backends that are not
// configured fall back to local implementations: sqlite results, in-memory
// locks, log notifications and no uploads.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	a := &App{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if cfg.Provider.BaseURL == "" {
		return nil, fmt.Errorf("provider.base_url is required")
	}
	client, err := provider.NewClient(provider.Config{
		BaseURL: cfg.Provider.BaseURL,
		Token:   cfg.Provider.Token,
		Timeout: cfg.Provider.Timeout,
		Retry:   provider.RetryPolicy{MaxRetries: cfg.Provider.MaxRetries, Backoff: cfg.Provider.Backoff},
	}, logger)
	if err != nil {
		return nil, err
	}
	a.Provider = client

	if len(cfg.EtcdEndpoints) > 0 {
		a.etcd, err = etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.etcd.Close)
		a.Locker = etcd.NewEtcdLocker(a.etcd)
	} else {
		a.Locker = memlock.New()
	}

	if a.Results, err = a.openResults(); err != nil {
		return nil, err
	}

	if cfg.ObjectStore.Endpoint != "" {
		store, err := objstore.NewClient(objstore.Config{
			Endpoint:  cfg.ObjectStore.Endpoint,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
			Region:    cfg.ObjectStore.Region,
			UseSSL:    cfg.ObjectStore.UseSSL,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx, cfg.ObjectStore.Bucket); err != nil {
			return nil, err
		}
		a.Store = store
	}

	if cfg.Notify.RedisURL != "" {
		rdb, err := notify.NewRedisClient(ctx, cfg.Notify.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		a.Notifier = notify.NewRedisNotifier(rdb, cfg.Notify.Stream, logger)
	} else {
		a.Notifier = notify.NewLogNotifier(logger)
	}

	pollCfg := poll.Config{Interval: cfg.Run.PollInterval, ReportEvery: cfg.Run.ReportEvery}
	a.Sessions = session.NewManager(a.Provider, pollCfg, logger)
	a.Registry = testtype.NewRegistry(cfg.ResultDir)
	a.Coordinator = coordinator.New(a.Provider, a.Store, coordinator.Config{
		ProjectID:       cfg.ProjectID,
		CloudID:         cfg.CloudID,
		Location:        cfg.Location,
		Bucket:          cfg.ObjectStore.Bucket,
		Env:             runEnv(),
		TemplateEnv:     environ(),
		TempDir:         cfg.TempDir,
		GracePeriod:     cfg.Run.GracePeriod,
		TeardownTimeout: cfg.Run.TeardownTimeout,
		Poll:            pollCfg,
	}, logger)

	commits := github.NewClient(cfg.GitHub.BaseURL, cfg.GitHub.Repo, cfg.GitHub.Token)
	a.RunService = usecase.NewRunService(a.Coordinator, a.Registry, a.Results, a.Notifier, a.Locker, commits,
		usecase.RunServiceConfig{ReleaseTestsDir: cfg.ReleaseTestsDir, NightlyVersion: cfg.NightlyVersion}, logger)
	a.Sweeper = cleanup.NewSweeper(a.Provider, a.Sessions, a.Registry, a.Store, a.Notifier,
		cleanup.Config{ProjectID: cfg.ProjectID, Bucket: cfg.ObjectStore.Bucket}, logger)
	return a, nil
}

func (a *App) openResults() (domain.ResultRepository, error) {
	if a.Config.ResultsBackend == "etcd" {
		if a.etcd == nil {
			return nil, fmt.Errorf("results_backend etcd requires etcd_endpoints")
		}
		return etcd.NewEtcdResultRepository(a.etcd, a.logger), nil
	}

	driver := sqlstore.Driver(a.Config.Database.Driver)
	dialect, err := sqlstore.NewDialect(driver)
	if err != nil {
		return nil, err
	}
	db, err := sqlstore.Open(driver, a.Config.Database.DSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	if err := dialect.AutoMigrate(db); err != nil {
		return nil, err
	}
	return sqlstore.NewResultStore(db, dialect, a.logger), nil
}

// NewScheduler loads the schedule file and builds the scheduler. With etcd
// configured, entry states are persisted so a new leader resumes them.
func (a *App) NewScheduler() (*scheduler.Scheduler, error) {
	sched, err := scheduler.LoadConfig(a.Config.ScheduleFile)
	if err != nil {
		return nil, err
	}
	var opts []scheduler.Option
	if a.etcd != nil {
		opts = append(opts, scheduler.WithStateRepository(etcd.NewEtcdScheduleStateRepository(a.etcd, a.logger)))
	}
	return scheduler.New(sched, a.RunService, a.Sweeper, a.logger, opts...)
}

// LeaderElection returns the etcd election, or nil when etcd is not
// configured and this node always leads.
func (a *App) LeaderElection(nodeID string) domain.LeaderElectionManager {
	if a.etcd == nil {
		return nil
	}
	return etcd.NewEtcdLeaderElectionManager(a.etcd, nodeID, a.Config.LeaderElectionTTL, a.logger)
}

// Run executes one release test and waits for its result.
func (a *App) Run(ctx context.Context, rc testtype.RunContext) (*domain.RunResult, error) {
	return a.RunService.Run(ctx, rc)
}

// StopSession stops the sessions carrying name in the configured project.
func (a *App) StopSession(ctx context.Context, name string, terminate bool) error {
	return a.Sessions.StopByName(ctx, a.Config.ProjectID, name, terminate)
}

// Update post-processes one completed session.
func (a *App) Update(ctx context.Context, name string, opts domain.ReportOptions) error {
	return a.Sweeper.UpdateByName(ctx, name, opts)
}

// Cleanup reports on and terminates the completed sessions of a test type.
func (a *App) Cleanup(ctx context.Context, testType string, opts domain.ReportOptions) error {
	return a.Sweeper.CleanupCompleted(ctx, testType, opts)
}

// ForceTerminate terminates the sessions of a test type older than its
// expected duration.
func (a *App) ForceTerminate(ctx context.Context, testType string) error {
	return a.Sweeper.ForceTerminateOld(ctx, testType)
}

// Schedule runs the scheduler loop until ctx is done. With etcd configured
// only the elected node runs it.
func (a *App) Schedule(ctx context.Context, nodeID string) error {
	sched, err := a.NewScheduler()
	if err != nil {
		return err
	}
	return usecase.NewSchedulerService(a.LeaderElection(nodeID), sched, nodeID, a.logger).Start(ctx)
}

// Close waits for background runs and closes every opened connection.
func (a *App) Close() error {
	return a.Shutdown(context.Background())
}

// Shutdown waits for background runs until ctx is done, then closes every
// opened connection. Runs still going are abandoned; their sessions are
// terminated later by the stale session sweep.
func (a *App) Shutdown(ctx context.Context) error {
	if a.RunService != nil && !waitFor(ctx, a.RunService.Wait) {
		a.logger.Warn("abandoning running tests", "error", ctx.Err())
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// waitFor runs wait and reports whether it returned before ctx was done.
func waitFor(ctx context.Context, wait func()) bool {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// runEnv returns the command environment when RAY_ADDRESS is set in the
// process environment. Otherwise the coordinator default applies.
func runEnv() map[string]string {
	if addr, ok := os.LookupEnv("RAY_ADDRESS"); ok {
		return map[string]string{"RAY_ADDRESS": addr}
	}
	return nil
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
