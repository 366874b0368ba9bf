// internal/coordinator/run.go
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"release-orchestrator/internal/domain"

	"al.essio.dev/pkg/shellescape"
)

const (
	envResultsPath = "TEST_OUTPUT_JSON"
	envSmokeTest   = "IS_SMOKE_TEST"
	smokeTestFlag  = "--smoke-test"
	outputLogName  = "output.log"
)

// run is the state of one RunTest invocation. The worker goroutine owns every
// field except the session id and the teardown guard, which the supervisor
// reads when it abandons the worker.
type run struct {
	c       *Coordinator
	def     *domain.TestDefinition
	opts    domain.RunOptions
	name    string
	decl    *declarations
	tempDir string
	logger  *slog.Logger
	baseCtx context.Context

	commandID string

	mu        sync.Mutex
	sessionID string
	tornDown  bool
	once      sync.Once
}

// execute runs every step of the test and always tears down.
func (r *run) execute(ctx context.Context, events chan<- Event) *domain.RunResult {
	defer r.teardown()

	result, err := r.steps(ctx, events)
	if err == nil {
		return result
	}

	r.logger.Error("run failed", "error", err)
	logs := err.Error()
	if r.commandID != "" {
		logCtx, cancel := r.cleanupContext()
		defer cancel()
		if fetched, lerr := r.c.executor.Logs(logCtx, r.commandID, r.def.TrailingLogLines()); lerr != nil {
			r.logger.Warn("failed to fetch logs of failed run", "command_id", r.commandID, "error", lerr)
		} else {
			logs = fetched
		}
	}
	return domain.ErrorResult(logs)
}

func (r *run) steps(ctx context.Context, events chan<- Event) (*domain.RunResult, error) {
	cfg := r.c.cfg

	r.emit(ctx, events, PhaseResolving)
	sessionID, err := r.c.sessions.FindRunning(ctx, cfg.ProjectID, r.name)
	if err != nil {
		return nil, err
	}
	if sessionID != "" {
		r.logger.Info("reusing running session", "session_id", sessionID)
		if err := r.setSession(ctx, sessionID); err != nil {
			return nil, err
		}
	} else {
		opts := domain.SessionOptions{Name: r.name, ProjectID: cfg.ProjectID}
		if r.decl.spec.UsesClusterConfig() {
			opts.ClusterConfig = r.decl.clusterConfig
			opts.CloudID = cfg.CloudID
		} else {
			env, err := r.c.resolver.Resolve(ctx, cfg.ProjectID, r.decl.spec)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve environment: %w", err)
			}
			opts.ComputeTemplateID = env.ComputeTemplateID
			opts.BuildID = env.BuildID
			opts.UsesAppConfig = true
		}

		r.emit(ctx, events, PhaseAcquiringSession)
		handle, err := r.c.sessions.CreateAndAwaitReady(ctx, opts)
		if handle != nil {
			if serr := r.setSession(ctx, handle.ID); serr != nil {
				return nil, serr
			}
		}
		if err != nil {
			return nil, err
		}
	}

	r.emit(ctx, events, PhasePreparing)
	r.logger.Info("syncing files to session", "local_dir", r.def.LocalDir)
	if err := r.c.files.Push(ctx, r.name, r.def.LocalDir); err != nil {
		return nil, fmt.Errorf("failed to push %s to session: %w", r.def.LocalDir, err)
	}

	env := r.commandEnv()
	if r.def.Run.Prepare != "" {
		r.logger.Info("running prepare command", "command", r.def.Run.Prepare)
		if err := r.runCommand(ctx, r.def.Run.Prepare, env); err != nil {
			return nil, fmt.Errorf("prepare command failed: %w", err)
		}
	}

	r.emit(ctx, events, PhaseExecuting)
	if err := r.runCommand(ctx, r.mainCommand(), env); err != nil {
		return nil, err
	}
	r.logger.Info("command finished successfully")

	r.emit(ctx, events, PhaseCollectingResults)
	results, err := r.collectResults(ctx)
	if err != nil {
		return nil, err
	}
	logs, err := r.c.executor.Logs(ctx, r.commandID, r.def.TrailingLogLines())
	if err != nil {
		return nil, err
	}
	artifacts, err := r.storeArtifacts(ctx, logs)
	if err != nil {
		return nil, err
	}

	r.emit(ctx, events, PhaseReporting)
	return &domain.RunResult{
		Status:    domain.RunStatusFinished,
		LastLogs:  logs,
		Results:   results,
		Artifacts: artifacts,
	}, nil
}

func (r *run) runCommand(ctx context.Context, cmd string, env map[string]string) error {
	exec, err := r.c.executor.Run(ctx, r.session(), cmd, env)
	if exec != nil && exec.ID != "" {
		r.commandID = exec.ID
	}
	return err
}

func (r *run) commandEnv() map[string]string {
	env := make(map[string]string, len(r.c.cfg.Env)+2)
	for k, v := range r.c.cfg.Env {
		env[k] = v
	}
	env[envResultsPath] = r.def.ResultsPath()
	env[envSmokeTest] = "0"
	if r.opts.Smoke {
		env[envSmokeTest] = "1"
	}
	return env
}

func (r *run) mainCommand() string {
	parts := []string{r.def.Run.Script}
	args := append(append([]string(nil), r.def.Run.Args...), r.opts.Args...)
	if len(args) > 0 {
		parts = append(parts, shellescape.QuoteCommand(args))
	}
	if r.opts.Smoke {
		parts = append(parts, smokeTestFlag)
	}
	return strings.Join(parts, " ")
}

// collectResults pulls and parses the declared results file. Tests that do
// not declare one report a single passed marker.
func (r *run) collectResults(ctx context.Context) (map[string]any, error) {
	if r.def.Run.Results == "" {
		return map[string]any{"passed": 1}, nil
	}

	local := filepath.Join(r.tempDir, ".results.json")
	if err := r.c.files.Pull(ctx, r.name, r.def.Run.Results, local); err != nil {
		return nil, fmt.Errorf("failed to pull results %s: %w", r.def.Run.Results, err)
	}
	raw, err := os.ReadFile(local)
	if err != nil {
		return nil, fmt.Errorf("failed to read results: %w", err)
	}
	results := map[string]any{}
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("failed to parse results %s: %w", r.def.Run.Results, err)
	}
	return results, nil
}

func (r *run) emit(ctx context.Context, events chan<- Event, phase Phase) {
	select {
	case events <- Event{Phase: phase, At: r.c.now()}:
	case <-ctx.Done():
	}
}

// setSession records the session of the run. A session that shows up after
// the supervisor already tore the run down is released right away.
func (r *run) setSession(ctx context.Context, id string) error {
	r.mu.Lock()
	late := r.tornDown
	if !late {
		r.sessionID = id
	}
	r.mu.Unlock()

	if !late {
		return nil
	}
	cleanupCtx, cancel := r.cleanupContext()
	defer cancel()
	if err := r.c.sessions.Stop(cleanupCtx, id, true); err != nil {
		r.logger.Warn("failed to terminate late session", "session_id", id, "error", err)
	}
	return errors.Join(domain.ErrRunAborted, ctx.Err())
}

func (r *run) session() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

func (r *run) cleanupContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.baseCtx), r.c.cfg.TeardownTimeout)
}

// teardown releases the session and removes the temp dir. It runs once, from
// the worker or from the supervisor, whichever comes first. Failures are
// logged only.
func (r *run) teardown() {
	r.once.Do(func() {
		r.mu.Lock()
		r.tornDown = true
		id := r.sessionID
		r.mu.Unlock()

		ctx, cancel := r.cleanupContext()
		defer cancel()

		r.logger.Info("tearing down run", "session_id", id)
		if err := r.c.sessions.Release(ctx, r.c.cfg.ProjectID, r.name, id); err != nil {
			r.logger.Warn("failed to release session", "session_id", id, "error", err)
		}
		if err := os.RemoveAll(r.tempDir); err != nil {
			r.logger.Warn("failed to remove temp dir", "dir", r.tempDir, "error", err)
		}
	})
}
