// internal/cli/cli.go

// Package cli implements the releaser command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"release-orchestrator/internal/app"
	"release-orchestrator/internal/config"
	"release-orchestrator/internal/domain"
	"release-orchestrator/internal/testtype"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

const AppName = "releaser"

// Services is what the commands act on. *app.App implements it.
type Services interface {
	Run(ctx context.Context, rc testtype.RunContext) (*domain.RunResult, error)
	StopSession(ctx context.Context, name string, terminate bool) error
	Update(ctx context.Context, name string, opts domain.ReportOptions) error
	Cleanup(ctx context.Context, testType string, opts domain.ReportOptions) error
	ForceTerminate(ctx context.Context, testType string) error
	Schedule(ctx context.Context, nodeID string) error
	Close() error
}

// Opener builds the services from the config directories given with
// --config.
type Opener func(ctx context.Context, configPaths []string, logger *slog.Logger) (Services, error)

type App struct {
	open   Opener
	logger *slog.Logger
	level  *slog.LevelVar
	out    io.Writer
	cli    *cli.App
}

// New builds the CLI. A nil opener loads the config and wires every backend
// with app.New.
func New(open Opener, out io.Writer, logOut io.Writer) *App {
	if open == nil {
		open = openApp
	}
	level := new(slog.LevelVar)
	a := &App{
		open:   open,
		level:  level,
		out:    out,
		logger: slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level})),
	}

	a.cli = &cli.App{
		Name:      AppName,
		Usage:     "Run, schedule and clean up release tests",
		Writer:    out,
		ErrWriter: logOut,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "config",
				Usage: "Directory searched for config.yaml (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Before: func(ctx *cli.Context) error {
			if ctx.Bool("verbose") {
				level.Set(slog.LevelDebug)
			}
			return nil
		},
		ExitErrHandler: func(*cli.Context, error) {},
	}

	reportFlags := []cli.Flag{
		&cli.BoolFlag{Name: "notify", Usage: "Post the report to the channel"},
		&cli.BoolFlag{Name: "upload", Usage: "Upload the report to the object store"},
		&cli.StringFlag{Name: "channel", Usage: "Report channel"},
	}

	a.cli.Commands = []*cli.Command{
		{
			Name:   "run",
			Usage:  "Run one release test and store its result",
			Action: a.run,
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "test-type", Usage: "Registered test type", Required: true},
				&cli.StringFlag{Name: "test-name", Usage: "Test inside the definitions file (default: the test type)"},
				&cli.StringFlag{Name: "test-config", Usage: "Definitions file (default: <release dir>/<type path>/release_tests.yaml)"},
				&cli.StringFlag{Name: "version", Usage: "Ray version"},
				&cli.StringFlag{Name: "commit", Usage: "Ray commit"},
				&cli.StringFlag{Name: "branch", Usage: "Ray branch"},
				&cli.StringFlag{Name: "session-id", Usage: "Session id (default: a new uuid)"},
				&cli.BoolFlag{Name: "smoke-test", Usage: "Run the smoke test variant"},
			},
		},
		{
			Name:      "stop",
			Usage:     "Stop a session by name",
			ArgsUsage: "SESSION_NAME",
			Action:    a.stop,
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "terminate", Usage: "Terminate instead of stopping"},
			},
		},
		{
			Name:      "update",
			Usage:     "Post-process one completed session",
			ArgsUsage: "SESSION_NAME",
			Action:    a.update,
			Flags:     reportFlags,
		},
		{
			Name:      "cleanup",
			Usage:     "Report on and terminate the completed sessions of a test type",
			ArgsUsage: "TEST_TYPE",
			Action:    a.cleanup,
			Flags:     reportFlags,
		},
		{
			Name:      "force-terminate",
			Usage:     "Terminate sessions of a test type that outlived their expected duration",
			ArgsUsage: "TEST_TYPE",
			Action:    a.forceTerminate,
		},
		{
			Name:   "schedule",
			Usage:  "Run the recurring scheduler in the foreground",
			Action: a.schedule,
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "node-id", Usage: "Node id used in leader election (default: a new uuid)"},
			},
		},
	}
	return a
}

// Run executes the command line. The returned error is nil only when the
// command succeeded.
func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

func openApp(ctx context.Context, configPaths []string, logger *slog.Logger) (Services, error) {
	cfg, err := config.Load(configPaths...)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// with opens the services, runs fn and closes them.
func (a *App) with(ctx *cli.Context, fn func(context.Context, Services) error) (err error) {
	svc, err := a.open(ctx.Context, ctx.StringSlice("config"), a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil {
			a.logger.Warn("failed to close services", "error", cerr)
		}
	}()
	return fn(ctx.Context, svc)
}

func (a *App) run(ctx *cli.Context) error {
	rc := testtype.RunContext{
		TestType:   ctx.String("test-type"),
		TestName:   ctx.String("test-name"),
		ConfigFile: ctx.String("test-config"),
		Version:    ctx.String("version"),
		Commit:     ctx.String("commit"),
		Branch:     ctx.String("branch"),
		SessionID:  ctx.String("session-id"),
		Smoke:      ctx.Bool("smoke-test"),
	}
	return a.with(ctx, func(c context.Context, svc Services) error {
		result, err := svc.Run(c, rc)
		if result != nil {
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(result); encErr != nil {
				return fmt.Errorf("failed to print result: %w", encErr)
			}
		}
		if err != nil {
			return err
		}
		if result == nil {
			return fmt.Errorf("test %s produced no result", rc.TestType)
		}
		if result.Status != domain.RunStatusFinished {
			return fmt.Errorf("test %s ended with status %s", rc.TestType, result.Status)
		}
		return nil
	})
}

func (a *App) stop(ctx *cli.Context) error {
	name, err := firstArg(ctx, "SESSION_NAME")
	if err != nil {
		return err
	}
	return a.with(ctx, func(c context.Context, svc Services) error {
		return svc.StopSession(c, name, ctx.Bool("terminate"))
	})
}

func (a *App) update(ctx *cli.Context) error {
	name, err := firstArg(ctx, "SESSION_NAME")
	if err != nil {
		return err
	}
	return a.with(ctx, func(c context.Context, svc Services) error {
		return svc.Update(c, name, reportOptions(ctx))
	})
}

func (a *App) cleanup(ctx *cli.Context) error {
	testType, err := firstArg(ctx, "TEST_TYPE")
	if err != nil {
		return err
	}
	return a.with(ctx, func(c context.Context, svc Services) error {
		return svc.Cleanup(c, testType, reportOptions(ctx))
	})
}

func (a *App) forceTerminate(ctx *cli.Context) error {
	testType, err := firstArg(ctx, "TEST_TYPE")
	if err != nil {
		return err
	}
	return a.with(ctx, func(c context.Context, svc Services) error {
		return svc.ForceTerminate(c, testType)
	})
}

func (a *App) schedule(ctx *cli.Context) error {
	nodeID := ctx.String("node-id")
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	return a.with(ctx, func(c context.Context, svc Services) error {
		err := svc.Schedule(c, nodeID)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

func firstArg(ctx *cli.Context, name string) (string, error) {
	if ctx.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one %s argument, got %d", name, ctx.NArg())
	}
	return ctx.Args().First(), nil
}

func reportOptions(ctx *cli.Context) domain.ReportOptions {
	return domain.ReportOptions{
		Notify:  ctx.Bool("notify"),
		Upload:  ctx.Bool("upload"),
		Channel: ctx.String("channel"),
	}
}

// Main runs the CLI with the process arguments and exits nonzero on error.
func Main() {
	a := New(nil, os.Stdout, os.Stderr)
	if err := a.Run(os.Args); err != nil {
		a.logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
