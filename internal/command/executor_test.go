package command

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"release-orchestrator/internal/domain"
	"release-orchestrator/internal/infra/provider/fakeprovider"
	"release-orchestrator/internal/poll"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(p *fakeprovider.Provider) *Executor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewExecutor(p, poll.Config{Interval: time.Millisecond, ReportEvery: time.Millisecond}, logger)
}

func newSession(t *testing.T, p *fakeprovider.Provider) string {
	t.Helper()
	id, err := p.CreateSession(context.Background(), domain.SessionOptions{Name: "s", ProjectID: "prj_1"})
	require.NoError(t, err)
	return id
}

func TestBuildCommandLine(t *testing.T) {
	line := BuildCommandLine("python run.py --smoke-test", map[string]string{
		"TEST_OUTPUT_JSON": "/tmp/out.json",
		"IS_SMOKE_TEST":    "1",
		"NOTE":             "it's here",
	})

	assert.Equal(t, `export IS_SMOKE_TEST=1 NOTE='it'"'"'s here' TEST_OUTPUT_JSON=/tmp/out.json && python run.py --smoke-test`, line)
	assert.Equal(t, "ls", BuildCommandLine("ls", nil))
}

func TestRun_Success(t *testing.T) {
	p := fakeprovider.New()
	p.CommandPolls = 2
	sessionID := newSession(t, p)

	exec, err := newTestExecutor(p).Run(context.Background(), sessionID, "python run.py", map[string]string{"A": "b"})
	require.NoError(t, err)

	assert.Equal(t, domain.CommandFinished, exec.State)
	assert.True(t, exec.Terminal())
	assert.Equal(t, 0, exec.ExitCode)
	assert.Equal(t, 2, p.Calls(fakeprovider.MethodGetCommand))
	assert.Equal(t, []string{"export A=b && python run.py"}, p.CommandsRun())
}

func TestRun_NonzeroExit(t *testing.T) {
	p := fakeprovider.New()
	p.CommandPolls = 1
	p.ExitCode = func(string) int { return 137 }
	sessionID := newSession(t, p)

	exec, err := newTestExecutor(p).Run(context.Background(), sessionID, "python run.py", nil)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 137, exitErr.Code)
	assert.Equal(t, "command returned non-success status: 137", err.Error())
	require.NotNil(t, exec)
	assert.Equal(t, exec.ID, exitErr.CommandID)
	assert.Equal(t, 137, exec.ExitCode)
}

func TestRun_CancelledKeepsExecution(t *testing.T) {
	p := fakeprovider.New()
	p.CommandPolls = 1_000_000
	sessionID := newSession(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	exec, err := newTestExecutor(p).Run(ctx, sessionID, "sleep 1000", nil)
	assert.ErrorIs(t, err, domain.ErrRunAborted)
	require.NotNil(t, exec)
	assert.Equal(t, domain.CommandTimedOut, exec.State)
	assert.Equal(t, 0, p.Stops(sessionID))
}

func TestLogs(t *testing.T) {
	p := fakeprovider.New()
	p.Logs = strings.Join([]string{"l1", "l2", "l3", "l4"}, "\n")
	sessionID := newSession(t, p)
	e := newTestExecutor(p)

	exec, err := e.Run(context.Background(), sessionID, "true", nil)
	require.NoError(t, err)

	logs, err := e.Logs(context.Background(), exec.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "l3\nl4", logs)
}
