package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"release-orchestrator/internal/domain"
	"release-orchestrator/internal/infra/memlock"
	"release-orchestrator/internal/testtype"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runCall struct {
	def  domain.TestDefinition
	opts domain.RunOptions
}

type fakeRunner struct {
	mu      sync.Mutex
	calls   []runCall
	result  *domain.RunResult
	release chan struct{}
}

func (r *fakeRunner) RunTest(_ context.Context, def *domain.TestDefinition, opts domain.RunOptions) *domain.RunResult {
	r.mu.Lock()
	r.calls = append(r.calls, runCall{*def, opts})
	r.mu.Unlock()
	if r.release != nil {
		<-r.release
	}
	if r.result == nil {
		return &domain.RunResult{Status: domain.RunStatusFinished, Results: map[string]any{"passed": 1}}
	}
	return r.result
}

func (r *fakeRunner) snapshot() []runCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runCall(nil), r.calls...)
}

type memResults struct {
	mu      sync.Mutex
	records []*domain.ResultRecord
	err     error
}

func (m *memResults) Save(_ context.Context, record *domain.ResultRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, record)
	return nil
}

func (m *memResults) Latest(ctx context.Context, testName string) (*domain.ResultRecord, error) {
	records, _ := m.List(ctx, testName, 1)
	if len(records) == 0 {
		return nil, domain.ErrResultNotFound
	}
	return records[0], nil
}

func (m *memResults) List(_ context.Context, testName string, limit int) ([]*domain.ResultRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ResultRecord
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		if m.records[i].TestName == testName {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

type memNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *memNotifier) Notify(_ context.Context, msg domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

type staticCommits struct {
	commit string
	err    error
}

func (c staticCommits) LatestCommit(context.Context, string) (string, error) {
	return c.commit, c.err
}

type fixture struct {
	svc      *RunService
	runner   *fakeRunner
	results  *memResults
	notifier *memNotifier
	root     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	writeTests(t, filepath.Join(root, "microbenchmark"), `
- name: microbenchmark
  run:
    script: python run_microbenchmark.py
  owner:
    slack: "@core"
`)
	writeTests(t, filepath.Join(root, "long_running_tests"), `
- name: train_small
  run:
    script: python workloads/train_small.py
    timeout: 3600
  smoke_test:
    run:
      timeout: 600
`)

	f := &fixture{
		runner:   &fakeRunner{},
		results:  &memResults{},
		notifier: &memNotifier{},
		root:     root,
	}
	f.svc = NewRunService(f.runner, testtype.NewRegistry(t.TempDir()), f.results, f.notifier, memlock.New(),
		staticCommits{commit: "abc123"}, RunServiceConfig{ReleaseTestsDir: root, NightlyVersion: "3.0.0.dev0"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.svc.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	return f
}

func writeTests(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "release_tests.yaml"), []byte(content), 0o644))
}

func TestContextFromKwargs(t *testing.T) {
	rc, err := ContextFromKwargs(&domain.ScheduledTest{
		TestType: testtype.LongRunningTests,
		Kwargs: map[string]any{
			"test_name":  "train_small",
			"version":    "1.0.0",
			"commit":     "abc",
			"branch":     "releases/1.0.0",
			"smoke_test": "true",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, testtype.RunContext{
		TestType: testtype.LongRunningTests,
		TestName: "train_small",
		Version:  "1.0.0",
		Commit:   "abc",
		Branch:   "releases/1.0.0",
		Smoke:    true,
	}, rc)

	_, err = ContextFromKwargs(&domain.ScheduledTest{TestType: "x", Kwargs: map[string]any{"smoke_test": []int{1}}})
	assert.Error(t, err)
	_, err = ContextFromKwargs(&domain.ScheduledTest{TestType: "x", Kwargs: map[string]any{"version": map[string]any{}}})
	assert.Error(t, err)
}

func TestRun_NightlyDefaultsAndReport(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Run(context.Background(), testtype.RunContext{TestType: testtype.Microbenchmark, SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFinished, result.Status)

	calls := f.runner.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "microbenchmark", calls[0].def.Name)
	assert.Equal(t, testtype.Microbenchmark, calls[0].def.TestType)
	assert.Equal(t, domain.RunOptions{
		Version:   "3.0.0.dev0",
		Commit:    "abc123",
		Branch:    DefaultBranch,
		SessionID: "s1",
		Args:      []string{"--ray_version", "3.0.0.dev0", "--ray_branch", DefaultBranch, "--commit", "abc123"},
	}, calls[0].opts)

	require.Len(t, f.results.records, 1)
	record := f.results.records[0]
	assert.Equal(t, "microbenchmark", record.TestName)
	assert.Equal(t, domain.RunStatusFinished, record.Status)
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, map[string]any{"passed": 1}, record.Results)
	assert.Empty(t, f.notifier.sent)
}

func TestRun_SmokeTestUsesOverrides(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Run(context.Background(), testtype.RunContext{
		TestType: testtype.LongRunningTests,
		TestName: "train_small",
		Version:  "1.0.0", Commit: "c", Branch: "b",
		Smoke: true,
	})
	require.NoError(t, err)

	calls := f.runner.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, 600*time.Second, calls[0].def.Timeout())
	assert.True(t, calls[0].opts.Smoke)
	assert.NotEmpty(t, calls[0].opts.SessionID)
	assert.Contains(t, calls[0].opts.Args, "--workload=train_small")
}

func TestRun_NotifiesOwnerWhenNotFinished(t *testing.T) {
	f := newFixture(t)
	f.runner.result = &domain.RunResult{Status: domain.RunStatusTimeout, LastLogs: "Test timed out."}

	result, err := f.svc.Run(context.Background(), testtype.RunContext{TestType: testtype.Microbenchmark})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusTimeout, result.Status)

	require.Len(t, f.notifier.sent, 1)
	n := f.notifier.sent[0]
	assert.Equal(t, "@core", n.Owner.Slack)
	assert.Equal(t, domain.RunStatusTimeout, n.Status)
	assert.Contains(t, n.Message, "Test timed out.")
	assert.Equal(t, domain.RunStatusTimeout, f.results.records[0].Status)
}

func TestRun_Rejections(t *testing.T) {
	tests := map[string]struct {
		rc   testtype.RunContext
		want error
	}{
		"unknown type":     {testtype.RunContext{TestType: "nope"}, domain.ErrUnknownTestType},
		"partial revision": {testtype.RunContext{TestType: testtype.Microbenchmark, Version: "1.0.0"}, testtype.ErrPartialRevision},
		"unknown test":     {testtype.RunContext{TestType: testtype.LongRunningTests, TestName: "missing"}, domain.ErrTestNotFound},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Run(context.Background(), tt.rc)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, f.runner.snapshot())
		})
	}
}

func TestRun_CommitResolverFailure(t *testing.T) {
	f := newFixture(t)
	f.svc.commits = staticCommits{err: errors.New("rate limited")}

	_, err := f.svc.Run(context.Background(), testtype.RunContext{TestType: testtype.Microbenchmark})
	assert.ErrorContains(t, err, "rate limited")
}

func TestRun_ReportFailureIsReturned(t *testing.T) {
	f := newFixture(t)
	f.results.err = errors.New("database is locked")

	result, err := f.svc.Run(context.Background(), testtype.RunContext{TestType: testtype.Microbenchmark})
	assert.ErrorContains(t, err, "database is locked")
	require.NotNil(t, result)
	assert.Equal(t, domain.RunStatusFinished, result.Status)
}

func TestDispatch_RejectsOverlappingRuns(t *testing.T) {
	f := newFixture(t)
	f.runner.release = make(chan struct{})
	test := &domain.ScheduledTest{TestType: testtype.LongRunningTests, Interval: 60, Kwargs: map[string]any{"test_name": "train_small"}}

	require.NoError(t, f.svc.Dispatch(context.Background(), test))
	require.Eventually(t, func() bool { return len(f.runner.snapshot()) == 1 }, time.Second, time.Millisecond)

	err := f.svc.Dispatch(context.Background(), test)
	assert.ErrorIs(t, err, domain.ErrRunInFlight)

	close(f.runner.release)
	f.svc.Wait()

	require.NoError(t, f.svc.Dispatch(context.Background(), test))
	f.svc.Wait()
	assert.Len(t, f.runner.snapshot(), 2)
	assert.Len(t, f.results.records, 2)
}

func TestDispatch_OutlivesCallerContext(t *testing.T) {
	f := newFixture(t)
	f.runner.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.svc.Dispatch(ctx, &domain.ScheduledTest{TestType: testtype.Microbenchmark, Interval: 60}))
	cancel()
	close(f.runner.release)
	f.svc.Wait()

	require.Len(t, f.results.records, 1)
	assert.Equal(t, domain.RunStatusFinished, f.results.records[0].Status)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		_, err := f.svc.Run(context.Background(), testtype.RunContext{TestType: testtype.Microbenchmark})
		require.NoError(t, err)
	}

	records, err := f.svc.History(context.Background(), "microbenchmark", 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
