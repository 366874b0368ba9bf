package cleanup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"release-orchestrator/internal/domain"
	"release-orchestrator/internal/infra/provider/fakeprovider"
	"release-orchestrator/internal/poll"
	"release-orchestrator/internal/session"
	"release-orchestrator/internal/sessionname"
	"release-orchestrator/internal/testtype"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

type recordingStore struct {
	keys     []string
	contents []string
}

func (s *recordingStore) Put(_ context.Context, localFile, bucket, key string) (string, error) {
	b, err := os.ReadFile(localFile)
	if err != nil {
		return "", err
	}
	s.keys = append(s.keys, key)
	s.contents = append(s.contents, string(b))
	return "s3://" + bucket + "/" + key, nil
}

type fixture struct {
	p        *fakeprovider.Provider
	notifier *recordingNotifier
	store    *recordingStore
	sweeper  *Sweeper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := fakeprovider.New()
	f := &fixture{p: p, notifier: &recordingNotifier{}, store: &recordingStore{}}
	sessions := session.NewManager(p, poll.Config{Interval: time.Millisecond}, logger)
	f.sweeper = NewSweeper(p, sessions, testtype.NewRegistry(t.TempDir()), f.store, f.notifier, Config{ProjectID: "prj_1", Bucket: "release-pipeline-result"}, logger)
	f.sweeper.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return f
}

func (f *fixture) add(id, testType, createdAt string, commands ...string) string {
	name := sessionname.Name{TestType: testType, Version: "1.0", Commit: "abc", Branch: "master", ID: id}.String()
	status := domain.SessionStatus{ID: id, Name: name, Status: string(domain.SessionRunning), CreatedAt: createdAt}
	for i, st := range commands {
		status.Commands = append(status.Commands, domain.SessionCommand{ID: id + "-" + string(rune('a'+i)), Status: st})
	}
	f.p.AddSession("prj_1", status)
	return name
}

func TestParseAge(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"36 seconds ago", 0.01},
		{"30 minutes ago", 0.5},
		{"a minute ago", 1.0 / 60},
		{"1 hour ago", 1},
		{"an hour ago", 1},
		{"3 hours ago", 3},
		{"2 days ago", 48},
		{"a day ago", 24},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAge(tt.in)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, err := ParseAge("2 weeks ago")
	assert.ErrorIs(t, err, domain.ErrUnknownTimeUnit)

	for _, bad := range []string{"", "yesterday", "x hours ago", "3 hours"} {
		_, err := ParseAge(bad)
		assert.Error(t, err, bad)
		assert.NotErrorIs(t, err, domain.ErrUnknownTimeUnit, bad)
	}
}

func TestForceTerminateOld_TerminatesIncompleteStaleSessions(t *testing.T) {
	f := newFixture(t)
	f.add("old", testtype.LongRunningTests, "11 hours ago", "RUNNING")
	f.add("young", testtype.LongRunningTests, "3 hours ago", "RUNNING")
	f.add("other", testtype.Microbenchmark, "2 days ago", "RUNNING")
	f.p.AddSession("prj_1", domain.SessionStatus{ID: "foreign", Name: "my-dev-session", Status: "Running", CreatedAt: "9 days ago"})

	require.NoError(t, f.sweeper.ForceTerminateOld(context.Background(), testtype.LongRunningTests))

	assert.Equal(t, 1, f.p.Stops("old"))
	assert.Zero(t, f.p.Stops("young"))
	assert.Zero(t, f.p.Stops("other"))
	assert.Zero(t, f.p.Stops("foreign"))
}

func TestForceTerminateOld_UnknownUnitAborts(t *testing.T) {
	f := newFixture(t)
	f.add("weird", testtype.Microbenchmark, "2 fortnights ago")

	err := f.sweeper.ForceTerminateOld(context.Background(), testtype.Microbenchmark)
	assert.ErrorIs(t, err, domain.ErrUnknownTimeUnit)
	assert.Zero(t, f.p.Stops("weird"))
}

func TestForceTerminateOld_UnknownType(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.sweeper.ForceTerminateOld(context.Background(), "nope"), domain.ErrUnknownTestType)
}

func TestCleanupCompleted(t *testing.T) {
	f := newFixture(t)
	f.p.SessionLogs = "warming up\nsingle client get calls per second 100\nmulti client put calls per second 50"
	done := f.add("done", testtype.Microbenchmark, "30 minutes ago", domain.CommandStatusFinished, domain.CommandStatusFinished)
	f.add("busy", testtype.Microbenchmark, "30 minutes ago", domain.CommandStatusFinished, "RUNNING")
	f.add("idle", testtype.Microbenchmark, "30 minutes ago")

	opts := domain.ReportOptions{Notify: true, Upload: true, Channel: "#releases"}
	require.NoError(t, f.sweeper.CleanupCompleted(context.Background(), testtype.Microbenchmark, opts))

	assert.Equal(t, 1, f.p.Stops("done"))
	assert.Zero(t, f.p.Stops("busy"))
	assert.Zero(t, f.p.Stops("idle"))

	require.Len(t, f.store.keys, 1)
	assert.Equal(t, "microbenchmark/time=01-02-2024-03:04:05/session_id=done/commit=abc/branch=master/version=1.0", f.store.keys[0])
	assert.Equal(t, "single client get calls per second 100\nmulti client put calls per second 50", f.store.contents[0])

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "#releases", f.notifier.sent[0].Channel)
	assert.Contains(t, f.notifier.sent[0].Message, "Session Name: "+done)
	assert.Contains(t, f.notifier.sent[0].Message, "*Result*\nsingle client get calls per second 100")
}

func TestCleanupCompleted_TogglesOff(t *testing.T) {
	f := newFixture(t)
	f.add("done", testtype.Microbenchmark, "30 minutes ago", domain.CommandStatusFinished)

	require.NoError(t, f.sweeper.CleanupCompleted(context.Background(), testtype.Microbenchmark, domain.ReportOptions{}))

	assert.Equal(t, 1, f.p.Stops("done"))
	assert.Empty(t, f.store.keys)
	assert.Empty(t, f.notifier.sent)
}

func TestCleanupCompleted_UpdateFailureNotifiesAndAborts(t *testing.T) {
	f := newFixture(t)
	f.p.Fail(fakeprovider.MethodGetSessionLogs, errors.New("logs unavailable"))
	f.add("done", testtype.Microbenchmark, "30 minutes ago", domain.CommandStatusFinished)

	err := f.sweeper.Clean(context.Background(), testtype.Microbenchmark, domain.ReportOptions{Channel: "#releases"})
	require.ErrorContains(t, err, "logs unavailable")

	assert.Zero(t, f.p.Stops("done"))
	require.Len(t, f.notifier.sent, 1)
	assert.Contains(t, f.notifier.sent[0].Message, "Error while updating the test result")
}

func TestClean_RunsBothSweeps(t *testing.T) {
	f := newFixture(t)
	f.add("done", testtype.RLlibUnitGPUTests, "1 hour ago", domain.CommandStatusFinished)
	f.add("stale", testtype.RLlibUnitGPUTests, "5 hours ago", "RUNNING")

	require.NoError(t, f.sweeper.Clean(context.Background(), testtype.RLlibUnitGPUTests, domain.ReportOptions{}))

	assert.Equal(t, 1, f.p.Stops("done"))
	assert.Equal(t, 1, f.p.Stops("stale"))
}

func TestUpdateByName(t *testing.T) {
	f := newFixture(t)
	f.p.SessionLogs = "line"
	name := f.add("s1", testtype.LongRunningTests, "1 hour ago", domain.CommandStatusFinished)

	require.NoError(t, f.sweeper.UpdateByName(context.Background(), name, domain.ReportOptions{Notify: true, Channel: "#c"}))
	require.Len(t, f.notifier.sent, 1)
	assert.Zero(t, f.p.Stops("s1"))

	err := f.sweeper.UpdateByName(context.Background(), sessionname.Name{TestType: testtype.LongRunningTests, ID: "x"}.String(), domain.ReportOptions{})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	assert.ErrorIs(t, f.sweeper.UpdateByName(context.Background(), "garbage", domain.ReportOptions{}), domain.ErrInvalidSessionName)
}
