package environment

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"release-orchestrator/internal/domain"
	"release-orchestrator/internal/infra/provider/fakeprovider"
	"release-orchestrator/internal/poll"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(p *fakeprovider.Provider) *Resolver {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewResolver(p, poll.Config{Interval: time.Millisecond, ReportEvery: time.Millisecond}, logger)
}

func testSpec() *domain.EnvironmentSpec {
	return &domain.EnvironmentSpec{
		AppConfig:       map[string]any{"base_image": "anyscale/ray:nightly", "python": map[string]any{"pip_packages": []any{"pytest"}}},
		ComputeTemplate: map[string]any{"region": "us-west-2", "head_node_type": map[string]any{"instance_type": "m5.xlarge"}},
	}
}

func TestResolve_Idempotent(t *testing.T) {
	p := fakeprovider.New()
	r := newTestResolver(p)

	first, err := r.Resolve(context.Background(), "prj_1", testSpec())
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), "prj_1", testSpec())
	require.NoError(t, err)

	assert.Equal(t, first.ComputeTemplateID, second.ComputeTemplateID)
	assert.Equal(t, first.AppConfigID, second.AppConfigID)
	assert.Equal(t, first.BuildID, second.BuildID)
	assert.Equal(t, 1, p.Calls(fakeprovider.MethodCreateComputeTemplate))
	assert.Equal(t, 1, p.Calls(fakeprovider.MethodCreateAppConfig))
}

func TestResolve_ReusesTemplateNamedByHash(t *testing.T) {
	p := fakeprovider.New()
	spec := testSpec()
	hash, err := domain.Hash(spec.ComputeTemplate)
	require.NoError(t, err)
	p.AddComputeTemplate(domain.NamedResource{ID: "cpt_existing", Name: hash})

	env, err := newTestResolver(p).Resolve(context.Background(), "prj_1", spec)
	require.NoError(t, err)

	assert.Equal(t, "cpt_existing", env.ComputeTemplateID)
	assert.Equal(t, 0, p.Calls(fakeprovider.MethodCreateComputeTemplate))
}

func TestResolve_ClusterConfigNeedsNoEnvironment(t *testing.T) {
	p := fakeprovider.New()
	spec := &domain.EnvironmentSpec{ClusterConfig: map[string]any{"max_workers": 2}}

	env, err := newTestResolver(p).Resolve(context.Background(), "prj_1", spec)
	require.NoError(t, err)
	assert.Nil(t, env)
	assert.Equal(t, 0, p.Calls(fakeprovider.MethodListComputeTemplates))
}

func TestHashIsStableAcrossKeyOrder(t *testing.T) {
	a := map[string]any{"b": 1, "a": map[string]any{"y": "2", "x": "1"}}
	b := map[string]any{"a": map[string]any{"x": "1", "y": "2"}, "b": 1}

	ha, err := domain.Hash(a)
	require.NoError(t, err)
	hb, err := domain.Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestWaitForBuild(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		wantErr  error
	}{
		{name: "already succeeded", statuses: []string{domain.BuildSucceeded}},
		{name: "pending then succeeded", statuses: []string{domain.BuildPending, domain.BuildInProgress, domain.BuildSucceeded}},
		{name: "already failed", statuses: []string{domain.BuildFailed}, wantErr: domain.ErrBuildFailed},
		{name: "fails while polling", statuses: []string{domain.BuildInProgress, domain.BuildFailed}, wantErr: domain.ErrBuildFailed},
		{name: "unknown status fails closed", statuses: []string{domain.BuildPending, "cancelled"}, wantErr: domain.ErrUnknownBuildStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := fakeprovider.New()
			p.BuildStatuses = tt.statuses
			r := newTestResolver(p)

			appID, err := p.CreateAppConfig(context.Background(), "prj_1", "cfg", map[string]any{"a": 1})
			require.NoError(t, err)

			buildID, err := r.WaitForBuild(context.Background(), appID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, buildID)
		})
	}
}

func TestWaitForBuild_NoBuild(t *testing.T) {
	p := fakeprovider.New()
	_, err := newTestResolver(p).WaitForBuild(context.Background(), "apt_missing")
	assert.ErrorIs(t, err, domain.ErrNoBuild)
}

func TestWaitForBuild_OldestSettledBuildWins(t *testing.T) {
	p := fakeprovider.New()
	now := time.Now()
	p.AddBuilds("apt_1",
		domain.Build{ID: "bld_new", Status: domain.BuildSucceeded, CreatedAt: now},
		domain.Build{ID: "bld_old", Status: domain.BuildFailed, CreatedAt: now.Add(-time.Hour)},
	)

	_, err := newTestResolver(p).WaitForBuild(context.Background(), "apt_1")
	assert.ErrorIs(t, err, domain.ErrBuildFailed)
}

func TestWaitForBuild_Cancelled(t *testing.T) {
	p := fakeprovider.New()
	p.BuildStatuses = []string{domain.BuildPending}
	appID, err := p.CreateAppConfig(context.Background(), "prj_1", "cfg", map[string]any{"a": 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = newTestResolver(p).WaitForBuild(ctx, appID)
	assert.ErrorIs(t, err, domain.ErrRunAborted)
}
