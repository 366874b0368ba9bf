package testdef

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"release-orchestrator/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const definitions = `
- name: train_small
  test_type: long_running_tests
  local_dir: workloads
  cluster:
    app_config: app_config.yaml
    compute_template: tpl.yaml
  run:
    timeout: 3600
    script: python workloads/train_small.py
    args: ["--num-workers", "4"]
  artifacts:
    model: /tmp/model.pt
  owner:
    slack: "@ml-team"
  smoke_test:
    run:
      timeout: 600
    cluster:
      compute_template: tpl_smoke.yaml

- name: no_dir
  run:
    script: python run.py
`

func writeDefinitions(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	file := filepath.Join(dir, "release_tests.yaml")
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))
	return file
}

func TestLoad(t *testing.T) {
	file := writeDefinitions(t, definitions)

	def, err := Load(file, "train_small", false)
	require.NoError(t, err)

	assert.Equal(t, "train_small", def.Name)
	assert.Equal(t, "long_running_tests", def.Kind())
	assert.Equal(t, filepath.Join(filepath.Dir(file), "workloads"), def.LocalDir)
	assert.Equal(t, "tpl.yaml", def.Cluster.ComputeTemplate)
	assert.Equal(t, time.Hour, def.Timeout())
	assert.Equal(t, []string{"--num-workers", "4"}, def.Run.Args)
	assert.Equal(t, map[string]string{"model": "/tmp/model.pt"}, def.Artifacts)
	assert.Equal(t, "@ml-team", def.Owner.Slack)
	assert.Equal(t, domain.DefaultLogLines, def.TrailingLogLines())
	assert.Equal(t, domain.DefaultResultsPath, def.ResultsPath())
}

func TestLoad_SmokeMerge(t *testing.T) {
	file := writeDefinitions(t, definitions)

	def, err := Load(file, "train_small", true)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, def.Timeout())
	assert.Equal(t, "tpl_smoke.yaml", def.Cluster.ComputeTemplate)
	assert.Equal(t, "app_config.yaml", def.Cluster.AppConfig, "sibling keys survive the merge")
	assert.Equal(t, "python workloads/train_small.py", def.Run.Script)
}

func TestLoad_DefaultsLocalDirToFileDir(t *testing.T) {
	file := writeDefinitions(t, definitions)

	def, err := Load(file, "no_dir", false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Dir(file), def.LocalDir)
	assert.Equal(t, "no_dir", def.Kind())
	assert.Equal(t, domain.DefaultRunTimeout, def.Timeout())
}

func TestLoad_Errors(t *testing.T) {
	t.Run("unknown test", func(t *testing.T) {
		_, err := Load(writeDefinitions(t, definitions), "missing", false)
		assert.ErrorIs(t, err, domain.ErrTestNotFound)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeDefinitions(t, "- name: [unclosed"), "x", false)
		assert.Error(t, err)
	})

	t.Run("missing script", func(t *testing.T) {
		_, err := Load(writeDefinitions(t, "- name: broken\n  run: {}\n"), "broken", false)
		assert.ErrorContains(t, err, "Script")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "x", false)
		assert.Error(t, err)
	})
}

func TestDeepMerge(t *testing.T) {
	base := map[string]any{"a": 1, "n": map[string]any{"x": 1, "y": 2}}
	got := DeepMerge(base, map[string]any{"n": map[string]any{"y": 3}, "b": 2})

	assert.Equal(t, map[string]any{"a": 1, "b": 2, "n": map[string]any{"x": 1, "y": 3}}, got)
	assert.Equal(t, 2, base["n"].(map[string]any)["y"], "base is not modified")
}
