package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HttpListenAddr)
	assert.Equal(t, 5*time.Second, cfg.EtcdTimeout)
	assert.Empty(t, cfg.EtcdEndpoints)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 10*time.Second, cfg.Run.GracePeriod)
	assert.Equal(t, 2*time.Minute, cfg.Run.TeardownTimeout)
	assert.Equal(t, 3, cfg.Provider.MaxRetries)
	assert.Equal(t, "ray-project/ray", cfg.GitHub.Repo)
	assert.Equal(t, "0.9.0.dev0", cfg.NightlyVersion)
	assert.Equal(t, "sql", cfg.ResultsBackend)
	assert.Equal(t, time.Second, cfg.Run.PollInterval)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := writeConfig(t, `
project_id: prj_1
location: us-west-2
etcd_endpoints: ["etcd-0:2379", "etcd-1:2379"]
database:
  driver: postgres
  dsn: postgres://releaser@db/releaser
object_store:
  endpoint: s3.amazonaws.com
  access_key: a
  secret_key: b
  bucket: release-logs
run:
  grace_period: 20s
`)
	t.Setenv("RELEASER_PROJECT_ID", "prj_env")
	t.Setenv("RELEASER_RUN_POLL_INTERVAL", "3s")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "prj_env", cfg.ProjectID)
	assert.Equal(t, "us-west-2", cfg.Location)
	assert.Equal(t, []string{"etcd-0:2379", "etcd-1:2379"}, cfg.EtcdEndpoints)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "release-logs", cfg.ObjectStore.Bucket)
	assert.Equal(t, 20*time.Second, cfg.Run.GracePeriod)
	assert.Equal(t, 3*time.Second, cfg.Run.PollInterval)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad driver":               "database:\n  driver: mysql\n",
		"object store without key": "object_store:\n  endpoint: s3.amazonaws.com\n",
		"malformed":                "project_id: [\n",
		"etcd results without etcd": "results_backend: etcd\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}
