// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "RELEASER"

// Config holds all configuration of the releaser binaries. It is built once
// by Load and never modified afterwards.
type Config struct {
	EtcdEndpoints     []string      `mapstructure:"etcd_endpoints"`
	EtcdTimeout       time.Duration `mapstructure:"etcd_timeout" validate:"gt=0"`
	HttpListenAddr    string        `mapstructure:"http_listen_addr" validate:"required"`
	LeaderElectionTTL time.Duration `mapstructure:"leader_election_ttl" validate:"gte=1s"`

	ProjectID       string `mapstructure:"project_id"`
	CloudID         string `mapstructure:"cloud_id"`
	Location        string `mapstructure:"location"`
	ReleaseTestsDir string `mapstructure:"release_tests_dir" validate:"required"`
	ScheduleFile    string `mapstructure:"schedule_file" validate:"required"`
	// ResultDir receives the report files written by the cleanup sweeps.
	ResultDir      string `mapstructure:"result_dir" validate:"required"`
	TempDir        string `mapstructure:"temp_dir"`
	NightlyVersion string `mapstructure:"nightly_version" validate:"required"`
	// ResultsBackend is sql or etcd. etcd requires EtcdEndpoints.
	ResultsBackend string `mapstructure:"results_backend" validate:"oneof=sql etcd"`

	Run         RunConfig         `mapstructure:"run"`
	Provider    ProviderConfig    `mapstructure:"provider"`
	Database    DatabaseConfig    `mapstructure:"database"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	GitHub      GitHubConfig      `mapstructure:"github"`
}

type RunConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	ReportEvery     time.Duration `mapstructure:"report_every" validate:"gt=0"`
	GracePeriod     time.Duration `mapstructure:"grace_period" validate:"gt=0"`
	TeardownTimeout time.Duration `mapstructure:"teardown_timeout" validate:"gt=0"`
}

type ProviderConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	Backoff    time.Duration `mapstructure:"backoff"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

// ObjectStoreConfig is optional: without an endpoint uploads are skipped.
type ObjectStoreConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key" validate:"required_with=Endpoint"`
	SecretKey string `mapstructure:"secret_key" validate:"required_with=Endpoint"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket" validate:"required_with=Endpoint"`
}

// NotifyConfig selects the notifier. Without a redis URL notifications go to
// the log.
type NotifyConfig struct {
	RedisURL string `mapstructure:"redis_url"`
	Stream   string `mapstructure:"stream"`
}

type GitHubConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Repo    string `mapstructure:"repo" validate:"required"`
	Token   string `mapstructure:"token"`
}

var defaults = map[string]any{
	"etcd_endpoints":      []string{},
	"etcd_timeout":        "5s",
	"http_listen_addr":    ":8080",
	"leader_election_ttl": "10s",

	"project_id":        "",
	"cloud_id":          "",
	"location":          "",
	"release_tests_dir": "./release",
	"schedule_file":     "./schedule.yaml",
	"result_dir":        "/tmp/releaser",
	"temp_dir":          "",
	"nightly_version":   "0.9.0.dev0",
	"results_backend":   "sql",

	"run.poll_interval":    "1s",
	"run.report_every":     "30s",
	"run.grace_period":     "10s",
	"run.teardown_timeout": "2m",

	"provider.base_url":    "",
	"provider.token":       "",
	"provider.timeout":     "30s",
	"provider.max_retries": 3,
	"provider.backoff":     "2s",

	"database.driver": "sqlite",
	"database.dsn":    "file:releaser.db",

	"object_store.endpoint":   "",
	"object_store.access_key": "",
	"object_store.secret_key": "",
	"object_store.region":     "",
	"object_store.use_ssl":    true,
	"object_store.bucket":     "",

	"notify.redis_url": "",
	"notify.stream":    "releaser:notifications",

	"github.base_url": "https://api.github.com",
	"github.repo":     "ray-project/ray",
	"github.token":    "",
}

// Load reads config.yaml from paths (./configs and . when none are given),
// then applies RELEASER_* environment variables. A .env file in the working
// directory is loaded into the environment first.
func Load(paths ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./configs", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.ResultsBackend == "etcd" && len(cfg.EtcdEndpoints) == 0 {
		return nil, fmt.Errorf("invalid config: results_backend etcd requires etcd_endpoints")
	}
	return &cfg, nil
}
