// internal/scheduler/config.go
package scheduler

import (
	"fmt"
	"os"
	"time"

	"release-orchestrator/internal/domain"
	"release-orchestrator/internal/testtype"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the content of schedule.yaml.
type Config struct {
	// CleanupFrequency is the cleanup period in seconds.
	CleanupFrequency int `yaml:"cleanup_frequency" json:"cleanup_frequency" validate:"required_without=CleanupSchedule,gte=0"`
	// CleanupSchedule is a standard cron expression or descriptor such as
	// "@every 30m". It takes precedence over CleanupFrequency.
	CleanupSchedule string                 `yaml:"cleanup_schedule" json:"cleanup_schedule" validate:"omitempty,cron"`
	Tests           []domain.ScheduledTest `yaml:"tests" json:"tests" validate:"required,min=1,dive"`
}

// NewValidator returns a validator that knows the testtype and cron tags.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("testtype", func(fl validator.FieldLevel) bool {
		return testtype.IsRegistered(fl.Field().String())
	})
	_ = v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	return v
}

// LoadConfig reads and validates a schedule file. Any error here is meant to
// stop the process at startup.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schedule %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse schedule %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schedule %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks field constraints and that entry keys are unique.
func (c *Config) Validate() error {
	if err := NewValidator().Struct(c); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Tests))
	for i := range c.Tests {
		key := c.Tests[i].Key()
		if seen[key] {
			return fmt.Errorf("duplicate schedule entry %q", key)
		}
		seen[key] = true
	}
	return nil
}

// CleanupCadence returns when cleanups run.
func (c *Config) CleanupCadence() (cron.Schedule, error) {
	if c.CleanupSchedule != "" {
		sched, err := cron.ParseStandard(c.CleanupSchedule)
		if err != nil {
			return nil, fmt.Errorf("failed to parse cleanup schedule %q: %w", c.CleanupSchedule, err)
		}
		return sched, nil
	}
	if c.CleanupFrequency <= 0 {
		return nil, fmt.Errorf("cleanup frequency must be positive, got %d", c.CleanupFrequency)
	}
	return cron.Every(time.Duration(c.CleanupFrequency) * time.Second), nil
}
