// internal/domain/schedule.go
package domain

import (
	"context"
	"time"
)

// SchedulingState is the state of a schedule entry.
type SchedulingState string

const (
	StateReady SchedulingState = "Ready"
	StateRun   SchedulingState = "Run"
)

const DefaultReportChannel = "#bot-release-test"

// ScheduledTest is one test of the schedule file.
type ScheduledTest struct {
	TestType       string         `yaml:"test_type" json:"test_type" validate:"required,testtype"`
	Interval       int            `yaml:"interval" json:"interval" validate:"gt=0"` // seconds
	SlackbotUpdate bool           `yaml:"slackbot_update" json:"slackbot_update"`
	ReportChannel  string         `yaml:"report_channel" json:"report_channel"`
	S3Update       bool           `yaml:"s3_update" json:"s3_update"`
	Kwargs         map[string]any `yaml:"kwargs" json:"kwargs,omitempty"`
}

// Key identifies the entry across restarts.
func (t *ScheduledTest) Key() string {
	if name, ok := t.Kwargs["test_name"].(string); ok && name != "" {
		return t.TestType + "/" + name
	}
	return t.TestType
}

// IntervalDuration returns Interval as a duration.
func (t *ScheduledTest) IntervalDuration() time.Duration {
	return time.Duration(t.Interval) * time.Second
}

// ReportOptions returns the post-processing toggles of the entry.
func (t *ScheduledTest) ReportOptions() ReportOptions {
	channel := t.ReportChannel
	if channel == "" {
		channel = DefaultReportChannel
	}
	return ReportOptions{Notify: t.SlackbotUpdate, Upload: t.S3Update, Channel: channel}
}

// ReportOptions controls what the post-processing of a completed session does.
type ReportOptions struct {
	Notify  bool
	Upload  bool
	Channel string
}

// ScheduleEntry is owned by the scheduler loop.
type ScheduleEntry struct {
	Test         ScheduledTest   `json:"test"`
	State        SchedulingState `json:"state"`
	NextSchedule time.Time       `json:"next_schedule"`
}

// ScheduleEntryState is the persisted part of an entry.
type ScheduleEntryState struct {
	Key          string          `json:"key"`
	State        SchedulingState `json:"state"`
	NextSchedule time.Time       `json:"next_schedule"`
}

// ScheduleStateRepository persists entry states so a new leader can resume.
type ScheduleStateRepository interface {
	Save(ctx context.Context, state *ScheduleEntryState) error
	List(ctx context.Context) ([]*ScheduleEntryState, error)
}
