// internal/domain/result.go
package domain

import (
	"context"
	"fmt"
	"time"
)

// RunStatus is the outcome of a run. No other value ever reaches the store.
type RunStatus string

const (
	RunStatusFinished RunStatus = "finished"
	RunStatusError    RunStatus = "error"
	RunStatusTimeout  RunStatus = "timeout"
)

// Valid reports whether s is one of the three run statuses.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusFinished, RunStatusError, RunStatusTimeout:
		return true
	}
	return false
}

// RunResult is produced once per run and not modified afterwards.
type RunResult struct {
	Status    RunStatus         `json:"status"`
	LastLogs  string            `json:"last_logs"`
	Results   map[string]any    `json:"results,omitempty"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

// ErrorResult builds an error result carrying logs.
func ErrorResult(logs string) *RunResult {
	return &RunResult{Status: RunStatusError, LastLogs: logs}
}

// Normalize maps an unset or unknown status to error.
func (r *RunResult) Normalize() *RunResult {
	if r == nil {
		return ErrorResult("run produced no result")
	}
	if !r.Status.Valid() {
		out := *r
		out.Status = RunStatusError
		return &out
	}
	return r
}

// ResultRecord is a persisted run result.
type ResultRecord struct {
	ID        string            `json:"id"`
	CreatedOn time.Time         `json:"created_on"`
	TestName  string            `json:"test_name"`
	Status    RunStatus         `json:"status"`
	LastLogs  string            `json:"last_logs"`
	Results   map[string]any    `json:"results"`
	Artifacts map[string]string `json:"artifacts"`
}

// Validate checks if the record can be stored.
func (r *ResultRecord) Validate() error {
	if r.TestName == "" {
		return fmt.Errorf("result record test name cannot be empty")
	}
	if r.CreatedOn.IsZero() {
		return fmt.Errorf("result record created_on cannot be zero")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("invalid result record status: %q", r.Status)
	}
	return nil
}

// ResultRepository is the append-only durable result store.
type ResultRepository interface {
	// Save appends a record. Records are never updated in place.
	Save(ctx context.Context, record *ResultRecord) error
	// Latest returns the newest record of a test or ErrResultNotFound.
	Latest(ctx context.Context, testName string) (*ResultRecord, error)
	// List returns up to limit records of a test, newest first.
	List(ctx context.Context, testName string, limit int) ([]*ResultRecord, error)
}
