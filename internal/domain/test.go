// internal/domain/test.go
package domain

import "time"

const (
	DefaultRunTimeout  = 1800 * time.Second
	DefaultLogLines    = 50
	DefaultResultsPath = "/tmp/release_test_out.json"
)

// ClusterSpec names the declaration files of a test, relative to its LocalDir.
// When ClusterConfig is set the session is started from the raw cluster config
// and the app config / compute template pair is ignored.
type ClusterSpec struct {
	ClusterConfig   string `yaml:"cluster_config" json:"cluster_config,omitempty"`
	AppConfig       string `yaml:"app_config" json:"app_config,omitempty"`
	ComputeTemplate string `yaml:"compute_template" json:"compute_template,omitempty"`
}

// RunSpec describes the commands executed on the session.
type RunSpec struct {
	Script  string   `yaml:"script" json:"script" validate:"required"`
	Args    []string `yaml:"args" json:"args,omitempty"`
	Prepare string   `yaml:"prepare" json:"prepare,omitempty"`
	Timeout int      `yaml:"timeout" json:"timeout,omitempty" validate:"gte=0"` // seconds
	Results string   `yaml:"results" json:"results,omitempty"`
}

// Owner is who gets told when a run does not finish.
type Owner struct {
	Slack string `yaml:"slack" json:"slack,omitempty"`
	Mail  string `yaml:"mail" json:"mail,omitempty"`
}

// TestDefinition is one entry of a release test definitions file.
type TestDefinition struct {
	Name      string            `yaml:"name" json:"name" validate:"required"`
	TestType  string            `yaml:"test_type" json:"test_type,omitempty"`
	LocalDir  string            `yaml:"local_dir" json:"local_dir"`
	Cluster   ClusterSpec       `yaml:"cluster" json:"cluster"`
	Run       RunSpec           `yaml:"run" json:"run"`
	Artifacts map[string]string `yaml:"artifacts" json:"artifacts,omitempty"`
	LogLines  int               `yaml:"log_lines" json:"log_lines,omitempty" validate:"gte=0"`
	Owner     Owner             `yaml:"owner" json:"owner"`
}

// Timeout returns the wall-clock budget of a run.
func (d *TestDefinition) Timeout() time.Duration {
	if d.Run.Timeout <= 0 {
		return DefaultRunTimeout
	}
	return time.Duration(d.Run.Timeout) * time.Second
}

// TrailingLogLines returns how many log lines are kept in a result.
func (d *TestDefinition) TrailingLogLines() int {
	if d.LogLines <= 0 {
		return DefaultLogLines
	}
	return d.LogLines
}

// ResultsPath is the remote path the test script writes its JSON results to.
func (d *TestDefinition) ResultsPath() string {
	if d.Run.Results == "" {
		return DefaultResultsPath
	}
	return d.Run.Results
}

// Kind is the test type used for session naming and sweeps. Definitions
// without an explicit type are grouped under their own name.
func (d *TestDefinition) Kind() string {
	if d.TestType != "" {
		return d.TestType
	}
	return d.Name
}

// RunOptions are the per-invocation parameters of a run.
type RunOptions struct {
	Smoke     bool
	Version   string
	Commit    string
	Branch    string
	SessionID string
	// Args are appended to the script arguments of the definition.
	Args []string
}
