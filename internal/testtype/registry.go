// internal/testtype/registry.go
package testtype

import (
	"context"
	"fmt"
	"sort"
	"time"

	"release-orchestrator/internal/domain"
)

const (
	Microbenchmark    = "microbenchmark"
	LongRunningTests  = "long_running_tests"
	RLlibUnitGPUTests = "rllib_unit_gpu_tests"
)

// ReportTimeLayout formats report timestamps and object keys.
const ReportTimeLayout = "01-02-2006-15:04:05"

// Kind is the static description of a test type.
type Kind struct {
	Name string
	// Path is the directory of the test type below the release tests root.
	Path string
	// ExpectedDuration is how long a session of this type may live before the
	// stale sweep terminates it.
	ExpectedDuration time.Duration
}

var kinds = map[string]Kind{
	Microbenchmark:    {Name: Microbenchmark, Path: "microbenchmark", ExpectedDuration: time.Hour},
	LongRunningTests:  {Name: LongRunningTests, Path: "long_running_tests", ExpectedDuration: 10 * time.Hour},
	RLlibUnitGPUTests: {Name: RLlibUnitGPUTests, Path: "rllib_tests/unit_gpu_tests", ExpectedDuration: 4 * time.Hour},
}

// Lookup returns the kind registered under name.
func Lookup(name string) (Kind, error) {
	k, ok := kinds[name]
	if !ok {
		return Kind{}, fmt.Errorf("%w: %q", domain.ErrUnknownTestType, name)
	}
	return k, nil
}

// IsRegistered reports whether name is a known test type.
func IsRegistered(name string) bool {
	_, ok := kinds[name]
	return ok
}

// Names returns every registered test type, sorted.
func Names() []string {
	out := make([]string, 0, len(kinds))
	for name := range kinds {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Launcher hands a prepared run to the run coordinator.
type Launcher interface {
	Launch(ctx context.Context, rc RunContext, args []string) error
}

// Controller is the per-type behavior of a release test.
type Controller interface {
	Kind() Kind
	// Run starts the test through launcher with the type's script arguments.
	Run(ctx context.Context, rc RunContext, launcher Launcher) error
	// ProcessLogs extracts the reportable part of the session logs.
	ProcessLogs(lines []string) string
	GenerateReport(rc RunContext, results string, at time.Time) string
	// WriteResult stores results in a local file and returns its path.
	WriteResult(rc RunContext, results string) (string, error)
}

// Registry resolves test types to controllers.
type Registry struct {
	controllers map[string]Controller
}

// NewRegistry builds the registry. Result files are written below resultDir.
func NewRegistry(resultDir string) *Registry {
	return &Registry{controllers: map[string]Controller{
		Microbenchmark:    &microbenchmarkController{base{kind: kinds[Microbenchmark], resultDir: resultDir}},
		LongRunningTests:  &longRunningController{base{kind: kinds[LongRunningTests], resultDir: resultDir}},
		RLlibUnitGPUTests: &rllibUnitGPUController{base{kind: kinds[RLlibUnitGPUTests], resultDir: resultDir}},
	}}
}

// Controller returns the controller of testType or ErrUnknownTestType.
func (r *Registry) Controller(testType string) (Controller, error) {
	c, ok := r.controllers[testType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTestType, testType)
	}
	return c, nil
}
