// internal/testtype/context.go
package testtype

import (
	"errors"
	"fmt"

	"release-orchestrator/internal/domain"
	"release-orchestrator/internal/sessionname"
)

// ErrPartialRevision is returned when only some of version, commit and branch
// are given.
var ErrPartialRevision = errors.New("version, commit and branch must be given together or not at all")

// RunContext identifies one run of a test type.
type RunContext struct {
	TestType string
	// TestName selects the definition inside ConfigFile.
	TestName   string
	ConfigFile string
	Version    string
	Commit     string
	Branch     string
	SessionID  string
	Smoke      bool
}

// NeedsRevision reports whether version, commit and branch are all unset and
// must be filled with the nightly defaults.
func (rc RunContext) NeedsRevision() bool {
	return rc.Version == "" && rc.Commit == "" && rc.Branch == ""
}

// Validate checks the test type and the revision fields.
func (rc RunContext) Validate() error {
	if !IsRegistered(rc.TestType) {
		return fmt.Errorf("%w: %q", domain.ErrUnknownTestType, rc.TestType)
	}
	if rc.Version == "" || rc.Commit == "" || rc.Branch == "" {
		return fmt.Errorf("%w: version=%q commit=%q branch=%q", ErrPartialRevision, rc.Version, rc.Commit, rc.Branch)
	}
	return nil
}

// SessionName is the encoded session name of the run.
func (rc RunContext) SessionName() string {
	return sessionname.Name{
		TestType: rc.TestType,
		Version:  rc.Version,
		Commit:   rc.Commit,
		Branch:   rc.Branch,
		ID:       rc.SessionID,
	}.String()
}

// RunOptions converts the context into coordinator options.
func (rc RunContext) RunOptions() domain.RunOptions {
	return domain.RunOptions{
		Smoke:     rc.Smoke,
		Version:   rc.Version,
		Commit:    rc.Commit,
		Branch:    rc.Branch,
		SessionID: rc.SessionID,
	}
}

// FromSessionName rebuilds the context of a run from its session name.
func FromSessionName(n sessionname.Name) RunContext {
	return RunContext{
		TestType:  n.TestType,
		Version:   n.Version,
		Commit:    n.Commit,
		Branch:    n.Branch,
		SessionID: n.ID,
	}
}
