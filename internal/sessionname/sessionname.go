// internal/sessionname/sessionname.go

// Package sessionname encodes run identity into a session name and back.
//
// A name is five fields joined by '_': test type, version, commit, branch and
// id. Inside each field '%' and '_' are percent-escaped, so any field value
// (test types such as long_running_tests included) round-trips.
package sessionname

import (
	"fmt"
	"net/url"
	"strings"

	"release-orchestrator/internal/domain"
)

const (
	separator = "_"
	fieldsLen = 5
)

var escaper = strings.NewReplacer("%", "%25", "_", "%5F")

// Name is the decoded form of a session name.
type Name struct {
	TestType string
	Version  string
	Commit   string
	Branch   string
	ID       string
}

// String encodes n.
func (n Name) String() string {
	fields := []string{n.TestType, n.Version, n.Commit, n.Branch, n.ID}
	for i, f := range fields {
		fields[i] = escaper.Replace(f)
	}
	return strings.Join(fields, separator)
}

// Parse decodes a session name produced by Name.String.
func Parse(s string) (Name, error) {
	parts := strings.Split(s, separator)
	if len(parts) != fieldsLen {
		return Name{}, fmt.Errorf("%w: %q has %d fields", domain.ErrInvalidSessionName, s, len(parts))
	}
	for i, p := range parts {
		v, err := url.PathUnescape(p)
		if err != nil {
			return Name{}, fmt.Errorf("%w: %q: %w", domain.ErrInvalidSessionName, s, err)
		}
		parts[i] = v
	}
	if parts[0] == "" {
		return Name{}, fmt.Errorf("%w: %q has no test type", domain.ErrInvalidSessionName, s)
	}
	return Name{TestType: parts[0], Version: parts[1], Commit: parts[2], Branch: parts[3], ID: parts[4]}, nil
}
