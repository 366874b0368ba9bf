// internal/testtype/controllers.go
package testtype

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var microbenchmarkIdentifiers = map[string]bool{
	"single": true,
	"multi":  true,
	"1:1":    true,
	"1:n":    true,
	"n:n":    true,
}

type base struct {
	kind      Kind
	resultDir string
}

func (b base) Kind() Kind { return b.kind }

func (b base) ProcessLogs(lines []string) string {
	return strings.Join(lines, "\n")
}

func (b base) GenerateReport(rc RunContext, results string, at time.Time) string {
	var sb strings.Builder
	sb.WriteString("Releaser successfully ran the test! Here is the result.\n\n")
	sb.WriteString("*Summary*\n")
	fmt.Fprintf(&sb, "Test Type: %s\n", b.kind.Name)
	fmt.Fprintf(&sb, "Session Name: %s\n", rc.SessionName())
	fmt.Fprintf(&sb, "Ray Version: %s\n", rc.Version)
	fmt.Fprintf(&sb, "Ray Branch: %s\n", rc.Branch)
	fmt.Fprintf(&sb, "Ray Commit: %s\n", rc.Commit)
	fmt.Fprintf(&sb, "Created: %s\n\n", at.Format(ReportTimeLayout))
	sb.WriteString("*Result*\n")
	sb.WriteString(results)
	return sb.String()
}

func (b base) WriteResult(_ RunContext, results string) (string, error) {
	if err := os.MkdirAll(b.resultDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create result dir %s: %w", b.resultDir, err)
	}
	path := filepath.Join(b.resultDir, b.kind.Name+".txt")
	if err := os.WriteFile(path, []byte(results), 0o644); err != nil {
		return "", fmt.Errorf("failed to write result file %s: %w", path, err)
	}
	return path, nil
}

type microbenchmarkController struct{ base }

func (c *microbenchmarkController) Run(ctx context.Context, rc RunContext, launcher Launcher) error {
	return launcher.Launch(ctx, rc, []string{
		"--ray_version", rc.Version,
		"--ray_branch", rc.Branch,
		"--commit", rc.Commit,
	})
}

// ProcessLogs keeps the benchmark result lines only.
func (c *microbenchmarkController) ProcessLogs(lines []string) string {
	var kept []string
	for _, line := range lines {
		first, _, _ := strings.Cut(line, " ")
		if microbenchmarkIdentifiers[first] {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

type longRunningController struct{ base }

func (c *longRunningController) Run(ctx context.Context, rc RunContext, launcher Launcher) error {
	args := []string{
		"--ray-version=" + rc.Version,
		"--ray-branch=" + rc.Branch,
		"--commit=" + rc.Commit,
	}
	if rc.TestName != "" {
		args = append(args, "--workload="+rc.TestName)
	}
	return launcher.Launch(ctx, rc, args)
}

type rllibUnitGPUController struct{ base }

func (c *rllibUnitGPUController) Run(ctx context.Context, rc RunContext, launcher Launcher) error {
	return launcher.Launch(ctx, rc, nil)
}
