// internal/coordinator/artifacts.go
package coordinator

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
)

// storeArtifacts uploads the logs and every declared artifact and returns
// their locators keyed by artifact name.
func (r *run) storeArtifacts(ctx context.Context, logs string) (map[string]string, error) {
	if r.c.store == nil {
		r.logger.Info("no object store configured, skipping artifact upload")
		return nil, nil
	}

	saved := make(map[string]string, len(r.def.Artifacts)+1)

	logFile := filepath.Join(r.tempDir, outputLogName)
	if err := os.WriteFile(logFile, []byte(logs), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", logFile, err)
	}
	locator, err := r.c.store.Put(ctx, logFile, r.c.cfg.Bucket, r.objectKey(outputLogName))
	if err != nil {
		return nil, fmt.Errorf("failed to upload logs: %w", err)
	}
	saved[outputLogName] = locator

	for name, remote := range r.def.Artifacts {
		r.logger.Info("downloading artifact", "artifact", name, "remote_path", remote)
		local := filepath.Join(r.tempDir, "artifacts", filepath.Base(name))
		if err := r.c.files.Pull(ctx, r.name, remote, local); err != nil {
			return nil, fmt.Errorf("failed to pull artifact %s: %w", name, err)
		}
		locator, err := r.c.store.Put(ctx, local, r.c.cfg.Bucket, r.objectKey(name))
		if err != nil {
			return nil, fmt.Errorf("failed to upload artifact %s: %w", name, err)
		}
		saved[name] = locator
	}
	return saved, nil
}

// objectKey is {location}/{session name}/{test name}/{artifact}.
func (r *run) objectKey(artifact string) string {
	return path.Join(r.c.cfg.Location, r.name, r.def.Name, artifact)
}
