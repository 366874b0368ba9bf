// internal/domain/environment.go
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// EnvironmentSpec holds the rendered declarations of a test.
type EnvironmentSpec struct {
	ClusterConfig   map[string]any
	AppConfig       map[string]any
	ComputeTemplate map[string]any
}

// UsesClusterConfig reports whether the session is started from a raw cluster
// config instead of a managed environment.
func (s *EnvironmentSpec) UsesClusterConfig() bool {
	return s != nil && s.ClusterConfig != nil
}

// Environment identifies the remote artifacts a session is started from.
type Environment struct {
	ComputeTemplateID string
	AppConfigID       string
	BuildID           string
}

// Hash returns a stable content identifier for a declaration. Map keys are
// serialized in sorted order, so equal content always hashes the same.
func Hash(doc map[string]any) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to serialize declaration: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// NamedResource is a compute template or app config record.
type NamedResource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

const (
	BuildPending    = "pending"
	BuildInProgress = "in_progress"
	BuildSucceeded  = "succeeded"
	BuildFailed     = "failed"
)

// Build is an application image build of an app config.
type Build struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
