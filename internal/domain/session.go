// internal/domain/session.go
package domain

// SessionState is the lifecycle state of a session owned by a run.
type SessionState string

const (
	SessionCreating     SessionState = "Creating"
	SessionRunning      SessionState = "Running"
	SessionReadyForWork SessionState = "ReadyForWork"
	SessionStopping     SessionState = "Stopping"
	SessionTerminated   SessionState = "Terminated"
)

// SessionHandle is owned exclusively by the run that created it.
type SessionHandle struct {
	ID    string
	Name  string
	State SessionState
}

// SessionSummary is a search hit returned by the provider.
type SessionSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// SessionOptions is the create request of a session.
type SessionOptions struct {
	Name              string `json:"name"`
	ProjectID         string `json:"project_id"`
	CloudID           string `json:"cloud_id,omitempty"`
	ClusterConfig     string `json:"cluster_config,omitempty"`
	ComputeTemplateID string `json:"compute_template_id,omitempty"`
	BuildID           string `json:"build_id,omitempty"`
	UsesAppConfig     bool   `json:"uses_app_config"`
}

// SessionOperation tracks an asynchronous start request.
type SessionOperation struct {
	ID        string `json:"id"`
	Completed bool   `json:"completed"`
}

const CommandStatusFinished = "FINISHED"

// SessionCommand is a command record as listed by the provider.
type SessionCommand struct {
	ID        string `json:"session_command_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// SessionStatus is a listed session. CreatedAt is a provider-rendered
// relative time such as "3 hours ago".
type SessionStatus struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Status    string           `json:"status"`
	CreatedAt string           `json:"created_at"`
	Commands  []SessionCommand `json:"commands"`
}

// Completed reports whether the session ran at least one command and every
// command has finished.
func (s *SessionStatus) Completed() bool {
	if len(s.Commands) == 0 {
		return false
	}
	for _, c := range s.Commands {
		if c.Status != CommandStatusFinished {
			return false
		}
	}
	return true
}
