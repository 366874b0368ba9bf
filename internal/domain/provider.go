// internal/domain/provider.go
package domain

import "context"

// EnvironmentAPI manages compute templates, app configs and their builds.
type EnvironmentAPI interface {
	ListComputeTemplates(ctx context.Context, projectID string) ([]NamedResource, error)
	CreateComputeTemplate(ctx context.Context, projectID, name string, config map[string]any) (string, error)
	ListAppConfigs(ctx context.Context, projectID string, count int) ([]NamedResource, error)
	CreateAppConfig(ctx context.Context, projectID, name string, config map[string]any) (string, error)
	ListBuilds(ctx context.Context, appConfigID string) ([]Build, error)
	GetBuild(ctx context.Context, buildID string) (*Build, error)
}

// SessionAPI drives the session lifecycle.
type SessionAPI interface {
	SearchSessions(ctx context.Context, projectID, name string) ([]SessionSummary, error)
	CreateSession(ctx context.Context, opts SessionOptions) (string, error)
	StartSession(ctx context.Context, sessionID string) (*SessionOperation, error)
	GetSessionOperation(ctx context.Context, operationID string) (*SessionOperation, error)
	StopSession(ctx context.Context, sessionID string, terminate bool) error
}

// CommandAPI runs shell commands on a session.
type CommandAPI interface {
	CreateCommand(ctx context.Context, sessionID, shellCommand string) (*CommandStatus, error)
	GetCommand(ctx context.Context, commandID string) (*CommandStatus, error)
	GetExecutionLogs(ctx context.Context, commandID string, lines int) (string, error)
}

// FileAPI moves files between the local host and a session.
type FileAPI interface {
	Push(ctx context.Context, sessionName, localDir string) error
	Pull(ctx context.Context, sessionName, remotePath, localPath string) error
}

// ScanAPI lists sessions for the cleanup sweeps.
type ScanAPI interface {
	ListSessions(ctx context.Context, projectID string) ([]SessionStatus, error)
	GetSessionLogs(ctx context.Context, sessionID string) (string, error)
}

// Provider is the full compute session provider capability set.
type Provider interface {
	EnvironmentAPI
	SessionAPI
	CommandAPI
	FileAPI
	ScanAPI
}
