// internal/domain/command.go
package domain

import "time"

// CommandState is the state of a command submitted to a session.
type CommandState string

const (
	CommandSubmitted CommandState = "Submitted"
	CommandPolling   CommandState = "Polling"
	CommandFinished  CommandState = "Finished"
	CommandTimedOut  CommandState = "TimedOut"
)

// CommandExecution is a command run on a session.
type CommandExecution struct {
	ID        string
	SessionID string
	State     CommandState
	ExitCode  int
	Elapsed   time.Duration
}

// Terminal reports whether the execution can no longer change.
func (c *CommandExecution) Terminal() bool {
	return c.State == CommandFinished || c.State == CommandTimedOut
}

// CommandStatus is the provider view of a command.
type CommandStatus struct {
	ID         string     `json:"id"`
	FinishedAt *time.Time `json:"finished_at"`
	StatusCode int        `json:"status_code"`
}
