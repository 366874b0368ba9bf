// internal/domain/errors.go
package domain

import "errors"

var (
	// ErrRunAborted is returned by polling loops once the run is cancelled.
	ErrRunAborted = errors.New("run aborted")

	ErrBuildFailed        = errors.New("app config build failed")
	ErrUnknownBuildStatus = errors.New("unknown build status")
	ErrNoBuild            = errors.New("no build found for app config")

	// ErrRunInFlight is returned when a test already has a run in progress.
	ErrRunInFlight = errors.New("run already in flight")

	ErrUnknownTestType = errors.New("unknown test type")
	ErrTestNotFound    = errors.New("test definition not found")
	ErrUnknownTimeUnit = errors.New("unknown time unit")
	ErrResultNotFound  = errors.New("result not found")
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSessionName is returned for names that do not decode into a
	// session name record.
	ErrInvalidSessionName = errors.New("invalid session name")
)
