// internal/domain/wait.go
package domain

import "fmt"

// WaitState tags the outcome of a polling loop.
type WaitState int

const (
	WaitReady WaitState = iota
	WaitFailed
	WaitTimedOut
)

func (s WaitState) String() string {
	switch s {
	case WaitReady:
		return "Ready"
	case WaitFailed:
		return "Failed"
	case WaitTimedOut:
		return "TimedOut"
	default:
		return fmt.Sprintf("WaitState(%d)", int(s))
	}
}

// WaitOutcome is what a polling loop ends with. Callers branch on State and
// use Err when the outcome should abort the enclosing step.
type WaitOutcome struct {
	State WaitState
	Cause error
}

func Ready() WaitOutcome { return WaitOutcome{State: WaitReady} }

func Failed(cause error) WaitOutcome { return WaitOutcome{State: WaitFailed, Cause: cause} }

func TimedOut(cause error) WaitOutcome { return WaitOutcome{State: WaitTimedOut, Cause: cause} }

func (o WaitOutcome) IsReady() bool { return o.State == WaitReady }

// Err converts a non-ready outcome into an error. A timed-out wait is a run
// abort.
func (o WaitOutcome) Err() error {
	switch o.State {
	case WaitReady:
		return nil
	case WaitTimedOut:
		if o.Cause == nil {
			return ErrRunAborted
		}
		return fmt.Errorf("%w: %w", ErrRunAborted, o.Cause)
	default:
		if o.Cause == nil {
			return fmt.Errorf("wait failed")
		}
		return o.Cause
	}
}
