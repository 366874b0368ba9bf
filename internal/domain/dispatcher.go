// internal/domain/dispatcher.go
package domain

import "context"

// Dispatcher starts a run of a scheduled test. It returns once the run has
// been started, not when it finishes.
type Dispatcher interface {
	Dispatch(ctx context.Context, test *ScheduledTest) error
}
