// internal/domain/schedular.go
package domain

import "context"

// Schedular is a long-running control loop.
type Schedular interface {
	Start(ctx context.Context) error
}
