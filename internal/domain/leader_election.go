// internal/domain/leader_election.go
package domain

import "context"

// LeaderElectionManager elects the single node that runs the scheduler loop.
type LeaderElectionManager interface {
	// Campaign blocks until this node leads. The returned channel is closed
	// when leadership is lost.
	Campaign(ctx context.Context) (<-chan struct{}, error)
	Resign(ctx context.Context) error
	IsLeader() bool
}
