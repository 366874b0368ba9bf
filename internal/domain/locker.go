// internal/domain/locker.go
package domain

import (
	"context"
	"errors"
)

// ErrLockNotAcquired is returned when the lock is held by someone else.
var ErrLockNotAcquired = errors.New("lock not acquired")

// Lock is a held run lock.
type Lock interface {
	Unlock(ctx context.Context) error
}

// Locker guards a test name so only one run of it is in flight. Lock must not
// block: if the lock is held it returns ErrLockNotAcquired.
type Locker interface {
	Lock(ctx context.Context, name string) (Lock, error)
}
