// internal/infra/memlock/locker.go

// Package memlock is the single-process run lock used when no etcd
// endpoints are configured.
package memlock

import (
	"context"
	"sync"

	"release-orchestrator/internal/domain"
)

type Locker struct {
	mu   sync.Mutex
	held map[string]bool
}

var _ domain.Locker = (*Locker)(nil)

func New() *Locker {
	return &Locker{held: make(map[string]bool)}
}

// Lock never blocks. A held name returns domain.ErrLockNotAcquired.
func (l *Locker) Lock(_ context.Context, name string) (domain.Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, domain.ErrLockNotAcquired
	}
	l.held[name] = true
	return &lock{locker: l, name: name}, nil
}

type lock struct {
	locker *Locker
	name   string
	once   sync.Once
}

func (k *lock) Unlock(context.Context) error {
	k.once.Do(func() {
		k.locker.mu.Lock()
		delete(k.locker.held, k.name)
		k.locker.mu.Unlock()
	})
	return nil
}
