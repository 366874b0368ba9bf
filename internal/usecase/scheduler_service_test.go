package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingSchedular struct {
	starts  atomic.Int32
	running atomic.Bool
}

func (s *blockingSchedular) Start(ctx context.Context) error {
	s.starts.Add(1)
	s.running.Store(true)
	<-ctx.Done()
	s.running.Store(false)
	return ctx.Err()
}

type fakeElection struct {
	mu        sync.Mutex
	failFirst int
	campaigns int
	resigns   int
	lost      chan struct{}
	leader    bool
}

func (e *fakeElection) Campaign(ctx context.Context) (<-chan struct{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.campaigns++
	if e.campaigns <= e.failFirst {
		return nil, errors.New("etcd unavailable")
	}
	e.lost = make(chan struct{})
	e.leader = true
	return e.lost, nil
}

func (e *fakeElection) Resign(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resigns++
	e.leader = false
	return nil
}

func (e *fakeElection) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader
}

func (e *fakeElection) loseLeadership() {
	e.mu.Lock()
	defer e.mu.Unlock()
	close(e.lost)
	e.leader = false
}

func (e *fakeElection) counts() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.campaigns, e.resigns
}

func TestSchedulerService_WithoutElectionRunsDirectly(t *testing.T) {
	sched := &blockingSchedular{}
	svc := NewSchedulerService(nil, sched, "node-1", slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Start(ctx) }()

	require.Eventually(t, sched.running.Load, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestSchedulerService_LeadershipCycle(t *testing.T) {
	sched := &blockingSchedular{}
	election := &fakeElection{failFirst: 1}
	svc := NewSchedulerService(election, sched, "node-1", slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.retryDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Start(ctx) }()

	require.Eventually(t, sched.running.Load, time.Second, time.Millisecond)
	campaigns, _ := election.counts()
	assert.Equal(t, 2, campaigns)

	election.loseLeadership()
	require.Eventually(t, func() bool { return sched.starts.Load() == 2 && sched.running.Load() }, time.Second, time.Millisecond)
	campaigns, resigns := election.counts()
	assert.Equal(t, 3, campaigns)
	assert.Equal(t, 1, resigns)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	_, resigns = election.counts()
	assert.Equal(t, 2, resigns)
	assert.False(t, election.IsLeader())
}
