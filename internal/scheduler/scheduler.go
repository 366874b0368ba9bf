// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"release-orchestrator/internal/domain"
	"release-orchestrator/internal/metrics"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultTick = 60 * time.Second

// Cleaner runs the cleanup sweeps of one test type.
type Cleaner interface {
	Clean(ctx context.Context, testType string, opts domain.ReportOptions) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithTick sets the pause between two ticks.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) { s.tick = d }
}

// WithStateRepository persists entry states after every tick and restores
// them on Start.
func WithStateRepository(repo domain.ScheduleStateRepository) Option {
	return func(s *Scheduler) { s.states = repo }
}

// Scheduler is the recurring release test loop. Entries are only mutated by
// the goroutine running Start or Process; readers get copies from Entries.
type Scheduler struct {
	dispatcher domain.Dispatcher
	cleaner    Cleaner
	states     domain.ScheduleStateRepository
	cadence    cron.Schedule
	tick       time.Duration
	now        func() time.Time
	logger     *slog.Logger
	tracer     trace.Tracer

	mu          sync.RWMutex
	entries     []*domain.ScheduleEntry
	nextCleanup time.Time
}

var _ domain.Schedular = (*Scheduler)(nil)

// New builds a scheduler with every entry Ready.
func New(cfg *Config, dispatcher domain.Dispatcher, cleaner Cleaner, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	cadence, err := cfg.CleanupCadence()
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		dispatcher: dispatcher,
		cleaner:    cleaner,
		cadence:    cadence,
		tick:       DefaultTick,
		now:        time.Now,
		logger:     logger.With("component", "release-scheduler"),
		tracer:     otel.Tracer("release-orchestrator-scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}

	now := s.now()
	for _, test := range cfg.Tests {
		s.entries = append(s.entries, &domain.ScheduleEntry{Test: test, State: domain.StateReady, NextSchedule: now})
	}
	s.nextCleanup = cadence.Next(now)
	return s, nil
}

// Start restores persisted states and runs Process every tick until ctx is
// done. A failing or panicking tick is logged and the loop goes on.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Restore(ctx); err != nil {
		s.logger.Error("failed to restore schedule state, starting fresh", "error", err)
	}

	s.logger.Info("release scheduler started", "entries", len(s.entries), "tick", s.tick)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("release scheduler stopped")
			return ctx.Err()
		case <-timer.C:
		}

		s.safeProcess(ctx)
		timer.Reset(s.tick)
	}
}

func (s *Scheduler) safeProcess(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SchedulerTicksTotal.WithLabelValues("panic").Inc()
			s.logger.Error("scheduler tick panicked", "panic", fmt.Sprint(r))
		}
	}()

	if err := s.Process(ctx); err != nil {
		metrics.SchedulerTicksTotal.WithLabelValues("error").Inc()
		s.logger.Error("error occurred while processing schedule", "error", err)
		return
	}
	metrics.SchedulerTicksTotal.WithLabelValues("ok").Inc()
}

// Process runs one tick: the cleanup when it is due, then the entry
// transitions.
func (s *Scheduler) Process(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "scheduler.Process")
	defer span.End()

	var errs []error
	now := s.now()
	if now.After(s.NextCleanup()) {
		s.logger.Info("cleanup time came, cleaning up")
		if err := s.Clean(ctx); err != nil {
			errs = append(errs, fmt.Errorf("cleanup failed: %w", err))
		}
		s.mu.Lock()
		s.nextCleanup = s.cadence.Next(now)
		s.mu.Unlock()
	}

	s.RunReleaseTests(ctx)

	if err := s.persist(ctx); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tick failed")
	}
	return err
}

// Clean runs the cleaner once per distinct test type, with the report
// options of the first entry of that type.
func (s *Scheduler) Clean(ctx context.Context) error {
	var errs []error
	seen := make(map[string]bool)
	for _, e := range s.Entries() {
		testType := e.Test.TestType
		if seen[testType] {
			continue
		}
		seen[testType] = true

		s.logger.Info("test type will be cleaned up if necessary", "test_type", testType)
		if err := s.cleaner.Clean(ctx, testType, e.Test.ReportOptions()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", testType, err))
		}
	}
	return errors.Join(errs...)
}

// RunReleaseTests dispatches Ready entries and re-arms Run entries whose
// next schedule passed. An entry is switched to Run before its dispatch, so
// repeated ticks never start it twice.
func (s *Scheduler) RunReleaseTests(ctx context.Context) {
	now := s.now()

	var due []domain.ScheduledTest
	s.mu.Lock()
	for _, e := range s.entries {
		switch e.State {
		case domain.StateReady:
			e.State = domain.StateRun
			e.NextSchedule = now.Add(e.Test.IntervalDuration())
			due = append(due, e.Test)
		case domain.StateRun:
			if now.After(e.NextSchedule) {
				s.logger.Info("test is now ready to run", "key", e.Test.Key())
				e.State = domain.StateReady
			}
		}
	}
	s.mu.Unlock()

	for i := range due {
		test := due[i]
		ctx, span := s.tracer.Start(ctx, "scheduler.Dispatch", trace.WithAttributes(attribute.String("schedule.key", test.Key())))
		s.logger.Info("test will run", "key", test.Key())
		if err := s.dispatcher.Dispatch(ctx, &test); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "dispatch failed")
			s.logger.Error("failed to dispatch release test", "key", test.Key(), "error", err)
		}
		span.End()
	}
}

// Entries returns a copy of the schedule.
func (s *Scheduler) Entries() []domain.ScheduleEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ScheduleEntry, len(s.entries))
	for i, e := range s.entries {
		out[i] = *e
	}
	return out
}

// NextCleanup returns when the next cleanup is due.
func (s *Scheduler) NextCleanup() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextCleanup
}

// Restore applies persisted states to entries with a matching key.
func (s *Scheduler) Restore(ctx context.Context) error {
	if s.states == nil {
		return nil
	}
	saved, err := s.states.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list schedule states: %w", err)
	}

	byKey := make(map[string]*domain.ScheduleEntryState, len(saved))
	for _, st := range saved {
		byKey[st.Key] = st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if st, ok := byKey[e.Test.Key()]; ok {
			e.State = st.State
			e.NextSchedule = st.NextSchedule
			s.logger.Info("restored schedule entry", "key", st.Key, "state", st.State, "next_schedule", st.NextSchedule)
		}
	}
	return nil
}

func (s *Scheduler) persist(ctx context.Context) error {
	if s.states == nil {
		return nil
	}
	var errs []error
	for _, e := range s.Entries() {
		st := &domain.ScheduleEntryState{Key: e.Test.Key(), State: e.State, NextSchedule: e.NextSchedule}
		if err := s.states.Save(ctx, st); err != nil {
			errs = append(errs, fmt.Errorf("failed to save state of %s: %w", st.Key, err))
		}
	}
	return errors.Join(errs...)
}
