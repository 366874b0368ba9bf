// internal/infra/etcd/etcd_schedule_state_repository.go
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"release-orchestrator/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ScheduleStateDir = "/releaser/schedule/"
)

type etcdScheduleStateRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdScheduleStateRepository stores schedule entry states so a newly
// elected leader resumes where the previous one stopped.
func NewEtcdScheduleStateRepository(client *clientv3.Client, logger *slog.Logger) domain.ScheduleStateRepository {
	return &etcdScheduleStateRepository{
		client: client,
		logger: logger.With("component", "etcd-schedule-repo"),
		tracer: otel.Tracer("release-orchestrator-etcd-schedule-repo"),
	}
}

// Entry keys contain a slash when a test name is set; it is kept as a path
// level below the state dir.
func stateKey(key string) string {
	return path.Join(ScheduleStateDir, key)
}

func (r *etcdScheduleStateRepository) Save(ctx context.Context, state *domain.ScheduleEntryState) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.SaveScheduleState")
	defer span.End()

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule state to JSON: %w", err)
	}

	key := stateKey(state.Key)
	span.SetAttributes(
		attribute.String("schedule.key", state.Key),
		attribute.String("etcd.key", key),
	)

	if _, err := r.client.Put(ctx, key, string(stateJSON)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put schedule state to etcd")
		return fmt.Errorf("failed to save schedule state %s to etcd: %w", state.Key, err)
	}
	return nil
}

func (r *etcdScheduleStateRepository) List(ctx context.Context) ([]*domain.ScheduleEntryState, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ListScheduleStates")
	defer span.End()

	resp, err := r.client.Get(ctx, ScheduleStateDir, clientv3.WithPrefix())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list schedule states from etcd")
		return nil, fmt.Errorf("failed to list schedule states from etcd: %w", err)
	}

	states := make([]*domain.ScheduleEntryState, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var state domain.ScheduleEntryState
		if err := json.Unmarshal(kv.Value, &state); err != nil {
			r.logger.Warn("failed to unmarshal schedule state from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		states = append(states, &state)
	}
	return states, nil
}
