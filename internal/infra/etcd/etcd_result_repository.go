// internal/infra/etcd/etcd_result_repository.go
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
	ResultsDir = "/releaser/results/"
)

type etcdResultRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdResultRepository creates an append-only result store backed by etcd.
func NewEtcdResultRepository(client *clientv3.Client, logger *slog.Logger) domain.ResultRepository {
	return &etcdResultRepository{
		client: client,
		logger: logger.With("component", "etcd-result-repo"),
		tracer: otel.Tracer("release-orchestrator-etcd-result-repo"),
	}
}

// resultKey is /releaser/results/{testName}/{unixnano}-{id}, so keys of one
// test sort by creation time.
func resultKey(record *domain.ResultRecord) string {
	return path.Join(ResultsDir, record.TestName, fmt.Sprintf("%019d-%s", record.CreatedOn.UnixNano(), record.ID))
}

func resultPrefix(testName string) string {
	return path.Join(ResultsDir, testName) + "/"
}

// Save appends a record. An existing key is never overwritten.
func (r *etcdResultRepository) Save(ctx context.Context, record *domain.ResultRecord) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.SaveResult")
	defer span.End()

	if err := record.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid result record")
		return err
	}

	recordJSON, err := json.Marshal(record)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal result record")
		return fmt.Errorf("failed to marshal result record %s to JSON: %w", record.ID, err)
	}

	key := resultKey(record)
	span.SetAttributes(
		attribute.String("result.id", record.ID),
		attribute.String("test.name", record.TestName),
		attribute.String("etcd.key", key),
	)

	resp, err := r.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(recordJSON))).
		Commit()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put result record to etcd")
		return fmt.Errorf("failed to save result record %s to etcd: %w", record.ID, err)
	}
	if !resp.Succeeded {
		return fmt.Errorf("result record %s already exists", key)
	}
	return nil
}

// Latest returns the newest record of a test.
func (r *etcdResultRepository) Latest(ctx context.Context, testName string) (*domain.ResultRecord, error) {
	records, err := r.List(ctx, testName, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrResultNotFound, testName)
	}
	return records[0], nil
}

// List returns up to limit records of a test, newest first.
func (r *etcdResultRepository) List(ctx context.Context, testName string, limit int) ([]*domain.ResultRecord, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ListResults")
	defer span.End()
	span.SetAttributes(
		attribute.String("test.name", testName),
		attribute.Int("limit", limit),
	)

	opts := []clientv3.OpOption{
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortDescend),
	}
	if limit > 0 {
		opts = append(opts, clientv3.WithLimit(int64(limit)))
	}
	resp, err := r.client.Get(ctx, resultPrefix(testName), opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list result records from etcd")
		return nil, fmt.Errorf("failed to list result records for test %s from etcd: %w", testName, err)
	}

	records := make([]*domain.ResultRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var record domain.ResultRecord
		if err := json.Unmarshal(kv.Value, &record); err != nil {
			r.logger.Warn("failed to unmarshal result record from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		records = append(records, &record)
	}
	span.SetAttributes(attribute.Int("records_returned", len(records)))
	return records, nil
}
