// internal/infra/sqlstore/result_store.go
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"release-orchestrator/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ResultStore is the append-only result table.
type ResultStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
	tracer  trace.Tracer
}

var _ domain.ResultRepository = (*ResultStore)(nil)

func NewResultStore(db *sql.DB, dialect Dialect, logger *slog.Logger) *ResultStore {
	return &ResultStore{
		db:      db,
		dialect: dialect,
		logger:  logger.With("component", "sql-result-store"),
		tracer:  otel.Tracer("release-orchestrator-sql-result-store"),
	}
}

func (s *ResultStore) Close() error {
	return s.db.Close()
}

// Save inserts one row per record. Rows are never updated.
func (s *ResultStore) Save(ctx context.Context, record *domain.ResultRecord) error {
	ctx, span := s.tracer.Start(ctx, "repo.sql.SaveResult", trace.WithAttributes(
		attribute.String("result.id", record.ID),
		attribute.String("test.name", record.TestName),
		attribute.String("db.system", string(s.dialect.Driver())),
	))
	defer span.End()

	if err := record.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid result record")
		return err
	}

	results, err := marshalColumn(record.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal results of %s: %w", record.ID, err)
	}
	artifacts, err := marshalColumn(record.Artifacts)
	if err != nil {
		return fmt.Errorf("failed to marshal artifacts of %s: %w", record.ID, err)
	}

	query := s.dialect.Rebind(`
		INSERT INTO release_test_results (id, created_on, test_name, status, last_logs, results, artifacts)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb)`)
	_, err = s.db.ExecContext(ctx, query,
		record.ID, record.CreatedOn.UTC(), record.TestName, string(record.Status), record.LastLogs, results, artifacts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to insert result record")
		return fmt.Errorf("failed to insert result record %s: %w", record.ID, err)
	}
	return nil
}

// Latest returns the newest record of a test.
func (s *ResultStore) Latest(ctx context.Context, testName string) (*domain.ResultRecord, error) {
	records, err := s.List(ctx, testName, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrResultNotFound, testName)
	}
	return records[0], nil
}

// List returns up to limit records of a test, newest first. A limit of zero
// or less returns every record.
func (s *ResultStore) List(ctx context.Context, testName string, limit int) ([]*domain.ResultRecord, error) {
	ctx, span := s.tracer.Start(ctx, "repo.sql.ListResults", trace.WithAttributes(
		attribute.String("test.name", testName),
		attribute.Int("limit", limit),
	))
	defer span.End()

	query := `
		SELECT id, created_on, test_name, status, last_logs, results, artifacts
		FROM release_test_results
		WHERE test_name = $1
		ORDER BY created_on DESC, seq DESC`
	args := []any{testName}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to query result records")
		return nil, fmt.Errorf("failed to list results of %s: %w", testName, err)
	}
	defer rows.Close()

	var records []*domain.ResultRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read results of %s: %w", testName, err)
	}
	span.SetAttributes(attribute.Int("records_returned", len(records)))
	return records, nil
}

func scanRecord(rows *sql.Rows) (*domain.ResultRecord, error) {
	var (
		r                  domain.ResultRecord
		status             string
		results, artifacts sql.NullString
	)
	if err := rows.Scan(&r.ID, &r.CreatedOn, &r.TestName, &status, &r.LastLogs, &results, &artifacts); err != nil {
		return nil, fmt.Errorf("failed to scan result record: %w", err)
	}
	r.Status = domain.RunStatus(status)
	r.CreatedOn = r.CreatedOn.UTC()
	if err := unmarshalColumn(results, &r.Results); err != nil {
		return nil, fmt.Errorf("failed to decode results of %s: %w", r.ID, err)
	}
	if err := unmarshalColumn(artifacts, &r.Artifacts); err != nil {
		return nil, fmt.Errorf("failed to decode artifacts of %s: %w", r.ID, err)
	}
	return &r, nil
}

func marshalColumn[T any](v map[string]T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalColumn(col sql.NullString, dst any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dst)
}
