package sqlstore

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"release-orchestrator/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *ResultStore {
	t.Helper()
	db, err := Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	dialect, err := NewDialect(DriverSQLite)
	require.NoError(t, err)
	require.NoError(t, dialect.AutoMigrate(db))
	store := NewResultStore(db, dialect, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDialect_Rebind(t *testing.T) {
	sqlite, err := NewDialect(DriverSQLite)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO t VALUES (?, ?)", sqlite.Rebind("INSERT INTO t VALUES ($1, $2::jsonb)"))

	pg, err := NewDialect(DriverPostgres)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO t VALUES ($1, $2::jsonb)", pg.Rebind("INSERT INTO t VALUES ($1, $2::jsonb)"))

	_, err = NewDialect("mysql")
	assert.Error(t, err)
}

func TestResultStore_SaveAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	first := &domain.ResultRecord{
		ID:        "r1",
		CreatedOn: base,
		TestName:  "train_small",
		Status:    domain.RunStatusFinished,
		LastLogs:  "done",
		Results:   map[string]any{"passed": 1},
		Artifacts: map[string]string{"output.log": "s3://bucket/logs/output.log"},
	}
	second := &domain.ResultRecord{
		ID:        "r2",
		CreatedOn: base.Add(time.Hour),
		TestName:  "train_small",
		Status:    domain.RunStatusError,
		LastLogs:  "training\nKilled",
	}
	other := &domain.ResultRecord{ID: "r3", CreatedOn: base.Add(2 * time.Hour), TestName: "microbenchmark", Status: domain.RunStatusTimeout}
	for _, r := range []*domain.ResultRecord{first, second, other} {
		require.NoError(t, s.Save(ctx, r))
	}

	latest, err := s.Latest(ctx, "train_small")
	require.NoError(t, err)
	assert.Equal(t, "r2", latest.ID)
	assert.Equal(t, domain.RunStatusError, latest.Status)
	assert.Equal(t, "training\nKilled", latest.LastLogs)
	assert.Nil(t, latest.Results)
	assert.True(t, latest.CreatedOn.Equal(second.CreatedOn))

	all, err := s.List(ctx, "train_small", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r1", all[1].ID)
	assert.Equal(t, map[string]any{"passed": float64(1)}, all[1].Results)
	assert.Equal(t, first.Artifacts, all[1].Artifacts)

	limited, err := s.List(ctx, "train_small", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestResultStore_AppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	record := &domain.ResultRecord{ID: "r1", CreatedOn: time.Now(), TestName: "t", Status: domain.RunStatusFinished}

	require.NoError(t, s.Save(ctx, record))
	assert.Error(t, s.Save(ctx, record))
}

func TestResultStore_Errors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Latest(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrResultNotFound)

	err = s.Save(ctx, &domain.ResultRecord{ID: "x", CreatedOn: time.Now(), TestName: "t", Status: "running"})
	assert.Error(t, err)
}
