package etcd

import (
	"sort"
	"testing"
	"time"

	"release-orchestrator/internal/domain"

	"github.com/stretchr/testify/assert"
)

func TestResultKey(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	key := resultKey(&domain.ResultRecord{ID: "a1", TestName: "train_small", CreatedOn: at})

	assert.Equal(t, "/releaser/results/train_small/1717243200000000000-a1", key)
	assert.Contains(t, key, resultPrefix("train_small"))
	assert.NotContains(t, key, resultPrefix("train"))
}

func TestResultKey_SortsByCreation(t *testing.T) {
	base := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	var keys []string
	for _, d := range []time.Duration{time.Hour, time.Nanosecond, 100 * 365 * 24 * time.Hour} {
		keys = append(keys, resultKey(&domain.ResultRecord{ID: "x", TestName: "t", CreatedOn: base.Add(d)}))
	}

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	assert.Equal(t, []string{keys[1], keys[0], keys[2]}, sorted)
}

func TestStateKey(t *testing.T) {
	assert.Equal(t, "/releaser/schedule/long_running_tests/train_small", stateKey("long_running_tests/train_small"))
	assert.Equal(t, "/releaser/schedule/microbenchmark", stateKey("microbenchmark"))
}
