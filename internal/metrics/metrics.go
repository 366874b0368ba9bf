// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal counts API requests by path, method and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"},
	)

	// RunsTotal counts finished runs by test and status (finished/error/timeout).
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "release_test_runs_total",
			Help: "Total number of release test runs.",
		},
		[]string{"test_name", "status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "release_test_run_duration_seconds",
			Help:    "Wall-clock duration of release test runs.",
			Buckets: prometheus.ExponentialBuckets(60, 2, 10),
		},
		[]string{"test_name"},
	)

	// SchedulerTicksTotal counts scheduler loop iterations by result (ok/error/panic).
	SchedulerTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_ticks_total",
			Help: "Total number of scheduler ticks.",
		},
		[]string{"result"},
	)

	SessionsTerminated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_terminated_total",
			Help: "Sessions terminated by the cleanup sweeps.",
		},
		[]string{"test_type", "reason"},
	)

	// IsLeader is 1 while this node runs the scheduler loop.
	IsLeader = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "is_leader",
			Help: "Is this node currently the leader. 1 if leader, 0 otherwise.",
		},
		[]string{"node_id"},
	)
)
