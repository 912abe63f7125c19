// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grapelm",
		Subsystem: "gateway",
		Name:      "submissions_total",
		Help:      "Task submissions, labelled by outcome.",
	}, []string{"result"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "grapelm",
		Subsystem: "dispatcher",
		Name:      "queue_depth",
		Help:      "Task ids waiting in the queue.",
	})

	TasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "grapelm",
		Subsystem: "runner",
		Name:      "tasks_inflight",
		Help:      "Tasks currently holding a worker slot.",
	})

	TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grapelm",
		Subsystem: "runner",
		Name:      "tasks_finished_total",
		Help:      "Tasks that reached a terminal status, labelled by status.",
	}, []string{"status"})

	TaskDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "grapelm",
		Subsystem: "runner",
		Name:      "task_duration_seconds",
		Help:      "Wall-clock time from start to terminal status.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})
)
