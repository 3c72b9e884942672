// internal/remediation/metrics.go
package remediation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// tasksTotal counts finished remediation tasks.
	// Labels: status (completed, failed, rolled-back)
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "focusfix",
		Subsystem: "remediation",
		Name:      "tasks_total",
		Help:      "Remediation tasks by final status",
	}, []string{"status"})

	// fixesTotal counts fix attempts.
	// Labels: fix_type, outcome (applied, verified, rejected, rolled_back, failed)
	fixesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "focusfix",
		Subsystem: "remediation",
		Name:      "fixes_total",
		Help:      "Fix attempts by type and outcome",
	}, []string{"fix_type", "outcome"})

	// tasksInProgress is the number of tasks currently being worked.
	tasksInProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "focusfix",
		Subsystem: "remediation",
		Name:      "tasks_in_progress",
		Help:      "Remediation tasks currently in progress",
	})

	// taskDuration measures time from start to completion of a task.
	taskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "focusfix",
		Subsystem: "remediation",
		Name:      "task_duration_seconds",
		Help:      "Remediation task duration in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})
)
