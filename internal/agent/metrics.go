// internal/agent/metrics.go
package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cyclesTotal counts PRAR cycles.
	// Labels: outcome (success, failure, decomposed, error)
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "focusfix",
		Subsystem: "agent",
		Name:      "cycles_total",
		Help:      "PRAR cycles by outcome",
	}, []string{"outcome"})

	// phaseDuration measures each PRAR phase.
	// Labels: phase (perceiving, planning, acting, reflecting)
	phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "focusfix",
		Subsystem: "agent",
		Name:      "phase_duration_seconds",
		Help:      "Time spent per PRAR phase",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"phase"})

	// fallbacksTotal counts fallback actions attempted after a primary
	// action failed or missed its expected outcome.
	fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "focusfix",
		Subsystem: "agent",
		Name:      "fallbacks_total",
		Help:      "Fallback actions attempted by action type",
	}, []string{"action"})

	// loopsTotal counts finished loops by termination reason.
	loopsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "focusfix",
		Subsystem: "agent",
		Name:      "loops_total",
		Help:      "PRAR loops by termination reason",
	}, []string{"termination"})

	// issuesDetected counts issues found by verify actions.
	issuesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "focusfix",
		Subsystem: "agent",
		Name:      "issues_detected_total",
		Help:      "Accessibility issues found during verification",
	}, []string{"type", "severity"})
)
