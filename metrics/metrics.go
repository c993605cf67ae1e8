// Package metrics holds the Prometheus collectors of the engine.
//
// Collectors are registered once by Init. Every observer is nil-safe, so
// packages can record metrics in tests that never call Init.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "winloss_"

	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	registerOnce sync.Once

	eventsRecorded *prometheus.CounterVec
	eventErrors    *prometheus.CounterVec

	rebatesTotal      *prometheus.CounterVec
	rebateRunTotal    *prometheus.CounterVec
	rebateRunLatency  *prometheus.HistogramVec
	rebateTransitions *prometheus.CounterVec

	reconcileRunTotal   *prometheus.CounterVec
	reconcileEntries    *prometheus.CounterVec
	reconcileRunLatency *prometheus.HistogramVec

	jobErrors *prometheus.CounterVec

	exportTotal *prometheus.CounterVec
)

// Init registers every collector with reg (prometheus.DefaultRegisterer when nil).
func Init(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}

		eventsRecorded = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_recorded_total",
				Help: "Total win/loss events recorded by operation",
			},
			[]string{"op"},
		)
		eventErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "event_errors_total",
				Help: "Total rejected or failed win/loss writes by operation and reason",
			},
			[]string{"op", "reason"},
		)

		rebatesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rebates_total",
				Help: "Total rebate decisions by outcome (created, skipped)",
			},
			[]string{"outcome"},
		)
		rebateRunTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rebate_runs_total",
				Help: "Total rebate runs by trigger and result",
			},
			[]string{"trigger", "result"},
		)
		rebateRunLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "rebate_run_latency_seconds",
				Help:    "Rebate run latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		rebateTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rebate_transitions_total",
				Help: "Total rebate status transitions by target status",
			},
			[]string{"status"},
		)

		reconcileRunTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconcile_runs_total",
				Help: "Total reconciliation runs by result",
			},
			[]string{"result"},
		)
		reconcileEntries = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reconcile_entries_total",
				Help: "Total reconciled ledger groups by outcome (overwritten, preserved)",
			},
			[]string{"outcome"},
		)
		reconcileRunLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "reconcile_run_latency_seconds",
				Help:    "Reconciliation run latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		jobErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "scheduler_job_errors_total",
				Help: "Total background job failures by job name",
			},
			[]string{"job"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Total rebate report exports by format and result",
			},
			[]string{"format", "result"},
		)

		reg.MustRegister(
			eventsRecorded,
			eventErrors,
			rebatesTotal,
			rebateRunTotal,
			rebateRunLatency,
			rebateTransitions,
			reconcileRunTotal,
			reconcileEntries,
			reconcileRunLatency,
			jobErrors,
			exportTotal,
		)
	})
}

// IncEventRecorded counts a committed create or edit.
func IncEventRecorded(op string) {
	if eventsRecorded != nil {
		eventsRecorded.WithLabelValues(op).Inc()
	}
}

// IncEventError counts a failed create or edit.
func IncEventError(op, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if eventErrors != nil {
		eventErrors.WithLabelValues(op, reason).Inc()
	}
}

// AddRebates adds created and skipped rebate counts.
func AddRebates(created, skipped int) {
	if rebatesTotal == nil {
		return
	}
	rebatesTotal.WithLabelValues("created").Add(float64(created))
	rebatesTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// ObserveRebateRun records rebate run duration and result.
func ObserveRebateRun(trigger, result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if rebateRunTotal != nil {
		rebateRunTotal.WithLabelValues(trigger, result).Inc()
	}
	if rebateRunLatency != nil {
		rebateRunLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncRebateTransition counts an applied approve or reject.
func IncRebateTransition(status string) {
	if rebateTransitions != nil {
		rebateTransitions.WithLabelValues(status).Inc()
	}
}

// ObserveReconcileRun records reconciliation duration, result and outcomes.
func ObserveReconcileRun(result string, overwritten, preserved int, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if reconcileRunTotal != nil {
		reconcileRunTotal.WithLabelValues(result).Inc()
	}
	if reconcileEntries != nil {
		reconcileEntries.WithLabelValues("overwritten").Add(float64(overwritten))
		reconcileEntries.WithLabelValues("preserved").Add(float64(preserved))
	}
	if reconcileRunLatency != nil {
		reconcileRunLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncJobError counts a failed background job run.
func IncJobError(job string) {
	if job == "" {
		job = "unknown"
	}
	if jobErrors != nil {
		jobErrors.WithLabelValues(job).Inc()
	}
}

// IncExport counts a report export.
func IncExport(format, result string) {
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
}

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}
