// Package metrics exposes prometheus instruments for the credit accounting
// domain: ledger appends, allocations, fulfillment outcomes, scheduler jobs.
package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeFulfilled = "fulfilled"
	OutcomeDuplicate = "duplicate"
	OutcomeConflict  = "conflict"
	OutcomePartial   = "partial"
	OutcomeError     = "error"

	DBErrorUnique      = "unique_violation"
	DBErrorLockTimeout = "lock_timeout"
	DBErrorDeadline    = "deadline_exceeded"
	DBErrorUnknown     = "unknown"
)

type Metrics struct {
	ledgerEntries       *prometheus.CounterVec
	allocations         *prometheus.CounterVec
	allocationShortfall prometheus.Counter
	fulfillmentEvents   *prometheus.CounterVec
	jobRuns             *prometheus.CounterVec
	jobErrors           *prometheus.CounterVec
	jobDuration         *prometheus.HistogramVec
	invariantViolations *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metrics registered on the default
// prometheus registerer.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewWithRegistry(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ledgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditdesk_ledger_entries_total",
			Help: "Ledger entries appended, by reason code.",
		}, []string{"reason_code"}),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditdesk_allocations_total",
			Help: "Work-log allocations, by outcome.",
		}, []string{"outcome"}),
		allocationShortfall: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "creditdesk_allocation_shortfall_minutes_total",
			Help: "Minutes logged beyond available lot balance.",
		}),
		fulfillmentEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditdesk_fulfillment_events_total",
			Help: "Payment fulfillment deliveries, by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditdesk_scheduler_job_runs_total",
			Help: "Scheduler job executions.",
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditdesk_scheduler_job_errors_total",
			Help: "Scheduler job failures, by error class.",
		}, []string{"job", "error_type"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "creditdesk_scheduler_job_duration_seconds",
			Help:    "Scheduler job wall time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		invariantViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditdesk_invariant_violations_total",
			Help: "Accounting invariant violations; any nonzero value is a bug.",
		}, []string{"invariant"}),
	}

	for _, c := range []prometheus.Collector{
		m.ledgerEntries,
		m.allocations,
		m.allocationShortfall,
		m.fulfillmentEvents,
		m.jobRuns,
		m.jobErrors,
		m.jobDuration,
		m.invariantViolations,
	} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				panic(err)
			}
		}
	}

	return m
}

func (m *Metrics) RecordLedgerEntry(reasonCode string) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(reasonCode).Inc()
}

func (m *Metrics) RecordAllocation(outcome string, shortfallMinutes int64) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(outcome).Inc()
	if shortfallMinutes > 0 {
		m.allocationShortfall.Add(float64(shortfallMinutes))
	}
}

func (m *Metrics) RecordFulfillment(eventType, outcome string) {
	if m == nil {
		return
	}
	m.fulfillmentEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *Metrics) IncJobError(job string, err error) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyDBError(err)).Inc()
}

func (m *Metrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) RecordInvariantViolation(invariant string) {
	if m == nil {
		return
	}
	m.invariantViolations.WithLabelValues(invariant).Inc()
}

// ClassifyDBError buckets an error for the job error counter.
func ClassifyDBError(err error) string {
	if err == nil {
		return DBErrorUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return DBErrorDeadline
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return DBErrorUnique
		case "55P03":
			return DBErrorLockTimeout
		}
	}
	return DBErrorUnknown
}
