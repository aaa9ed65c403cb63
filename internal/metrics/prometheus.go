package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Sweep metrics
	SweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_sweep_runs_total",
			Help: "Total number of full borrower sweeps",
		},
		[]string{"trigger"}, // trigger: boot|interval
	)

	SweepErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "watchtower_sweep_errors_total",
			Help: "Total number of per-borrower evaluation failures during sweeps",
		},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "watchtower_sweep_duration_seconds",
			Help:    "Full sweep duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// State machine metrics
	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_health_transitions_total",
			Help: "Total number of borrower health state transitions",
		},
		[]string{"from", "to"},
	)

	BorrowersByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "watchtower_borrowers_by_state",
			Help: "Current number of tracked borrowers per health state",
		},
		[]string{"state"},
	)

	// Remediation metrics
	RemediationStages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_remediation_stages_total",
			Help: "Remediation stage attempts by outcome",
		},
		[]string{"stage", "status"}, // status: success|failure|skipped
	)

	RemediationsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "watchtower_remediations_in_flight",
			Help: "Number of borrowers currently undergoing remediation",
		},
	)

	// Ledger gateway metrics
	LedgerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_ledger_calls_total",
			Help: "Total number of ledger gateway calls",
		},
		[]string{"method", "status"}, // status: success|error
	)

	LedgerCallLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watchtower_ledger_call_latency_seconds",
			Help:    "Ledger gateway call latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"method"},
	)

	BreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "watchtower_ledger_breaker_state",
			Help: "Ledger gateway circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)

	// Audit metrics
	AuditAppends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchtower_audit_appends_total",
			Help: "Audit sink append attempts by outcome",
		},
		[]string{"sink", "status"}, // status: success|error
	)
)

// Register registers all collectors with the default registry
func Register() {
	prometheus.MustRegister(
		SweepRuns,
		SweepErrors,
		SweepDuration,
		Transitions,
		BorrowersByState,
		RemediationStages,
		RemediationsInFlight,
		LedgerCalls,
		LedgerCallLatency,
		BreakerState,
		AuditAppends,
	)
}

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}
