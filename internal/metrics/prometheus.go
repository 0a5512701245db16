package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnAnalysisDuration observes end-to-end turn processing time per
	// engine path.
	TurnAnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "continuum",
		Name:      "turn_analysis_duration_seconds",
		Help:      "Time spent analyzing a single turn.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"engine"})

	// EscalationsTotal counts escalation decisions that fired, by reason.
	EscalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "continuum",
		Name:      "escalations_total",
		Help:      "Escalations triggered, labeled by first triggering reason.",
	}, []string{"reason", "urgency"})

	// AlertsTotal counts heuristic alerts by type and severity.
	AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "continuum",
		Name:      "alerts_total",
		Help:      "Heuristic alerts raised.",
	}, []string{"type", "severity"})

	// OracleCalls counts chat-completions requests to the oracle.
	OracleCalls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "continuum",
		Name:      "oracle_calls_total",
		Help:      "Oracle API calls attempted.",
	})

	// OracleFailures counts oracle calls that errored or returned an
	// unparseable payload.
	OracleFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "continuum",
		Name:      "oracle_failures_total",
		Help:      "Oracle API calls that failed.",
	})

	// DriftScore exposes the cumulative drift score per conversation.
	DriftScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "continuum",
		Name:      "drift_score",
		Help:      "Cumulative epistemic drift score.",
	}, []string{"conversation_id"})

	// VerificationTasks counts deferred verification task outcomes.
	VerificationTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "continuum",
		Name:      "verification_tasks_total",
		Help:      "Deferred verification tasks by outcome.",
	}, []string{"outcome"})
)
