package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_events_published_total",
		Help: "Total events published to the bus, labelled by topic.",
	}, []string{"topic"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_events_dropped_total",
		Help: "Total events dropped by overflowing subscriber queues.",
	}, []string{"subscriber"})

	HandlerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_handler_panics_total",
		Help: "Total subscriber handler panics recovered by the bus.",
	}, []string{"subscriber"})

	SnapshotsComputed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_risk_snapshots_computed_total",
		Help: "Total risk snapshot recomputations by the position monitor.",
	})

	StalePositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_stale_positions",
		Help: "Open positions currently gated by stale market data.",
	})

	ProposalsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_proposals_emitted_total",
		Help: "Adjustment proposals emitted by the engine, labelled by action.",
	}, []string{"action"})

	AdjustmentsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_adjustments_applied_total",
		Help: "Adjustments applied against the gateway, labelled by action.",
	}, []string{"action"})

	AdjustmentsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_adjustments_failed_total",
		Help: "Terminally failed adjustments, labelled by action.",
	}, []string{"action"})

	GatewayCircuitState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_gateway_circuit_state",
		Help: "Gateway circuit breaker state (0=closed, 1=half-open, 2=open).",
	})

	AlertsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_alerts_delivered_total",
		Help: "Alerts delivered to the notifier, labelled by severity.",
	}, []string{"severity"})

	AlertsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_alerts_suppressed_total",
		Help: "Alerts collapsed into an existing suppression window.",
	})

	JournalRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_journal_records_total",
		Help: "Envelopes mirrored to the durable event journal.",
	})

	SignalsTranslated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_signals_translated_total",
		Help: "Producer payloads translated to signal events, labelled by producer and status.",
	}, []string{"producer", "status"})
)

// Handler exposes the default registry for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
