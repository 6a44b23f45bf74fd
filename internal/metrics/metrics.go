// Package metrics exposes the bridge's prometheus instrumentation, served on
// ServerConfig.MetricsPort by internal/httpapi.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the custom prometheus registry for bridge metrics, kept
// separate from the default global registry so /metrics only ever exposes
// what this package registers.
var Registry = prometheus.NewRegistry()

var (
	// CommandQueueDepth tracks the number of PENDING+EXECUTING commands
	// queued per account.
	CommandQueueDepth = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bridge",
			Subsystem: "commands",
			Name:      "queue_depth",
			Help:      "Number of pending or executing commands queued for an account",
		},
		[]string{"account_id"},
	)

	// CommandsSentTotal counts commands handed to an EA via get_commands.
	CommandsSentTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "commands",
			Name:      "sent_total",
			Help:      "Total number of commands sent to an EA",
		},
		[]string{"account_id", "command_type"},
	)

	// CommandsFailedTotal counts commands that reached FAILED status.
	CommandsFailedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "commands",
			Name:      "failed_total",
			Help:      "Total number of commands that exhausted retries or timed out permanently",
		},
		[]string{"account_id", "command_type"},
	)

	// TickIngestTotal counts ticks ingested per account/symbol.
	TickIngestTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "ticks",
			Name:      "ingest_total",
			Help:      "Total number of ticks ingested",
		},
		[]string{"account_id", "symbol"},
	)

	// ConnectionHealthScore mirrors commctl's 0-100 health score per account.
	ConnectionHealthScore = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bridge",
			Subsystem: "connection",
			Name:      "health_score",
			Help:      "EA connection health score, 0-100",
		},
		[]string{"account_id"},
	)

	// CircuitBreakerTripsTotal counts circuit-breaker trips per account.
	CircuitBreakerTripsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "risk",
			Name:      "circuit_breaker_trips_total",
			Help:      "Total number of times an account's circuit breaker tripped",
		},
		[]string{"account_id"},
	)

	// SignalGenerationDuration is the latency of one Engine.Evaluate pass.
	SignalGenerationDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bridge",
			Subsystem: "signals",
			Name:      "generation_duration_seconds",
			Help:      "Duration of one signal evaluation pass",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"symbol", "timeframe"},
	)

	// SignalsGeneratedTotal counts signals that cleared the confidence gate.
	SignalsGeneratedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridge",
			Subsystem: "signals",
			Name:      "generated_total",
			Help:      "Total number of signals that passed the confidence threshold",
		},
		[]string{"symbol", "timeframe", "signal_type"},
	)

	// OpenPositionsCount tracks open trades per account.
	OpenPositionsCount = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bridge",
			Subsystem: "positions",
			Name:      "open_count",
			Help:      "Number of currently open positions for an account",
		},
		[]string{"account_id"},
	)
)

// Init registers the standard go/process collectors alongside the
// bridge-specific ones above.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}

// RecordCommandSent increments CommandsSentTotal for a dispatched command.
func RecordCommandSent(accountID, commandType string) {
	CommandsSentTotal.WithLabelValues(accountID, commandType).Inc()
}

// RecordCommandFailed increments CommandsFailedTotal for a permanently
// failed command.
func RecordCommandFailed(accountID, commandType string) {
	CommandsFailedTotal.WithLabelValues(accountID, commandType).Inc()
}

// RecordTick increments TickIngestTotal for one ingested tick.
func RecordTick(accountID, symbol string) {
	TickIngestTotal.WithLabelValues(accountID, symbol).Inc()
}

// SetConnectionHealth sets an account's gauge to its current health score.
func SetConnectionHealth(accountID string, score int) {
	ConnectionHealthScore.WithLabelValues(accountID).Set(float64(score))
}

// RecordCircuitBreakerTrip increments CircuitBreakerTripsTotal.
func RecordCircuitBreakerTrip(accountID string) {
	CircuitBreakerTripsTotal.WithLabelValues(accountID).Inc()
}

// RecordSignalGenerated increments SignalsGeneratedTotal.
func RecordSignalGenerated(symbol, timeframe, signalType string) {
	SignalsGeneratedTotal.WithLabelValues(symbol, timeframe, signalType).Inc()
}

// SetOpenPositions sets an account's open-position gauge.
func SetOpenPositions(accountID string, count int) {
	OpenPositionsCount.WithLabelValues(accountID).Set(float64(count))
}
