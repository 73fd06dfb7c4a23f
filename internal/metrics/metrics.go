// Package metrics declares the pipeline's Prometheus metrics and the HTTP
// server exposing them.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels.
// These ensure metrics don't have unbounded label values which can cause memory issues.
const (
	// Broker error categories (bounded set)
	BrokerErrorTimeout     = "timeout"
	BrokerErrorRateLimit   = "rate_limit"
	BrokerErrorAuth        = "authentication"
	BrokerErrorNetwork     = "network"
	BrokerErrorInvalidReq  = "invalid_request"
	BrokerErrorServerError = "server_error"
	BrokerErrorOther       = "other"
)

// NormalizeBrokerError maps arbitrary error messages to the bounded set
func NormalizeBrokerError(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return BrokerErrorTimeout
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "429"):
		return BrokerErrorRateLimit
	case strings.Contains(errStr, "auth") || strings.Contains(errStr, "signature") || strings.Contains(errStr, "401"):
		return BrokerErrorAuth
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") || strings.Contains(errStr, "refused"):
		return BrokerErrorNetwork
	case strings.Contains(errStr, "invalid") || strings.Contains(errStr, "400"):
		return BrokerErrorInvalidReq
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") || strings.Contains(errStr, "503"):
		return BrokerErrorServerError
	default:
		return BrokerErrorOther
	}
}

// Ingestion metrics
var (
	CandlesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantpulse_candles_ingested_total",
		Help: "Finalized candles appended per timeframe",
	}, []string{"timeframe"})

	PrimaryCloses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quantpulse_primary_closes_total",
		Help: "Primary-timeframe close events emitted",
	})

	FeedReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quantpulse_feed_reconnects_total",
		Help: "Market-data transport reconnections",
	})
)

// Composition metrics
var (
	SignalsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantpulse_signals_emitted_total",
		Help: "Composed signals emitted by direction and grade",
	}, []string{"direction", "grade"})

	SignalsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantpulse_signals_rejected_total",
		Help: "Composition rejections by canonical reason",
	}, []string{"reason"})

	SignalsInverted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quantpulse_signals_inverted_total",
		Help: "Signals whose direction was inverted against a counter HTF trend",
	})

	OracleFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantpulse_oracle_failures_total",
		Help: "Grader failures substituted with the HOLD sentinel",
	}, []string{"kind"})

	CompositionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quantpulse_composition_duration_seconds",
		Help:    "Wall-clock time of one composition tick",
		Buckets: prometheus.DefBuckets,
	})
)

// Broadcast metrics
var (
	AgentsExcluded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantpulse_agents_excluded_total",
		Help: "Agents excluded during broadcast by reason",
	}, []string{"reason"})

	ValidationsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantpulse_validations_accepted_total",
		Help: "Per-agent validations accepted by risk band",
	}, []string{"risk_band"})

	ValidationsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quantpulse_validations_rejected_total",
		Help: "Per-agent validations rejected",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quantpulse_validated_queue_depth",
		Help: "Validated-signal queue depth",
	})
)

// Execution metrics
var (
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantpulse_orders_placed_total",
		Help: "Broker orders placed by status",
	}, []string{"status"})

	BrokerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantpulse_broker_errors_total",
		Help: "Broker errors by category",
	}, []string{"category"})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quantpulse_open_positions",
		Help: "Positions currently monitored",
	})

	PositionExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantpulse_position_exits_total",
		Help: "Monitor-driven exits by mode (full, partial)",
	}, []string{"mode"})
)

// Cache metrics
var (
	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quantpulse_redis_operations_total",
		Help: "Redis operations by command",
	}, []string{"operation"})

	RedisHitRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quantpulse_redis_hit_rate",
		Help: "Signal cache hit rate (0.0 to 1.0)",
	})
)

// RecordRedisOperation increments the per-command Redis counter
func RecordRedisOperation(op string) {
	RedisOperations.WithLabelValues(op).Inc()
}
