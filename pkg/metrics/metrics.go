package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	// Store call metrics
	StoreCallsTotal    *prometheus.CounterVec
	StoreCallFailures  *prometheus.CounterVec
	StoreCallRetries   *prometheus.CounterVec
	StoreCallLatency   *prometheus.HistogramVec
	ConnectionState    prometheus.Gauge
	ConnectionFailures prometheus.Gauge

	// Ingestion metrics
	IngestTotal            *prometheus.CounterVec
	NonCriticalWriteErrors *prometheus.CounterVec

	// Live metrics subscriber
	SnapshotRefreshes *prometheus.CounterVec
	WSClientsActive   prometheus.Gauge
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		StoreCallsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calldash_store_calls_total",
				Help: "Total number of store calls issued through the request client",
			},
			[]string{"table", "op"},
		)

		StoreCallFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calldash_store_call_failures_total",
				Help: "Store call failures by classification",
			},
			[]string{"table", "op", "class"},
		)

		StoreCallRetries = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calldash_store_call_retries_total",
				Help: "Retry attempts performed by the request client",
			},
			[]string{"table", "op"},
		)

		StoreCallLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "calldash_store_call_duration_seconds",
				Help:    "Latency of store calls including retries",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"table", "op"},
		)

		ConnectionState = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "calldash_connection_state",
				Help: "Backend connection state (0=unknown, 1=connected, 2=error)",
			},
		)

		ConnectionFailures = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "calldash_connection_failures",
				Help: "Cumulative failed calls since the last successful call",
			},
		)

		IngestTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calldash_ingest_total",
				Help: "Transcript ingestion results",
			},
			[]string{"result"},
		)

		NonCriticalWriteErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calldash_non_critical_write_errors_total",
				Help: "Dropped best-effort writes (summary and trend tables)",
			},
			[]string{"table"},
		)

		SnapshotRefreshes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "calldash_snapshot_refreshes_total",
				Help: "Metrics snapshot refreshes by trigger",
			},
			[]string{"trigger", "outcome"},
		)

		WSClientsActive = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "calldash_ws_clients_active",
				Help: "Connected dashboard websocket clients",
			},
		)

		registry.MustRegister(
			StoreCallsTotal,
			StoreCallFailures,
			StoreCallRetries,
			StoreCallLatency,
			ConnectionState,
			ConnectionFailures,
			IngestTotal,
			NonCriticalWriteErrors,
			SnapshotRefreshes,
			WSClientsActive,
		)

		logger.Info("Prometheus metrics registered")
	})
}

// Handler returns the HTTP handler for the metrics endpoint.
func Handler() http.Handler {
	if registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordStoreCall records one completed store call. Safe to call before Init.
func RecordStoreCall(table, op string, duration time.Duration) {
	if StoreCallsTotal == nil {
		return
	}
	StoreCallsTotal.WithLabelValues(table, op).Inc()
	StoreCallLatency.WithLabelValues(table, op).Observe(duration.Seconds())
}

// RecordStoreFailure records a classified store call failure. Safe to call before Init.
func RecordStoreFailure(table, op, class string) {
	if StoreCallFailures == nil {
		return
	}
	StoreCallFailures.WithLabelValues(table, op, class).Inc()
}

// RecordRetry records one retry attempt. Safe to call before Init.
func RecordRetry(table, op string) {
	if StoreCallRetries == nil {
		return
	}
	StoreCallRetries.WithLabelValues(table, op).Inc()
}

// SetConnectionState updates the connection state gauge. Safe to call before Init.
func SetConnectionState(state float64, failures int) {
	if ConnectionState == nil {
		return
	}
	ConnectionState.Set(state)
	ConnectionFailures.Set(float64(failures))
}

// RecordIngest records one pipeline outcome. Safe to call before Init.
func RecordIngest(result string) {
	if IngestTotal == nil {
		return
	}
	IngestTotal.WithLabelValues(result).Inc()
}

// RecordDroppedWrite records a dropped non-critical write. Safe to call before Init.
func RecordDroppedWrite(table string) {
	if NonCriticalWriteErrors == nil {
		return
	}
	NonCriticalWriteErrors.WithLabelValues(table).Inc()
}

// RecordRefresh records a snapshot refresh. Safe to call before Init.
func RecordRefresh(trigger, outcome string) {
	if SnapshotRefreshes == nil {
		return
	}
	SnapshotRefreshes.WithLabelValues(trigger, outcome).Inc()
}

// SetWSClients updates the websocket client gauge. Safe to call before Init.
func SetWSClients(n int) {
	if WSClientsActive == nil {
		return
	}
	WSClientsActive.Set(float64(n))
}
