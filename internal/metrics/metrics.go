// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Feed message throughput and decode failures
//   - Reconnect count and connection state
//   - New-record counts by kind
//   - Per-message processing latency
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bookmon_messages_processed_total",
		Help: "Feed frames successfully decoded and applied.",
	})

	DecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bookmon_decode_errors_total",
		Help: "Feed frames dropped as malformed or unrecognized.",
	})

	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bookmon_reconnects_total",
		Help: "Feed transport reconnections.",
	})

	Connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bookmon_connected",
		Help: "1 when the feed transport is connected.",
	})

	NewRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bookmon_new_records_total",
		Help: "Record overwrites by kind (ath_bid, ath_ask, atl_ask, atl_total).",
	}, []string{"kind"})

	ProcessingLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bookmon_processing_latency_seconds",
		Help:    "Per-message processing latency.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16),
	})

	Staleness = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bookmon_staleness_seconds",
		Help: "Seconds since the last processed feed message.",
	})
)

// Register registers all collectors with the default registry.
func Register() {
	prometheus.MustRegister(
		MessagesProcessed,
		DecodeErrors,
		Reconnects,
		Connected,
		NewRecords,
		ProcessingLatency,
		Staleness,
	)
}
