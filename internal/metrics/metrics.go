// Package metrics declares the Prometheus instruments of the sentinel.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FlowsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_flows_processed_total",
		Help: "Flows run through the detector, by source.",
	}, []string{"source"})

	ThreatsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_threats_detected_total",
		Help: "Non-benign classifications recorded, by type and severity.",
	}, []string{"type", "severity"})

	AutoBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_auto_blocks_total",
		Help: "Source addresses blocked automatically.",
	})

	LoopErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_loop_errors_total",
		Help: "Errors swallowed by the detection loop, by stage.",
	}, []string{"stage"})

	LoopIterationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinel_loop_iteration_seconds",
		Help:    "Wall time of one detection loop iteration.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	SnapshotWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_snapshot_writes_total",
		Help: "Snapshot writer runs, by writer and result.",
	}, []string{"writer", "result"})

	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_broadcasts_total",
		Help: "Push-channel messages handed to observers, by sink and kind.",
	}, []string{"sink", "kind"})

	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_api_requests_total",
		Help: "HTTP requests served, by route and status code.",
	}, []string{"route", "code"})

	APIRequestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_api_request_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// CountSource reports the current number of stored events and blocks.
type CountSource interface {
	Counts() (events, blocked int)
}

// RegisterStoreGauges exposes the store sizes as gauges read at scrape time.
func RegisterStoreGauges(reg prometheus.Registerer, src CountSource) error {
	events := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sentinel_store_events",
		Help: "Threat events held in the store.",
	}, func() float64 {
		n, _ := src.Counts()
		return float64(n)
	})
	blocked := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sentinel_store_blocked_addresses",
		Help: "Addresses currently blocked.",
	}, func() float64 {
		_, n := src.Counts()
		return float64(n)
	})
	if err := reg.Register(events); err != nil {
		return err
	}
	return reg.Register(blocked)
}
