package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Bus request cycles, labelled by bus and outcome (ok, not_ready, framing, length, transport, cancelled)
	Requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supmcu_requests_total",
			Help: "Completed SupMCU request cycles",
		},
		[]string{"bus", "outcome"},
	)

	// Write-only sends (TEL writes and raw commands)
	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supmcu_sends_total",
			Help: "SupMCU commands written without read-back",
		},
		[]string{"bus"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "supmcu_request_duration_seconds",
			Help:    "Write, settle delay and read of one request",
			Buckets: []float64{0.05, 0.1, 0.15, 0.25, 0.5, 1, 2.5},
		},
		[]string{"bus"},
	)

	DiscoveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "supmcu_discovery_duration_seconds",
		Help:    "Duration of a full module discovery",
		Buckets: prometheus.ExponentialBuckets(1, 2, 8),
	})

	DiscoveredModules = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "supmcu_registered_modules",
		Help: "Modules registered across all buses",
	})

	PollErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supmcu_poll_errors_total",
			Help: "Failed telemetry polls",
		},
		[]string{"module", "reason"},
	)

	registerOnce sync.Once
)

// Register adds all collectors to reg. Safe to call more than once.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			Requests,
			Sends,
			RequestDuration,
			DiscoveryDuration,
			DiscoveredModules,
			PollErrors,
		)
	})
}
