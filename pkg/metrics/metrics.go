package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VerificationAttempts records OTP verification attempts by result
	// (linked|switched|conflicted|failure).
	VerificationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbit_verification_attempts_total",
			Help: "Total number of OTP verification attempts",
		},
		[]string{"result"},
	)

	// BoardMutations counts accepted board/note mutations by event type.
	BoardMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbit_board_mutations_total",
			Help: "Total number of accepted workspace mutations",
		},
		[]string{"event"},
	)

	// RealtimeSubscribers tracks currently connected board subscribers.
	RealtimeSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "orbit_realtime_subscribers",
			Help: "Number of connected realtime board subscribers",
		},
	)

	// RetentionPurged counts rows removed by the retention sweeper, by track
	// (ghost|board) and stage (soft|hard).
	RetentionPurged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orbit_retention_purged_total",
			Help: "Rows soft- or hard-deleted by the retention sweeper",
		},
		[]string{"track", "stage"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orbit_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
