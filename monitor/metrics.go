// Package monitor exposes Prometheus metrics for the relay path.
package monitor

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	relayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gproxy",
		Name:      "relay_requests_total",
		Help:      "Relay requests by provider and operation.",
	}, []string{"provider", "operation"})

	relayResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gproxy",
		Name:      "relay_responses_total",
		Help:      "Relay responses by provider, operation, and status class.",
	}, []string{"provider", "operation", "status"})

	relayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gproxy",
		Name:      "relay_duration_seconds",
		Help:      "End-to-end relay latency.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"provider", "operation"})

	poolRotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gproxy",
		Name:      "pool_disallow_marks_total",
		Help:      "Disallow marks installed by the credential pools.",
	}, []string{"provider", "level"})
)

func RecordRelayRequest(provider, operation string) {
	relayRequests.WithLabelValues(provider, operation).Inc()
}

func RecordRelayResponse(provider, operation string, status int, start time.Time) {
	relayResponses.WithLabelValues(provider, operation, strconv.Itoa(status/100)+"xx").Inc()
	relayDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
}

func RecordDisallowMark(provider, level string) {
	poolRotations.WithLabelValues(provider, level).Inc()
}
