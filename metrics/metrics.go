package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values besides the error kind names.
const (
	OutcomeSuccess       = "success"
	OutcomeInvalidSchema = "invalid_request"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anonymizer_requests_total",
			Help: "Total number of anonymization and analysis requests by outcome",
		},
		[]string{"operation", "outcome"},
	)

	EntitiesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anonymizer_entities_detected_total",
			Help: "Total number of PII entities replaced, by entity type",
		},
		[]string{"entity_type"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "anonymizer_request_duration_seconds",
			Help:    "Duration of anonymization and analysis requests in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"operation"},
	)

	RecognizerHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "anonymizer_recognizer_healthy",
			Help: "1 when the model-backed recognizer is loaded and healthy, 0 otherwise",
		},
	)
)

// ObserveRequest records the outcome and latency of one operation.
func ObserveRequest(operation, outcome string, elapsed time.Duration) {
	RequestsTotal.WithLabelValues(operation, outcome).Inc()
	RequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveEntities adds per-type entity counts.
func ObserveEntities(counts map[string]int) {
	for entityType, n := range counts {
		EntitiesDetected.WithLabelValues(entityType).Add(float64(n))
	}
}

// SetRecognizerHealthy is suitable as a model manager health observer.
func SetRecognizerHealthy(healthy bool) {
	if healthy {
		RecognizerHealthy.Set(1)
		return
	}
	RecognizerHealthy.Set(0)
}
