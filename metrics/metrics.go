// Package metrics provides Prometheus metrics for the image server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InfoCacheLookups counts metadata lookups by the tier that answered.
	InfoCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iiif",
			Name:      "info_cache_lookups_total",
			Help:      "Metadata lookups by result (memory, disk, miss)",
		},
		[]string{"result"},
	)

	// DerivativeCacheLookups counts derivative lookups.
	DerivativeCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iiif",
			Name:      "derivative_cache_lookups_total",
			Help:      "Derivative lookups by result (hit, alias, miss)",
		},
		[]string{"result"},
	)

	// ExtractionsTotal counts codestream extractions.
	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iiif",
			Name:      "extractions_total",
			Help:      "Codestream metadata extractions by status",
		},
		[]string{"status"},
	)

	// DecodeDuration measures the external decoder runs.
	DecodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "iiif",
			Name:      "decode_duration_seconds",
			Help:      "Duration of decoder runs in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"decoder"},
	)

	// DecodeTotal counts decoder runs by outcome.
	DecodeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iiif",
			Name:      "decode_total",
			Help:      "Decoder runs by status (ok, error, timeout)",
		},
		[]string{"decoder", "status"},
	)

	// TransformErrorsTotal counts pipeline failures by stage.
	TransformErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iiif",
			Name:      "transform_errors_total",
			Help:      "Transform pipeline errors by stage",
		},
		[]string{"stage"},
	)

	// RequestsTotal counts HTTP responses.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "iiif",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)

	// RequestDuration measures HTTP requests.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "iiif",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

// RecordInfoLookup records a metadata cache lookup.
func RecordInfoLookup(result string) {
	InfoCacheLookups.WithLabelValues(result).Inc()
}

// RecordDerivativeLookup records a derivative cache lookup.
func RecordDerivativeLookup(result string) {
	DerivativeCacheLookups.WithLabelValues(result).Inc()
}

// RecordExtraction records a metadata extraction.
func RecordExtraction(status string) {
	ExtractionsTotal.WithLabelValues(status).Inc()
}

// RecordDecode records a decoder run.
func RecordDecode(decoder, status string, duration float64) {
	DecodeTotal.WithLabelValues(decoder, status).Inc()
	DecodeDuration.WithLabelValues(decoder).Observe(duration)
}

// RecordTransformError records a pipeline failure.
func RecordTransformError(stage string) {
	TransformErrorsTotal.WithLabelValues(stage).Inc()
}

// RecordRequest records a served HTTP request.
func RecordRequest(route, code string, duration float64) {
	RequestsTotal.WithLabelValues(route, code).Inc()
	RequestDuration.WithLabelValues(route).Observe(duration)
}
