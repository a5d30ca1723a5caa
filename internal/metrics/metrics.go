package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for whisperd. Each instance owns
// its registry, so tests can create as many as they need without duplicate
// registration panics.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  *prometheus.CounterVec
	TranscriptionDuration  prometheus.Histogram
	ConversionDuration     prometheus.Histogram
	SilenceGateSkips       prometheus.Counter
	AudioBytes             prometheus.Histogram
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisperd_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "whisperd_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),

		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisperd_transcription_requests_total",
			Help: "Total number of transcription requests accepted by the pipeline",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisperd_transcription_successes_total",
			Help: "Total number of successful transcriptions",
		}),
		TranscriptionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whisperd_transcription_failures_total",
			Help: "Total number of failed transcriptions by failure kind",
		}, []string{"kind"}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisperd_transcription_duration_seconds",
			Help:    "Duration of inference calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		ConversionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisperd_conversion_duration_seconds",
			Help:    "Duration of audio normalization",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		SilenceGateSkips: factory.NewCounter(prometheus.CounterOpts{
			Name: "whisperd_silence_gate_skips_total",
			Help: "Transcriptions skipped because the clip was silent",
		}),
		AudioBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "whisperd_audio_payload_bytes",
			Help:    "Size of decoded audio payloads in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
	}
}

// Handler returns the HTTP handler serving this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordTranscriptionSuccess records a pipeline run that produced a transcript.
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a pipeline run that failed.
func (m *Metrics) RecordTranscriptionFailure(kind string) {
	m.TranscriptionFailures.WithLabelValues(kind).Inc()
}
