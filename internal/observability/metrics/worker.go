package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	extractTotal    *prometheus.CounterVec
	extractDuration *prometheus.HistogramVec
	extractInFlight prometheus.Gauge
	queueLag        *prometheus.HistogramVec
	failureTotal    *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	extractTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mx",
			Subsystem: "worker",
			Name:      "item_extract_total",
			Help:      "Total processed queue items by media type and final status.",
		},
		[]string{"service", "media_type", "status"},
	)
	extractDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mx",
			Subsystem: "worker",
			Name:      "item_extract_duration_seconds",
			Help:      "Extraction attempt duration in seconds by media type.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "media_type", "status"},
	)
	extractInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mx",
			Subsystem: "worker",
			Name:      "item_extract_in_flight",
			Help:      "Number of in-flight extraction attempts.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mx",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between item receipt and the start of its first attempt.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	failureTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mx",
			Subsystem: "worker",
			Name:      "item_attempt_failure_total",
			Help:      "Total extraction attempts that failed and hit the retry policy.",
		},
		[]string{"service", "media_type"},
	)

	registry.MustRegister(extractTotal, extractDuration, extractInFlight, queueLag, failureTotal)

	return &WorkerMetrics{
		registry:        registry,
		extractTotal:    extractTotal,
		extractDuration: extractDuration,
		extractInFlight: extractInFlight,
		queueLag:        queueLag,
		failureTotal:    failureTotal,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartAttempt() {
	m.extractInFlight.Inc()
}

// AbortAttempt undoes StartAttempt for polls that found nothing to claim.
func (m *WorkerMetrics) AbortAttempt() {
	m.extractInFlight.Dec()
}

func (m *WorkerMetrics) FinishAttempt(service, mediaType string, duration time.Duration, err error) {
	m.extractInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	if mediaType == "" {
		mediaType = "unknown"
	}

	m.extractTotal.WithLabelValues(service, mediaType, status).Inc()
	m.extractDuration.WithLabelValues(service, mediaType, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) RecordFailure(service, mediaType string) {
	if mediaType == "" {
		mediaType = "unknown"
	}
	m.failureTotal.WithLabelValues(service, mediaType).Inc()
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}
