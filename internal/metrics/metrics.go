package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "writingtools"

var (
	providerReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total provider requests by provider, model and result",
		},
		[]string{"provider", "model", "result"},
	)

	providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of provider requests by provider and model",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "model"},
	)

	sessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Finished sessions by operation and terminal state",
		},
		[]string{"operation", "state"},
	)

	captures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_total",
			Help:      "Captured payloads by kind (text, pdf, image, video, url, shared, none)",
		},
		[]string{"kind"},
	)

	extractionDegraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_degraded_total",
			Help:      "Extractions that fell back to partial or empty output, by kind",
		},
		[]string{"kind"},
	)

	activeProvider = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_provider",
			Help:      "1 for the currently selected provider, 0 otherwise",
		},
		[]string{"provider"},
	)
)

var registerOnce sync.Once

// Init registers collectors. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(providerReqs, providerLatency, sessions, captures, extractionDegraded, activeProvider)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveProvider(provider, model, result string, dur time.Duration) {
	providerReqs.WithLabelValues(provider, model, result).Inc()
	providerLatency.WithLabelValues(provider, model).Observe(dur.Seconds())
}

func IncSession(operation, state string) { sessions.WithLabelValues(operation, state).Inc() }
func IncCapture(kind string)             { captures.WithLabelValues(kind).Inc() }
func IncExtractionDegraded(kind string)  { extractionDegraded.WithLabelValues(kind).Inc() }

// SetActiveProvider flips the gauge so exactly one of names reads 1.
func SetActiveProvider(active string, names []string) {
	for _, n := range names {
		v := 0.0
		if n == active {
			v = 1
		}
		activeProvider.WithLabelValues(n).Set(v)
	}
}
