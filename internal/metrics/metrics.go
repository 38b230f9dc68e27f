// Package metrics exposes Prometheus instrumentation for the HTTP API, the
// updater loop, content loading and log volume.
package metrics

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Quertz/joker/internal/updater"
)

const namespace = "joker"

// Metrics holds every collector the server reports. Create one per registry.
type Metrics struct {
	gatherer prometheus.Gatherer

	// Labels: route (gin route pattern), status (HTTP code)
	HTTPRequests *prometheus.CounterVec
	// Labels: route
	HTTPDuration *prometheus.HistogramVec

	// Labels: result (no_update, applied, probe_failed, apply_failed)
	UpdaterCycles        *prometheus.CounterVec
	UpdaterCycleDuration prometheus.Histogram
	UpdaterLastCheck     prometheus.Gauge

	// Labels: lang, category
	ContentJokes *prometheus.GaugeVec

	// Labels: level, component
	LogRecords *prometheus.CounterVec
}

// New registers all collectors on reg. Passing a fresh prometheus.Registry
// keeps tests isolated from the global default registry.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"route"}),
		UpdaterCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "updater",
			Name:      "cycles_total",
			Help:      "Completed update cycles by result.",
		}, []string{"result"}),
		UpdaterCycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "updater",
			Name:      "cycle_duration_seconds",
			Help:      "Time spent probing and applying per cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 240},
		}),
		UpdaterLastCheck: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "updater",
			Name:      "last_check_timestamp_seconds",
			Help:      "Unix time at which the last update cycle started.",
		}),
		ContentJokes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "content",
			Name:      "jokes",
			Help:      "Jokes currently cached per language and category.",
		}, []string{"lang", "category"}),
		LogRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "log",
			Name:      "records_total",
			Help:      "Log records emitted by level and component.",
		}, []string{"level", "component"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveCycle implements updater.CycleObserver.
func (m *Metrics) ObserveCycle(result updater.CycleResult, checkedAt time.Time, elapsed time.Duration) {
	m.UpdaterCycles.WithLabelValues(result.String()).Inc()
	m.UpdaterCycleDuration.Observe(elapsed.Seconds())
	m.UpdaterLastCheck.Set(float64(checkedAt.UnixNano()) / 1e9)
}

// SetJokeCount records the number of cached jokes for a file.
func (m *Metrics) SetJokeCount(lang, category string, n int) {
	m.ContentJokes.WithLabelValues(lang, category).Set(float64(n))
}

// ObserveLog implements logging.Observer.
func (m *Metrics) ObserveLog(level slog.Level, component string) {
	m.LogRecords.WithLabelValues(level.String(), component).Inc()
}
