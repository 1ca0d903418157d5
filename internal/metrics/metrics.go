// Package metrics exposes Prometheus instrumentation for the dashboard.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/home-dashboard/internal/device"
	"github.com/sweeney/home-dashboard/internal/presence"
	"github.com/sweeney/home-dashboard/internal/scheduler"
)

const namespace = "home_dashboard"

var statuses = []presence.Status{
	presence.StatusOnline,
	presence.StatusOffline,
	presence.StatusUnknown,
	presence.StatusError,
}

type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	weatherFetches *prometheus.CounterVec
	ticks          *prometheus.CounterVec
	staleDiscards  prometheus.Counter
	commands       *prometheus.CounterVec
	presenceState  *prometheus.GaugeVec
	secondsOffline prometheus.Gauge
	transitions    *prometheus.CounterVec
}

// New creates and registers the metrics on reg. A nil reg uses a fresh
// registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_cache_hits_total",
			Help:      "Weather lookups served from cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_cache_misses_total",
			Help:      "Weather lookups that required a fetch.",
		}),
		weatherFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_fetches_total",
			Help:      "Weather API calls by result.",
		}, []string{"result"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_total",
			Help:      "Poll ticks by mode and result.",
		}, []string{"mode", "result"}),
		staleDiscards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_stale_discards_total",
			Help:      "Tick results discarded because a newer tick was already applied.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Control commands by kind and outcome.",
		}, []string{"kind", "outcome"}),
		presenceState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_presence",
			Help:      "1 for the device's current presence status, 0 otherwise.",
		}, []string{"status"}),
		secondsOffline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_seconds_offline",
			Help:      "Seconds since the device was last seen, while offline.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_transitions_total",
			Help:      "Presence transitions by destination status.",
		}, []string{"to"}),
	}

	reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.cacheHits,
		m.cacheMisses,
		m.weatherFetches,
		m.ticks,
		m.staleDiscards,
		m.commands,
		m.presenceState,
		m.secondsOffline,
		m.transitions,
	)
	m.SetPresence(presence.Unknown())
	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts and times requests to route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// FetchDone records a weather API call.
func (m *Metrics) FetchDone(err error) {
	if m == nil {
		return
	}
	m.weatherFetches.WithLabelValues(result(err)).Inc()
}

// TickDone records a poll tick.
func (m *Metrics) TickDone(mode scheduler.Mode, err error) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(mode.String(), result(err)).Inc()
}

func (m *Metrics) StaleDiscarded() {
	if m == nil {
		return
	}
	m.staleDiscards.Inc()
}

// CommandDone records a command outcome.
func (m *Metrics) CommandDone(kind device.Kind, outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(string(kind), outcome).Inc()
}

// SetPresence updates the presence gauges.
func (m *Metrics) SetPresence(info presence.ConnectionInfo) {
	if m == nil {
		return
	}
	for _, s := range statuses {
		v := 0.0
		if s == info.Status {
			v = 1
		}
		m.presenceState.WithLabelValues(string(s)).Set(v)
	}
	m.secondsOffline.Set(float64(info.SecondsOffline))
}

// Transition counts a presence transition.
func (m *Metrics) Transition(to presence.Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(to)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
