package site

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the refresh counters exposed on /metrics. A nil *Metrics
// records nothing.
type Metrics struct {
	registry      *prometheus.Registry
	fetches       *prometheus.CounterVec
	saves         *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	lastCycle     prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rwkv_site",
			Name:      "fetches_total",
			Help:      "Provider fetches by artifact type and outcome.",
		}, []string{"type", "outcome"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rwkv_site",
			Name:      "saves_total",
			Help:      "Store writes by artifact type and result.",
		}, []string{"type", "result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rwkv_site",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of full refresh cycles.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rwkv_site",
			Name:      "last_refresh_timestamp_seconds",
			Help:      "Unix time the last refresh cycle finished.",
		}),
	}
	m.registry.MustRegister(
		m.fetches, m.saves, m.cycleDuration, m.lastCycle,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) fetched(t Type, o Outcome) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(string(t), string(o)).Inc()
}

func (m *Metrics) saved(t Type, result string) {
	if m == nil {
		return
	}
	m.saves.WithLabelValues(string(t), result).Inc()
}

func (m *Metrics) cycle(d time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
	m.lastCycle.Set(float64(finished.Unix()))
}
