package resolver

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/teralink/resolver/internal/browser"
	"github.com/hazyhaar/teralink/resolver/internal/extract"
)

// Metrics holds the Prometheus collectors for resolutions.
type Metrics struct {
	reg  prometheus.Registerer
	gat  prometheus.Gatherer
	pool atomic.Pointer[browser.Manager]

	Resolutions       *prometheus.CounterVec
	Duration          *prometheus.HistogramVec
	Extractions       *prometheus.CounterVec
	InterceptDropped  prometheus.Counter
	InterceptObserved prometheus.Histogram
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newMetrics(reg, reg)
}

func newMetrics(reg prometheus.Registerer, gat prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		reg: reg,
		gat: gat,
		Resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "teralink_resolutions_total",
			Help: "Resolutions by outcome (success or error kind).",
		}, []string{"outcome"}),
		Duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "teralink_resolution_duration_seconds",
			Help:    "End-to-end resolution latency.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60, 90, 120},
		}, []string{"outcome"}),
		Extractions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "teralink_extractions_total",
			Help: "Successful extractions by tier and pass.",
		}, []string{"tier", "pass"}),
		InterceptDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "teralink_interception_dropped_total",
			Help: "Network events evicted from full interception buffers.",
		}),
		InterceptObserved: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "teralink_interception_events",
			Help:    "Network events observed per session.",
			Buckets: prometheus.ExponentialBuckets(8, 2, 10),
		}),
	}
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "teralink_browser_sessions_in_use",
		Help: "Browser sessions currently checked out.",
	}, func() float64 { return m.poolStat((*browser.Manager).InUse) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "teralink_browser_sessions_capacity",
		Help: "Maximum concurrent browser sessions.",
	}, func() float64 { return m.poolStat((*browser.Manager).Capacity) })
	return m
}

func (m *Metrics) poolStat(stat func(*browser.Manager) int64) float64 {
	pool := m.pool.Load()
	if pool == nil {
		return 0
	}
	return float64(stat(pool))
}

// observePool points the pool gauges at pool. The last bound pool wins.
func (m *Metrics) observePool(pool *browser.Manager) {
	m.pool.Store(pool)
}

func (m *Metrics) observeResult(res Result) {
	outcome := "success"
	if !res.Success {
		outcome = string(res.Kind)
	}
	m.Resolutions.WithLabelValues(outcome).Inc()
	m.Duration.WithLabelValues(outcome).Observe(float64(res.ElapsedMs) / 1000)
}

func (m *Metrics) observeSession(sess *browser.Session, res extract.Result, err error) {
	ic := sess.Interception()
	m.InterceptObserved.Observe(float64(ic.Len()))
	if d := ic.Dropped(); d > 0 {
		m.InterceptDropped.Add(float64(d))
	}
	if err == nil {
		m.Extractions.WithLabelValues(string(res.Tier), string(res.Pass)).Inc()
	}
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gat, promhttp.HandlerOpts{})
}
