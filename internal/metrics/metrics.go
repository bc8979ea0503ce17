package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the engine's instrumentation. A private registry keeps
// the /metrics output limited to what the engine owns.
type Metrics struct {
	reg *prometheus.Registry

	MeasurementsWritten prometheus.Counter
	TicksTotal          prometheus.Counter
	TickErrors          prometheus.Counter
	StaleSkips          prometheus.Counter
	ReconnectAttempts   prometheus.Counter
	CacheEntries        prometheus.GaugeFunc
}

func New(cacheLen func() int) *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}

	m.MeasurementsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pvimport_measurements_written_total",
		Help: "Measurement rows inserted into the inventory database.",
	})
	m.TicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pvimport_object_ticks_total",
		Help: "Per-object import ticks fired.",
	})
	m.TickErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pvimport_tick_errors_total",
		Help: "Import ticks that failed and were skipped.",
	})
	m.StaleSkips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pvimport_stale_slots_skipped_total",
		Help: "Measurement slots dropped because the channel was stale.",
	})
	m.ReconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pvimport_db_reconnect_attempts_total",
		Help: "Database reconnect ladder steps taken.",
	})
	if cacheLen == nil {
		cacheLen = func() int { return 0 }
	}
	m.CacheEntries = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "pvimport_cached_channels",
		Help: "Channels with at least one received update.",
	}, func() float64 { return float64(cacheLen()) })

	m.reg.MustRegister(
		m.MeasurementsWritten,
		m.TicksTotal,
		m.TickErrors,
		m.StaleSkips,
		m.ReconnectAttempts,
		m.CacheEntries,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
