package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Equbuxu/PixelPainter-sub000/pkg/memkv"
)

// Metrics groups the engine's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	PixelsSent         prometheus.Counter
	BatchesFailed      prometheus.Counter
	Events             *prometheus.CounterVec
	Iterations         prometheus.Counter
	ConnectionsCreated prometheus.Counter
	ConnectionsDropped *prometheus.CounterVec
	Connections        prometheus.Gauge
	QueuedPixels       prometheus.Gauge
	QueueBuilt         prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		PixelsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pixelpainter", Name: "pixels_sent_total",
			Help: "Pixels submitted in successful batches.",
		}),
		BatchesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pixelpainter", Name: "batches_failed_total",
			Help: "Batches whose send failed; their pixels are dropped.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixelpainter", Name: "inbound_events_total",
			Help: "Inbound events applied by the manager, by kind.",
		}, []string{"kind"}),
		Iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pixelpainter", Name: "manager_iterations_total",
			Help: "Manager pipeline iterations.",
		}),
		ConnectionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pixelpainter", Name: "connections_created_total",
			Help: "Connections created.",
		}),
		ConnectionsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixelpainter", Name: "connections_dropped_total",
			Help: "Connections torn down, by reason.",
		}, []string{"reason"}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pixelpainter", Name: "connections",
			Help: "Live connections.",
		}),
		QueuedPixels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pixelpainter", Name: "queued_pixels",
			Help: "Pixels waiting in session queues.",
		}),
		QueueBuilt: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pixelpainter", Name: "queue_built_size",
			Help:    "Size of correction queues produced by the placement strategy.",
			Buckets: []float64{0, 1, 5, 10, 28, 56, 100, 200},
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.PixelsSent, m.BatchesFailed, m.Events, m.Iterations,
		m.ConnectionsCreated, m.ConnectionsDropped, m.Connections,
		m.QueuedPixels, m.QueueBuilt,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ObserveBatch(n int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.BatchesFailed.Inc()
		return
	}
	m.PixelsSent.Add(float64(n))
}

func (m *Metrics) ObserveEvent(kind string) {
	if m != nil {
		m.Events.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ObserveIteration() {
	if m != nil {
		m.Iterations.Inc()
	}
}

func (m *Metrics) ObserveCreated() {
	if m != nil {
		m.ConnectionsCreated.Inc()
	}
}

func (m *Metrics) ObserveDropped(reason string) {
	if m != nil {
		m.ConnectionsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ObserveQueueBuilt(n int) {
	if m != nil {
		m.QueueBuilt.Observe(float64(n))
	}
}

// SetLive records the live connection count and the total session backlog.
func (m *Metrics) SetLive(conns, queued int) {
	if m == nil {
		return
	}
	m.Connections.Set(float64(conns))
	m.QueuedPixels.Set(float64(queued))
}

// WatchStore exports the counters of an in-memory KV under the given store
// label. Values are read at scrape time.
func (m *Metrics) WatchStore(name string, stats func() memkv.Stats) error {
	if m == nil {
		return nil
	}
	labels := prometheus.Labels{"store": name}
	gauge := func(metric, help string, v func(memkv.Stats) uint64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "pixelpainter", Subsystem: "kv", Name: metric, Help: help, ConstLabels: labels,
		}, func() float64 { return float64(v(stats())) })
	}
	counter := func(metric, help string, v func(memkv.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "pixelpainter", Subsystem: "kv", Name: metric, Help: help, ConstLabels: labels,
		}, func() float64 { return float64(v(stats())) })
	}
	for _, c := range []prometheus.Collector{
		gauge("keys", "Live keys.", func(st memkv.Stats) uint64 { return st.Keys }),
		gauge("bytes", "Bytes held in values.", func(st memkv.Stats) uint64 { return st.Bytes }),
		counter("hits_total", "Reads that found a live key.", func(st memkv.Stats) uint64 { return st.Hits }),
		counter("misses_total", "Reads that found nothing.", func(st memkv.Stats) uint64 { return st.Misses }),
		counter("expired_total", "Keys removed by TTL.", func(st memkv.Stats) uint64 { return st.Expired }),
		counter("writes_total", "Inserts and in-place updates.", func(st memkv.Stats) uint64 { return st.Sets + st.Updates }),
	} {
		if err := m.reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
