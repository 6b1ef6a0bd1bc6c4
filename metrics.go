package refetch

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "refetch"

// Cycle results used as the "result" label.
const (
	resultOK    = "ok"
	resultEmpty = "empty"
)

// fetchMetrics holds the fetcher's Prometheus collectors.
type fetchMetrics struct {
	cyclesTotal        *prometheus.CounterVec // by result: ok, empty or error kind
	receivedBytesTotal prometheus.Counter
	droppedTotal       prometheus.Counter
	admittedTotal      prometheus.Counter
	bufferOccupancy    prometheus.GaugeFunc
}

func newFetchMetrics(registerer prometheus.Registerer, occupancy func() float64) *fetchMetrics {
	metrics := &fetchMetrics{
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "cycles_total",
			Help:      "Numbers of finished fetch cycles by result",
		}, []string{"result"}),
		receivedBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "received_bytes_total",
			Help:      "Total bytes received from the target, headers included",
		}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "buffer_dropped_total",
			Help:      "Numbers of bodies lost to buffer overflow",
		}),
		admittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "buffer_admitted_total",
			Help:      "Numbers of bodies admitted into the buffer",
		}),
		bufferOccupancy: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "buffer_occupancy",
			Help:      "Current numbers of buffered bodies",
		}, occupancy),
	}

	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	registerer.MustRegister(
		metrics.cyclesTotal,
		metrics.receivedBytesTotal,
		metrics.droppedTotal,
		metrics.admittedTotal,
		metrics.bufferOccupancy,
	)
	return metrics
}

func (m *fetchMetrics) OnCycle(resp *Response, err error) {
	switch {
	case err != nil:
		m.cyclesTotal.WithLabelValues(errorKind(err)).Inc()
	case resp.Body == nil:
		m.cyclesTotal.WithLabelValues(resultEmpty).Inc()
	default:
		m.cyclesTotal.WithLabelValues(resultOK).Inc()
	}
}

func (m *fetchMetrics) OnReceived(n int) {
	m.receivedBytesTotal.Add(float64(n))
}

func (m *fetchMetrics) OnPushed() {
	m.admittedTotal.Inc()
}

func (m *fetchMetrics) OnDropped() {
	m.droppedTotal.Inc()
}
