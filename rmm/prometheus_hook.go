package rmm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusHook is a Hook that exports allocation metrics.
type PrometheusHook struct {
	allocations      prometheus.Counter
	deallocations    prometheus.Counter
	failures         prometheus.Counter
	allocatedBytes   prometheus.Counter
	freedBytes       prometheus.Counter
	outstandingBytes prometheus.Gauge
	latency          *prometheus.HistogramVec
}

// NewPrometheusHook registers the hook's metrics on reg under namespace.
// A nil reg creates unregistered metrics.
func NewPrometheusHook(reg prometheus.Registerer, namespace string) *PrometheusHook {
	factory := promauto.With(reg)
	return &PrometheusHook{
		allocations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_allocations_total",
			Help:      "Total number of successful device memory allocations.",
		}),
		deallocations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_deallocations_total",
			Help:      "Total number of device memory deallocations.",
		}),
		failures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_allocation_failures_total",
			Help:      "Total number of failed device memory allocations.",
		}),
		allocatedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_allocated_bytes_total",
			Help:      "Total bytes of device memory allocated.",
		}),
		freedBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_freed_bytes_total",
			Help:      "Total bytes of device memory deallocated.",
		}),
		outstandingBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_outstanding_bytes",
			Help:      "Bytes of device memory allocated and not yet deallocated.",
		}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "device_memory_operation_duration_seconds",
			Help:      "Latency of device memory operations.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"action"}),
	}
}

// Unregister removes the hook's metrics from reg, so that a new hook can
// register under the same names. A nil reg is a no-op.
func (h *PrometheusHook) Unregister(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range h.collectors() {
		reg.Unregister(c)
	}
}

func (h *PrometheusHook) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		h.allocations,
		h.deallocations,
		h.failures,
		h.allocatedBytes,
		h.freedBytes,
		h.outstandingBytes,
		h.latency,
	}
}

func (h *PrometheusHook) BeforeEvent(_ *Event) {}

func (h *PrometheusHook) AfterEvent(event *Event) {
	h.latency.WithLabelValues(event.Action.String()).Observe(event.Duration.Seconds())

	switch event.Action {
	case ActionAllocate:
		if event.Err != nil {
			h.failures.Inc()
			return
		}
		h.allocations.Inc()
		h.allocatedBytes.Add(float64(event.Bytes))
		h.outstandingBytes.Add(float64(event.Bytes))
	case ActionDeallocate:
		h.deallocations.Inc()
		h.freedBytes.Add(float64(event.Bytes))
		h.outstandingBytes.Sub(float64(event.Bytes))
	}
}
