package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "syncly"

// TransferMetrics holds Prometheus collectors for chunk transfers.
type TransferMetrics struct {
	reg       *prometheus.Registry
	bytes     *prometheus.CounterVec
	ops       *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	retargets *prometheus.CounterVec
	freeBytes *prometheus.GaugeVec
}

// New registers transfer metrics on a private registry.
func New() *TransferMetrics {
	reg := prometheus.NewRegistry()

	bytes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transfer",
		Name:      "bytes_total",
		Help:      "Total chunk bytes moved to or from a provider.",
	}, []string{"op", "provider"})
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transfer",
		Name:      "ops_total",
		Help:      "Total number of chunk transfers by result.",
	}, []string{"op", "provider", "result"}) // result = "ok" | "error"
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "transfer",
		Name:      "duration_seconds",
		Help:      "Histogram of chunk transfer durations in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op", "provider"})
	retargets := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "allocator",
		Name:      "retargets_total",
		Help:      "Chunks re-assigned after a provider reported its quota exceeded.",
	}, []string{"provider"})
	freeBytes := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "bucket",
		Name:      "free_bytes",
		Help:      "Free space reported by a bucket at the last ranking.",
	}, []string{"provider", "account"})

	reg.MustRegister(bytes, ops, latency, retargets, freeBytes)

	return &TransferMetrics{
		reg:       reg,
		bytes:     bytes,
		ops:       ops,
		latency:   latency,
		retargets: retargets,
		freeBytes: freeBytes,
	}
}

// Registry exposes the underlying registry.
func (m *TransferMetrics) Registry() *prometheus.Registry {
	return m.reg
}

// Observe records one chunk transfer. dur must be the total time spent in it.
func (m *TransferMetrics) Observe(op, provider string, bytes int64, err error, dur time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	if bytes > 0 && err == nil {
		m.bytes.WithLabelValues(op, provider).Add(float64(bytes))
	}
	m.ops.WithLabelValues(op, provider, result).Inc()
	m.latency.WithLabelValues(op, provider).Observe(dur.Seconds())
}

// Retarget counts a chunk moved away from a full bucket.
func (m *TransferMetrics) Retarget(provider string) {
	if m == nil {
		return
	}
	m.retargets.WithLabelValues(provider).Inc()
}

// SetFree records the free space of a bucket.
func (m *TransferMetrics) SetFree(provider, account string, free int64) {
	if m == nil {
		return
	}
	m.freeBytes.WithLabelValues(provider, account).Set(float64(free))
}

// Push sends the collected metrics to a Pushgateway.
func (m *TransferMetrics) Push(ctx context.Context, url, job string) error {
	return push.New(url, job).Gatherer(m.reg).PushContext(ctx)
}
