package counter

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric label names.
const (
	FieldComponent = "component"
	FieldMethod    = "method"
)

// BackendMetrics groups the collectors recorded by InstrumentBackendMiddleware.
type BackendMetrics struct {
	ErrCount  *prometheus.CounterVec
	HitCount  *prometheus.CounterVec
	OpCount   *prometheus.CounterVec
	OpLatency *prometheus.HistogramVec
}

// NewBackendMetrics creates unregistered collectors under namespace.
func NewBackendMetrics(namespace string) *BackendMetrics {
	labels := []string{FieldComponent, FieldMethod}
	return &BackendMetrics{
		ErrCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_backend_err_count",
			Help:      "Number of failed counter backend operations.",
		}, labels),
		HitCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_backend_hit_count",
			Help:      "Number of counter reads served from the backend.",
		}, labels),
		OpCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_backend_op_count",
			Help:      "Number of successful counter backend operations.",
		}, labels),
		OpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "counter_backend_op_latency_seconds",
			Help:      "Distribution of counter backend operation latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, labels),
	}
}

// Register registers all collectors with r.
func (m *BackendMetrics) Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.ErrCount, m.HitCount, m.OpCount, m.OpLatency} {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

type instrumentBackend struct {
	component string
	metrics   *BackendMetrics
	next      Backend
}

// InstrumentBackendMiddleware observes every backend call.
func InstrumentBackendMiddleware(component string, metrics *BackendMetrics) BackendMiddleware {
	return func(next Backend) Backend {
		return &instrumentBackend{
			component: component,
			metrics:   metrics,
			next:      next,
		}
	}
}

func (b *instrumentBackend) Get(ctx context.Context, key string) (v int64, ok bool, err error) {
	defer func(begin time.Time) {
		if ok {
			b.trackHit("Get")
		}
		b.track("Get", begin, err)
	}(time.Now())

	return b.next.Get(ctx, key)
}

func (b *instrumentBackend) Set(ctx context.Context, key string, value int64, ttl time.Duration) (err error) {
	defer func(begin time.Time) {
		b.track("Set", begin, err)
	}(time.Now())

	return b.next.Set(ctx, key, value, ttl)
}

func (b *instrumentBackend) Add(ctx context.Context, key string, value int64, ttl time.Duration) (added bool, err error) {
	defer func(begin time.Time) {
		b.track("Add", begin, err)
	}(time.Now())

	return b.next.Add(ctx, key, value, ttl)
}

func (b *instrumentBackend) IncrementIfExists(ctx context.Context, key string, delta int64) (v int64, ok bool, err error) {
	defer func(begin time.Time) {
		b.track("IncrementIfExists", begin, err)
	}(time.Now())

	return b.next.IncrementIfExists(ctx, key, delta)
}

func (b *instrumentBackend) DecrementIfExists(ctx context.Context, key string, delta int64) (v int64, ok bool, err error) {
	defer func(begin time.Time) {
		b.track("DecrementIfExists", begin, err)
	}(time.Now())

	return b.next.DecrementIfExists(ctx, key, delta)
}

func (b *instrumentBackend) Delete(ctx context.Context, key string) (err error) {
	defer func(begin time.Time) {
		b.track("Delete", begin, err)
	}(time.Now())

	return b.next.Delete(ctx, key)
}

func (b *instrumentBackend) GetMulti(ctx context.Context, keys []string) (values map[string]int64, err error) {
	defer func(begin time.Time) {
		if len(values) > 0 {
			b.metrics.HitCount.WithLabelValues(b.component, "GetMulti").Add(float64(len(values)))
		}
		b.track("GetMulti", begin, err)
	}(time.Now())

	return b.next.GetMulti(ctx, keys)
}

func (b *instrumentBackend) track(method string, begin time.Time, err error) {
	if err != nil {
		b.metrics.ErrCount.WithLabelValues(b.component, method).Add(1)
		return
	}

	b.metrics.OpCount.WithLabelValues(b.component, method).Add(1)
	b.metrics.OpLatency.WithLabelValues(b.component, method).Observe(time.Since(begin).Seconds())
}

func (b *instrumentBackend) trackHit(method string) {
	b.metrics.HitCount.WithLabelValues(b.component, method).Add(1)
}
