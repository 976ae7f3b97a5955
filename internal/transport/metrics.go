package transport

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/samcharles93/lowmem/internal/stream"
)

// Metrics counts fetches per source. Sources are free-form labels such as
// "http" or "file".
type Metrics struct {
	Fetches *prometheus.CounterVec
	Bytes   *prometheus.CounterVec
	Latency *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lowmem",
			Name:      "fetches_total",
			Help:      "Region fetches by source and outcome.",
		}, []string{"source", "outcome"}),
		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lowmem",
			Name:      "fetched_bytes_total",
			Help:      "Bytes delivered by successful fetches.",
		}, []string{"source"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lowmem",
			Name:      "fetch_duration_seconds",
			Help:      "Wall time of a single fetch.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"source"}),
	}
	if reg != nil {
		reg.MustRegister(m.Fetches, m.Bytes, m.Latency)
	}
	return m
}

type instrumented struct {
	next    stream.Fetcher
	source  string
	metrics *Metrics
}

// Instrumented records every fetch through f under the given source label.
func Instrumented(f stream.Fetcher, source string, m *Metrics) stream.Fetcher {
	return &instrumented{next: f, source: source, metrics: m}
}

func (i *instrumented) FetchAt(ctx context.Context, dst []byte, off int64) (int, error) {
	start := time.Now()
	n, err := i.next.FetchAt(ctx, dst, off)
	i.metrics.Latency.WithLabelValues(i.source).Observe(time.Since(start).Seconds())
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case n < len(dst):
		outcome = "short"
	}
	i.metrics.Fetches.WithLabelValues(i.source, outcome).Inc()
	if n > 0 {
		i.metrics.Bytes.WithLabelValues(i.source).Add(float64(n))
	}
	return n, err
}
