package region

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
)

const metricsNamespace = "sealmem"

// Metrics counts region lifecycle transitions. Counters are Prometheus
// collectors; seal latency goes to an OpenTelemetry histogram.
type Metrics struct {
	allocated    prometheus.Counter
	sealed       prometheus.Counter
	retired      prometheus.Counter
	sealFailures prometheus.Counter
	updates      prometheus.Counter
	leaked       prometheus.Counter
	liveBytes    prometheus.Gauge

	sealDuration metric.Float64Histogram
}

var discardMetrics = mustMetrics(nil, nil)

func mustMetrics(reg prometheus.Registerer, meter metric.Meter) *Metrics {
	m, err := NewMetrics(reg, meter)
	if err != nil {
		panic(err)
	}
	return m
}

// NewMetrics builds the collectors and registers them with reg when it is not
// nil. A nil meter disables the seal latency histogram.
func NewMetrics(reg prometheus.Registerer, meter metric.Meter) (*Metrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		})
	}
	m := &Metrics{
		allocated:    counter("regions_allocated_total", "Regions allocated and mapped writable."),
		sealed:       counter("regions_sealed_total", "Regions sealed read-only."),
		retired:      counter("regions_retired_total", "Regions retired and unmapped."),
		sealFailures: counter("seal_failures_total", "Seal attempts rejected by the OS."),
		updates:      counter("cell_updates_total", "Successor regions published by cells."),
		leaked:       counter("retire_leaked_total", "Superseded regions left mapped because readers did not drain."),
		liveBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "live_bytes",
			Help:      "Bytes held by regions that are not yet retired.",
		}),
	}
	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter(metricsNamespace)
	}
	h, err := meter.Float64Histogram("sealmem.seal.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time spent remapping a region read-only."))
	if err != nil {
		return nil, err
	}
	m.sealDuration = h
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.allocated,
		m.sealed,
		m.retired,
		m.sealFailures,
		m.updates,
		m.leaked,
		m.liveBytes,
	}
}

func (m *Metrics) observeSeal(size int, d time.Duration) {
	m.sealed.Inc()
	m.sealDuration.Record(context.Background(), d.Seconds(),
		metric.WithAttributes(attribute.Int("sealmem.size", size)))
}
