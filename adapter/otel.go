// Package adapter connects sealmem to external telemetry systems.
package adapter

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/sealmem/pkg/region"
)

// InstrumentationName names the tracer and meter handed out to regions.
const InstrumentationName = "github.com/srediag/sealmem"

// OTel sets cfg.Metrics and cfg.Tracer. Counters are registered with reg when
// it is not nil; nil providers fall back to the global OpenTelemetry ones.
func OTel(cfg *region.Config, reg prometheus.Registerer, tp trace.TracerProvider, mp metric.MeterProvider) error {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m, err := region.NewMetrics(reg, mp.Meter(InstrumentationName))
	if err != nil {
		return err
	}
	cfg.Metrics = m
	cfg.Tracer = tp.Tracer(InstrumentationName)
	return nil
}
