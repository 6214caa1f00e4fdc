// Package health exposes the integrity of sealed regions as liveness and
// readiness checks.
package health

import (
	"errors"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// IntegrityCheck is the liveness check name.
	IntegrityCheck = "sealed-integrity"
	// RegionsCheck is the readiness check name.
	RegionsCheck = "sealed-regions"
)

// ErrNoRegions is reported by the readiness check while nothing is registered.
var ErrNoRegions = errors.New("no sealed regions registered")

// IntegrityProvider is implemented by region.Vault.
type IntegrityProvider interface {
	// VerifyAll checks every sealed value against its seal-time digest.
	VerifyAll() error
	// Len returns the number of sealed values.
	Len() int
}

// NewHandler returns a handler serving /live and /ready. With a non-nil reg
// the check results are also exported as Prometheus gauges.
func NewHandler(p IntegrityProvider, reg prometheus.Registerer) healthcheck.Handler {
	var h healthcheck.Handler
	if reg != nil {
		h = healthcheck.NewMetricsHandler(reg, "sealmem")
	} else {
		h = healthcheck.NewHandler()
	}
	h.AddLivenessCheck(IntegrityCheck, p.VerifyAll)
	h.AddReadinessCheck(RegionsCheck, func() error {
		if p.Len() == 0 {
			return ErrNoRegions
		}
		return nil
	})
	return h
}
