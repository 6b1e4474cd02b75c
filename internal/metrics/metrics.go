// Package metrics holds the host's Prometheus collectors. They register on
// the default registry at init; the gateway exposes them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UnitsHosted tracks the number of units currently registered.
	UnitsHosted = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hestia",
		Subsystem: "runtime",
		Name:      "units_hosted",
		Help:      "Number of units currently registered.",
	})

	// DeploymentsTotal counts unit deployment attempts by outcome.
	DeploymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hestia",
		Subsystem: "runtime",
		Name:      "deployments_total",
		Help:      "Unit deployment attempts by outcome.",
	}, []string{"outcome"})

	// RemovalsTotal counts unit removals.
	RemovalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hestia",
		Subsystem: "runtime",
		Name:      "removals_total",
		Help:      "Units removed from the registry.",
	})

	// DispatchTotal counts dispatched requests by transport and outcome.
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hestia",
		Subsystem: "dispatch",
		Name:      "requests_total",
		Help:      "Dispatched requests by transport and outcome.",
	}, []string{"transport", "outcome"})

	// DispatchDuration observes processing time by transport.
	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hestia",
		Subsystem: "dispatch",
		Name:      "duration_seconds",
		Help:      "Request processing time by transport.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"transport"})
)

// Deployment outcome label values.
const (
	OutcomeDeployed  = "deployed"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// Dispatch outcome label values.
const (
	OutcomeOK          = "ok"
	OutcomeClientError = "client_error"
	OutcomeServerError = "server_error"
	OutcomeNotFound    = "not_found"
	OutcomeUnavailable = "unavailable"
	OutcomeRedirect    = "redirect"
)
