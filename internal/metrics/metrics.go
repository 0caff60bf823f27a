// Package metrics holds the Prometheus collectors gaze exports
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Events counts emitted events by kind
	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gaze",
		Subsystem: "watcher",
		Name:      "events_total",
		Help:      "Total number of events emitted to consumers",
	}, []string{"kind"})

	// Subscriptions is the number of live registry subscriptions by backend
	Subscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gaze",
		Subsystem: "registry",
		Name:      "subscriptions",
		Help:      "Number of watched paths held by the registry",
	}, []string{"backend"})

	// Fallbacks counts switches from native watching to polling
	Fallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gaze",
		Subsystem: "source",
		Name:      "fallbacks_total",
		Help:      "Total number of native to polling fallbacks",
	})

	// Reconciliations counts directory re-listings
	Reconciliations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gaze",
		Subsystem: "watcher",
		Name:      "reconciliations_total",
		Help:      "Total number of directory reconciliations",
	})

	// ReconcileErrors counts reconciliations skipped because listing failed
	ReconcileErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gaze",
		Subsystem: "watcher",
		Name:      "reconcile_errors_total",
		Help:      "Total number of reconciliations skipped on listing errors",
	})
)

// Handler serves the default registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.Handler()
}
