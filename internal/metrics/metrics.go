package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	childStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "svcman",
			Subsystem: "child",
			Name:      "starts_total",
			Help:      "Number of child process starts.",
		},
	)
	childExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcman",
			Subsystem: "child",
			Name:      "exits_total",
			Help:      "Number of child process exits by classification.",
		}, []string{"class"},
	)
	childRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "svcman",
			Subsystem: "child",
			Name:      "running",
			Help:      "Whether the child process is currently running (1/0).",
		},
	)
	dbReconnectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "svcman",
			Subsystem: "db",
			Name:      "reconnect_attempts_total",
			Help:      "Number of database reconnection attempts.",
		},
	)
	dbReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "svcman",
			Subsystem: "db",
			Name:      "reconnects_total",
			Help:      "Number of successful database reconnections.",
		},
	)
	dbHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "svcman",
			Subsystem: "db",
			Name:      "healthy",
			Help:      "Whether the last database ping succeeded (1/0).",
		},
	)
	healthRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcman",
			Subsystem: "health",
			Name:      "requests_total",
			Help:      "Number of liveness endpoint requests by status code.",
		}, []string{"code"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{childStarts, childExits, childRunning, dbReconnectAttempts, dbReconnects, dbHealthy, healthRequests}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer. The caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Lightweight helpers used by internal packages. They no-op if Register
// hasn't been called.

func IncChildStart() {
	if regOK.Load() {
		childStarts.Inc()
	}
}

func IncChildExit(class string) {
	if regOK.Load() {
		childExits.WithLabelValues(class).Inc()
	}
}

func SetChildRunning(up bool) {
	if regOK.Load() {
		childRunning.Set(boolGauge(up))
	}
}

func IncDBReconnectAttempt() {
	if regOK.Load() {
		dbReconnectAttempts.Inc()
	}
}

func IncDBReconnect() {
	if regOK.Load() {
		dbReconnects.Inc()
	}
}

func SetDBHealthy(ok bool) {
	if regOK.Load() {
		dbHealthy.Set(boolGauge(ok))
	}
}

func IncHealthRequest(code string) {
	if regOK.Load() {
		healthRequests.WithLabelValues(code).Inc()
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
