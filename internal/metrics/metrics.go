package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pipelaunch"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	launches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "launches_total",
			Help:      "Number of successful process spawns.",
		}, []string{"name"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "spawn_failures_total",
			Help:      "Number of failed spawns by reason.",
		}, []string{"name", "reason"},
	)
	readinessFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "readiness_failures_total",
			Help:      "Number of readiness gates that failed or timed out.",
		}, []string{"name"},
	)
	readinessWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "readiness_wait_seconds",
			Help:      "Time from spawn until the readiness gate passed.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 3, 5, 10, 30, 60},
		}, []string{"name"},
	)
	exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "exits_total",
			Help:      "Number of reaped processes by exit code (-1 = signal).",
		}, []string{"name", "code"},
	)
	terminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "terminations_total",
			Help:      "Number of termination attempts during shutdown.",
		}, []string{"name"},
	)
	terminationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "termination_failures_total",
			Help:      "Number of termination attempts that failed.",
		}, []string{"name"},
	)
	processUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "up",
			Help:      "1 while the process is alive, 0 after it exited.",
		}, []string{"name"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{launches, spawnFailures, readinessFailures, readinessWait, exits, terminations, terminationFailures, processUp}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// The helpers below no-op until Register has been called.

func IncLaunch(name string) {
	if regOK.Load() {
		launches.WithLabelValues(name).Inc()
		processUp.WithLabelValues(name).Set(1)
	}
}

func IncSpawnFailure(name, reason string) {
	if regOK.Load() {
		spawnFailures.WithLabelValues(name, reason).Inc()
	}
}

func IncReadinessFailure(name string) {
	if regOK.Load() {
		readinessFailures.WithLabelValues(name).Inc()
	}
}

func ObserveReadinessWait(name string, seconds float64) {
	if regOK.Load() {
		readinessWait.WithLabelValues(name).Observe(seconds)
	}
}

func IncExit(name string, code int) {
	if regOK.Load() {
		exits.WithLabelValues(name, strconv.Itoa(code)).Inc()
		processUp.WithLabelValues(name).Set(0)
	}
}

func IncTermination(name string, failed bool) {
	if !regOK.Load() {
		return
	}
	terminations.WithLabelValues(name).Inc()
	if failed {
		terminationFailures.WithLabelValues(name).Inc()
	}
}
