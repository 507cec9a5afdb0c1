package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// States exported by the current_state gauge.
var States = []string{"stopped", "starting", "running", "error"}

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackr",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service starts.",
		}, []string{"id"},
	)
	serviceStartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackr",
			Subsystem: "service",
			Name:      "start_failures_total",
			Help:      "Number of start attempts that ended in error.",
		}, []string{"id"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackr",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of successful service stops.",
		}, []string{"id"},
	)
	serviceStartDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stackr",
			Subsystem: "service",
			Name:      "start_duration_seconds",
			Help:      "Time from start intent to running or error.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"id"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackr",
			Subsystem: "service",
			Name:      "state_transitions_total",
			Help:      "Number of status transitions per service.",
		}, []string{"id", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stackr",
			Subsystem: "service",
			Name:      "current_state",
			Help:      "Current status of services (1 = active state, 0 = inactive).",
		}, []string{"id", "state"},
	)
	versionFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stackr",
			Subsystem: "version",
			Name:      "fallbacks_total",
			Help:      "Starts that used the global runtime because the requested version was unavailable.",
		}, []string{"id"},
	)
	missingPaths = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stackr",
			Subsystem: "liveness",
			Name:      "missing_paths",
			Help:      "Number of project paths currently missing on disk.",
		},
	)
	projects = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stackr",
			Name:      "projects",
			Help:      "Number of registered projects.",
		},
	)
	cpuPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stackr",
			Subsystem: "service",
			Name:      "cpu_percent",
			Help:      "Last sampled CPU usage of the service process.",
		}, []string{"id"},
	)
	memoryBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stackr",
			Subsystem: "service",
			Name:      "memory_rss_bytes",
			Help:      "Last sampled resident memory of the service process.",
		}, []string{"id"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		serviceStarts, serviceStartFailures, serviceStops, serviceStartDuration,
		stateTransitions, currentStates, versionFallbacks, missingPaths, projects,
		cpuPercent, memoryBytes,
	}
}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			// already registered with this registerer is fine
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

// Enabled reports whether Register succeeded.
func Enabled() bool { return regOK.Load() }

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(id string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(id).Inc()
	}
}

func IncStartFailure(id string) {
	if regOK.Load() {
		serviceStartFailures.WithLabelValues(id).Inc()
	}
}

func IncStop(id string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(id).Inc()
	}
}

func ObserveStartDuration(id string, seconds float64) {
	if regOK.Load() {
		serviceStartDuration.WithLabelValues(id).Observe(seconds)
	}
}

func IncVersionFallback(id string) {
	if regOK.Load() {
		versionFallbacks.WithLabelValues(id).Inc()
	}
}

func SetMissingPaths(n int) {
	if regOK.Load() {
		missingPaths.Set(float64(n))
	}
}

func SetProjects(n int) {
	if regOK.Load() {
		projects.Set(float64(n))
	}
}

// RecordStateTransition counts from -> to and moves the current_state gauge.
func RecordStateTransition(id, from, to string) {
	if !regOK.Load() {
		return
	}
	stateTransitions.WithLabelValues(id, from, to).Inc()
	for _, s := range States {
		v := 0.0
		if s == to {
			v = 1
		}
		currentStates.WithLabelValues(id, s).Set(v)
	}
}

func SetResourceUsage(id string, cpu float64, rss uint64) {
	if regOK.Load() {
		cpuPercent.WithLabelValues(id).Set(cpu)
		memoryBytes.WithLabelValues(id).Set(float64(rss))
	}
}

// Forget drops every per-service series for id, e.g. after project removal.
func Forget(id string) {
	if !regOK.Load() {
		return
	}
	match := prometheus.Labels{"id": id}
	for _, v := range []interface {
		DeletePartialMatch(prometheus.Labels) int
	}{serviceStarts, serviceStartFailures, serviceStops, stateTransitions, currentStates, versionFallbacks, cpuPercent, memoryBytes} {
		v.DeletePartialMatch(match)
	}
	serviceStartDuration.DeletePartialMatch(match)
}
