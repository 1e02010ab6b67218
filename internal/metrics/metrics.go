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

	toggles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicekey",
			Subsystem: "dictation",
			Name:      "toggles_total",
			Help:      "Number of toggle requests by trigger source.",
		}, []string{"source"},
	)
	starts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicekey",
			Subsystem: "dictation",
			Name:      "starts_total",
			Help:      "Number of start attempts by result.",
		}, []string{"result"},
	)
	stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicekey",
			Subsystem: "dictation",
			Name:      "stops_total",
			Help:      "Number of worker terminations by outcome (exited or timed_out_then_killed).",
		}, []string{"outcome"},
	)
	terminationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "voicekey",
			Subsystem: "dictation",
			Name:      "termination_duration_seconds",
			Help:      "Time taken by the termination protocol.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 1.5, 2, 3, 5},
		}, []string{"policy"},
	)
	recording = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "voicekey",
			Subsystem: "dictation",
			Name:      "recording",
			Help:      "1 while a worker is running, else 0.",
		},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "voicekey",
			Subsystem: "dictation",
			Name:      "state_transitions_total",
			Help:      "Number of session state transitions.",
		}, []string{"from", "to"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{toggles, starts, stops, terminationDuration, recording, stateTransitions}
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

// Handler serves the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncToggle(source string) {
	if regOK.Load() {
		toggles.WithLabelValues(source).Inc()
	}
}

func IncStart(result string) {
	if regOK.Load() {
		starts.WithLabelValues(result).Inc()
	}
}

func IncStop(outcome string) {
	if regOK.Load() {
		stops.WithLabelValues(outcome).Inc()
	}
}

func ObserveTermination(policy string, seconds float64) {
	if regOK.Load() {
		terminationDuration.WithLabelValues(policy).Observe(seconds)
	}
}

func SetRecording(on bool) {
	if regOK.Load() {
		v := 0.0
		if on {
			v = 1
		}
		recording.Set(v)
	}
}

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}
