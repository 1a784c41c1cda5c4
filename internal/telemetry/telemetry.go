// Package telemetry exposes Prometheus collectors for research runs.
//
// A nil *Telemetry is valid and records nothing, so components can accept
// one unconditionally.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pmmresearch"

// Telemetry groups the collectors recorded by the pipeline and its dependencies.
type Telemetry struct {
	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	backendCalls  *prometheus.CounterVec
	retries       *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	searches      *prometheus.CounterVec
	promptReloads *prometheus.CounterVec
}

// New registers collectors on reg. It returns nil when disabled.
func New(reg prometheus.Registerer, enabled bool) (*Telemetry, error) {
	if !enabled {
		return nil, nil
	}
	t := &Telemetry{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Research runs by mode and outcome.",
		}, []string{"mode", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of research runs.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"mode"}),
		backendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_calls_total",
			Help:      "Completion calls by backend and outcome.",
		}, []string{"backend", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_retries_total",
			Help:      "Rate-limit retries by backend.",
		}, []string{"backend"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result.",
		}, []string{"result"}),
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Web search requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		promptReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompt_reloads_total",
			Help:      "Prompt store reloads by outcome.",
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{
		t.runs, t.runDuration, t.backendCalls, t.retries,
		t.cacheLookups, t.searches, t.promptReloads,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// RecordRun counts a finished run and observes its duration.
func (t *Telemetry) RecordRun(mode, outcome string, elapsed time.Duration) {
	if t == nil {
		return
	}
	t.runs.WithLabelValues(mode, outcome).Inc()
	t.runDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (t *Telemetry) RecordBackendCall(backend, outcome string) {
	if t == nil {
		return
	}
	t.backendCalls.WithLabelValues(backend, outcome).Inc()
}

func (t *Telemetry) RecordRetry(backend string) {
	if t == nil {
		return
	}
	t.retries.WithLabelValues(backend).Inc()
}

// RecordCacheLookup takes hit, miss or error.
func (t *Telemetry) RecordCacheLookup(result string) {
	if t == nil {
		return
	}
	t.cacheLookups.WithLabelValues(result).Inc()
}

func (t *Telemetry) RecordSearch(provider, outcome string) {
	if t == nil {
		return
	}
	t.searches.WithLabelValues(provider, outcome).Inc()
}

func (t *Telemetry) RecordPromptReload(outcome string) {
	if t == nil {
		return
	}
	t.promptReloads.WithLabelValues(outcome).Inc()
}
