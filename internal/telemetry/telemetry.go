// Package telemetry exposes prometheus metrics for the orchestration loop,
// capability dispatch and the location cache.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Telemetry holds the metric collectors shared across sessions.
type Telemetry struct {
	sessions     *prometheus.CounterVec
	dispatches   *prometheus.CounterVec
	dispatchTime *prometheus.HistogramVec
	decisions    prometheus.Counter
	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
	resolverTier *prometheus.CounterVec
}

// New registers the collectors on the given registerer (pass
// prometheus.DefaultRegisterer in production, a fresh registry in tests).
func New(reg prometheus.Registerer) *Telemetry {
	t := &Telemetry{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "placeagent_sessions_total",
			Help: "Completed sessions by termination reason.",
		}, []string{"reason"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "placeagent_dispatches_total",
			Help: "Capability dispatches by capability and status.",
		}, []string{"capability", "status"}),
		dispatchTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "placeagent_dispatch_duration_seconds",
			Help:    "Capability dispatch latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"capability"}),
		decisions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "placeagent_oracle_decisions_total",
			Help: "Decision oracle round trips.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "placeagent_result_cache_hits_total",
			Help: "Idempotent capability results served from cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "placeagent_result_cache_misses_total",
			Help: "Idempotent capability cache misses.",
		}),
		resolverTier: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "placeagent_location_resolutions_total",
			Help: "Location resolutions by tier (dictionary, fuzzy, geocode, failed).",
		}, []string{"tier"}),
	}
	reg.MustRegister(t.sessions, t.dispatches, t.dispatchTime, t.decisions, t.cacheHits, t.cacheMisses, t.resolverTier)
	return t
}

// Nop returns a telemetry instance backed by an unexported registry, for
// callers that do not care about metrics.
func Nop() *Telemetry {
	return New(prometheus.NewRegistry())
}

func (t *Telemetry) SessionDone(reason string) {
	t.sessions.WithLabelValues(reason).Inc()
}

func (t *Telemetry) Dispatch(capability, status string, elapsed time.Duration) {
	t.dispatches.WithLabelValues(capability, status).Inc()
	t.dispatchTime.WithLabelValues(capability).Observe(elapsed.Seconds())
}

func (t *Telemetry) Decision() {
	t.decisions.Inc()
}

func (t *Telemetry) CacheHit()  { t.cacheHits.Inc() }
func (t *Telemetry) CacheMiss() { t.cacheMisses.Inc() }

func (t *Telemetry) Resolution(tier string) {
	t.resolverTier.WithLabelValues(tier).Inc()
}
