// Package metrics implements the Prometheus surface (C11): counters for
// events moving through the pipeline, latency histograms, and gauges for
// circuit state, queue depth, and buffer pool efficiency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cctelegram/bridge/pkg/dedup"
	"github.com/cctelegram/bridge/pkg/orchestration/circuitbreaker"
	"github.com/cctelegram/bridge/pkg/orchestration/tier"
)

// circuitStateValue maps a circuit breaker state to the 0/1/2 encoding the
// spec's gauge exposes (closed/open/half-open).
func circuitStateValue(s circuitbreaker.State) float64 {
	switch s {
	case circuitbreaker.StateClosed:
		return 0
	case circuitbreaker.StateOpen:
		return 1
	case circuitbreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// Metrics holds every collector the pipeline reports against, registered
// against its own Registry so callers can mount it independently of the
// default global registry.
type Metrics struct {
	registry *prometheus.Registry

	eventsReceived   prometheus.Counter
	eventsValidated  *prometheus.CounterVec
	eventsDeduped    *prometheus.CounterVec
	eventsDispatched *prometheus.CounterVec
	eventsFailed     *prometheus.CounterVec

	endToEndLatency prometheus.Histogram
	tierLatency     *prometheus.HistogramVec

	circuitState   *prometheus.GaugeVec
	queueDepth     prometheus.Gauge
	bufferPoolHit  prometheus.Gauge
}

// New builds a Metrics instance with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		eventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cctg",
			Name:      "events_received_total",
			Help:      "Total events ingested from the file watcher.",
		}),
		eventsValidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cctg",
			Name:      "events_validated_total",
			Help:      "Total events validated, labeled by result (accepted/rejected).",
		}, []string{"result"}),
		eventsDeduped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cctg",
			Name:      "events_deduped_total",
			Help:      "Total dedup decisions, labeled by decision.",
		}, []string{"decision"}),
		eventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cctg",
			Name:      "events_dispatched_total",
			Help:      "Total successful deliveries, labeled by tier.",
		}, []string{"tier"}),
		eventsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cctg",
			Name:      "events_failed_total",
			Help:      "Total failed delivery attempts, labeled by tier and outcome.",
		}, []string{"tier", "outcome"}),
		endToEndLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cctg",
			Name:      "event_latency_seconds",
			Help:      "Latency of each successful delivery attempt, from the attempt's start; time before dispatch is not included.",
			Buckets:   prometheus.DefBuckets,
		}),
		tierLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cctg",
			Name:      "tier_attempt_latency_seconds",
			Help:      "Per-tier delivery attempt latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tier"}),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cctg",
			Name:      "tier_circuit_state",
			Help:      "Circuit breaker state per tier: 0=closed, 1=open, 2=half-open.",
		}, []string{"tier"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cctg",
			Name:      "fallback_queue_depth",
			Help:      "Number of pending entries in the fallback queue.",
		}),
		bufferPoolHit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cctg",
			Name:      "buffer_pool_hit_rate",
			Help:      "Fraction of buffer pool acquisitions served from the pool.",
		}),
	}

	reg.MustRegister(
		m.eventsReceived,
		m.eventsValidated,
		m.eventsDeduped,
		m.eventsDispatched,
		m.eventsFailed,
		m.endToEndLatency,
		m.tierLatency,
		m.circuitState,
		m.queueDepth,
		m.bufferPoolHit,
	)

	return m
}

// Registry returns the Prometheus registry backing this Metrics, for mounting
// behind an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordReceived increments the ingestion counter.
func (m *Metrics) RecordReceived() { m.eventsReceived.Inc() }

// RecordValidation records a validation outcome.
func (m *Metrics) RecordValidation(err error) {
	if err != nil {
		m.eventsValidated.WithLabelValues("rejected").Inc()
		return
	}
	m.eventsValidated.WithLabelValues("accepted").Inc()
}

// RecordDedup records a dedup decision.
func (m *Metrics) RecordDedup(d dedup.Decision) {
	m.eventsDeduped.WithLabelValues(string(d)).Inc()
}

// ObserveAttempt records one tier delivery attempt, intended as a
// tier.Orchestrator.OnAttempt callback.
func (m *Metrics) ObserveAttempt(a tier.Attempt) {
	m.tierLatency.WithLabelValues(string(a.Tier)).Observe(a.Latency.Seconds())
	if a.Outcome == tier.OutcomeSuccess {
		m.eventsDispatched.WithLabelValues(string(a.Tier)).Inc()
		m.endToEndLatency.Observe(time.Since(a.StartedAt).Seconds())
		return
	}
	m.eventsFailed.WithLabelValues(string(a.Tier), string(a.Outcome)).Inc()
}

// SetCircuitState updates the circuit-state gauge for one tier.
func (m *Metrics) SetCircuitState(name tier.Name, state circuitbreaker.State) {
	m.circuitState.WithLabelValues(string(name)).Set(circuitStateValue(state))
}

// SetQueueDepth sets the fallback queue depth gauge.
func (m *Metrics) SetQueueDepth(n int) { m.queueDepth.Set(float64(n)) }

// SetBufferPoolHitRate sets the buffer pool hit-rate gauge.
func (m *Metrics) SetBufferPoolHitRate(rate float64) { m.bufferPoolHit.Set(rate) }
