// Package tier implements the Tier Orchestrator (C6): tier selection,
// per-tier deadlines, circuit-breaker gating, and failover bookkeeping
// across the webhook (Tier-1), internal (Tier-2), and file (Tier-3) paths.
package tier

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cctelegram/bridge/pkg/events"
	"github.com/cctelegram/bridge/pkg/orchestration/circuitbreaker"
)

// Name identifies one of the three delivery tiers, ordered by expected
// latency.
type Name string

const (
	Webhook  Name = "webhook"
	Internal Name = "internal"
	File     Name = "file"
)

// Outcome classifies how a single delivery attempt ended.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeTimeout         Outcome = "timeout"
	OutcomeRefused         Outcome = "refused"
	OutcomeCircuitOpen     Outcome = "circuit_open"
	OutcomeDownstreamError Outcome = "downstream_error"
)

// Attempt records one tier's delivery attempt for an event (spec §3).
type Attempt struct {
	EventID  string
	Tier     Name
	StartedAt time.Time
	Deadline  time.Time
	Outcome   Outcome
	Latency   time.Duration
}

// Dispatcher delivers an event through exactly one tier. Implementations
// must respect ctx's deadline and return promptly after it elapses.
type Dispatcher interface {
	Dispatch(ctx context.Context, e events.Event) error
}

// ErrAllTiersFailed is returned when every configured tier refused or
// failed to deliver an event.
var ErrAllTiersFailed = errors.New("all delivery tiers failed")

// Config configures one tier's dispatcher, deadline, and circuit policy.
type Config struct {
	Name                Name
	Dispatcher          Dispatcher
	Timeout             time.Duration
	MaxConcurrent       int
	ConsecutiveFailures uint32
	CircuitCooldown     time.Duration
	HalfOpenProbes      uint32
	// SuccessRateFloor is the minimum success-rate EWMA (over the recent
	// window) below which the tier is skipped even with a closed circuit.
	SuccessRateFloor float64
}

type tierState struct {
	cfg      Config
	breaker  *circuitbreaker.CircuitBreaker
	mu       sync.Mutex
	inflight int
	ewma     float64 // exponentially weighted success rate, 1.0 = perfect
}

// Orchestrator selects and drives tiers in priority order for each event.
type Orchestrator struct {
	tiers  []*tierState
	logger *logrus.Logger

	mu       sync.Mutex
	onAttempt func(Attempt)
}

// New builds an Orchestrator from tier configs in priority order (the first
// config is tried first).
func New(logger *logrus.Logger, configs ...Config) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	o := &Orchestrator{logger: logger}
	for _, c := range configs {
		floor := c.SuccessRateFloor
		if floor == 0 {
			floor = 0.5
		}
		c.SuccessRateFloor = floor
		o.tiers = append(o.tiers, &tierState{
			cfg: c,
			breaker: circuitbreaker.New(string(c.Name), circuitbreaker.Config{
				ConsecutiveFailures: c.ConsecutiveFailures,
				Cooldown:            c.CircuitCooldown,
				HalfOpenProbes:      c.HalfOpenProbes,
			}, logger),
			ewma: 1.0,
		})
	}
	return o
}

// OnAttempt registers a callback invoked after every tier attempt, used to
// feed metrics (C11). It runs synchronously inside Dispatch, so concurrent
// Dispatch calls may invoke it concurrently.
func (o *Orchestrator) OnAttempt(fn func(Attempt)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onAttempt = fn
}

// Dispatch tries each tier in priority order until one succeeds, skipping
// tiers whose circuit is open, whose concurrency cap is exhausted, or whose
// success-rate EWMA has fallen below its floor (spec §4.6).
func (o *Orchestrator) Dispatch(ctx context.Context, e events.Event) ([]Attempt, error) {
	var attempts []Attempt
	for _, t := range o.tiers {
		if !o.eligible(t) {
			continue
		}
		attempt := o.attempt(ctx, t, e)
		attempts = append(attempts, attempt)
		o.notify(attempt)
		if attempt.Outcome == OutcomeSuccess {
			return attempts, nil
		}
	}
	return attempts, ErrAllTiersFailed
}

func (o *Orchestrator) eligible(t *tierState) bool {
	if !t.breaker.IsHealthy() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cfg.MaxConcurrent > 0 && t.inflight >= t.cfg.MaxConcurrent {
		return false
	}
	return t.ewma >= t.cfg.SuccessRateFloor
}

func (o *Orchestrator) attempt(ctx context.Context, t *tierState, e events.Event) Attempt {
	t.mu.Lock()
	t.inflight++
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.inflight--
		t.mu.Unlock()
	}()

	deadlineCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	start := time.Now()
	deadline := start.Add(t.cfg.Timeout)

	breakerErr := t.breaker.Execute(deadlineCtx, func(ctx context.Context) error {
		return t.cfg.Dispatcher.Dispatch(ctx, e)
	})
	latency := time.Since(start)

	var outcome Outcome
	switch {
	case breakerErr == nil:
		outcome = OutcomeSuccess
	case errors.Is(breakerErr, circuitbreaker.ErrCircuitOpen):
		outcome = OutcomeCircuitOpen
	case errors.Is(deadlineCtx.Err(), context.DeadlineExceeded):
		outcome = OutcomeTimeout
	default:
		outcome = OutcomeDownstreamError
	}

	o.updateEWMA(t, outcome == OutcomeSuccess)

	return Attempt{
		EventID:   e.EventID,
		Tier:      t.cfg.Name,
		StartedAt: start,
		Deadline:  deadline,
		Outcome:   outcome,
		Latency:   latency,
	}
}

// updateEWMA folds the latest outcome into the tier's rolling success rate
// with a smoothing factor that favors recent behavior without being purely
// reactive to one failure.
func (o *Orchestrator) updateEWMA(t *tierState, success bool) {
	const alpha = 0.3
	t.mu.Lock()
	defer t.mu.Unlock()
	sample := 0.0
	if success {
		sample = 1.0
	}
	t.ewma = alpha*sample + (1-alpha)*t.ewma
}

func (o *Orchestrator) notify(a Attempt) {
	o.mu.Lock()
	fn := o.onAttempt
	o.mu.Unlock()
	if fn != nil {
		fn(a)
	}
}

// TierBreaker exposes a tier's circuit breaker for health reporting (C11).
func (o *Orchestrator) TierBreaker(name Name) *circuitbreaker.CircuitBreaker {
	for _, t := range o.tiers {
		if t.cfg.Name == name {
			return t.breaker
		}
	}
	return nil
}
