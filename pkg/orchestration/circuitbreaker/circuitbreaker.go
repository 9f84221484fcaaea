// Package circuitbreaker wraps sony/gobreaker with the naming and metrics
// surface the tier orchestrator (C6) needs: per-tier state, health score,
// and a uniform Execute contract regardless of tier transport.
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// State mirrors gobreaker's three states under bridge-native names.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned by Execute when the breaker rejects the call
// outright because the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config tunes when a tier's circuit opens and how it recovers.
type Config struct {
	// ConsecutiveFailures trips the breaker after this many failures in a
	// row while closed.
	ConsecutiveFailures uint32
	// Cooldown is how long the breaker stays open before allowing a
	// half-open probe.
	Cooldown time.Duration
	// HalfOpenProbes is how many consecutive successes during half-open
	// are required to close the circuit again.
	HalfOpenProbes uint32
}

// Metrics is a snapshot of a CircuitBreaker's counters.
type Metrics struct {
	State              State
	TotalRequests      uint32
	SuccessfulRequests uint32
	FailedRequests     uint32
	ConsecutiveFailures uint32
}

// CircuitBreaker wraps one gobreaker.CircuitBreaker for a single delivery
// tier (spec §4.5 — each tier trips independently).
type CircuitBreaker struct {
	name   string
	breaker *gobreaker.CircuitBreaker
	logger *logrus.Logger
}

// New returns a CircuitBreaker named name (used in logs and the tier's
// metrics labels), configured per cfg.
func New(name string, cfg Config, logger *logrus.Logger) *CircuitBreaker {
	if logger == nil {
		logger = logrus.New()
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenProbes,
		Interval:    0, // never reset closed-state counts on a timer; only on trip
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(breakerName string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"tier":  breakerName,
				"from":  from.String(),
				"to":    to.String(),
			}).Info("circuit breaker state change")
		},
	}
	return &CircuitBreaker{
		name:    name,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Execute runs op through the breaker. If the circuit is open, op is never
// called and ErrCircuitOpen is returned.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := cb.breaker.Execute(func() (interface{}, error) {
		return nil, op(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State reports the breaker's current state.
func (cb *CircuitBreaker) State() State {
	switch cb.breaker.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// IsHealthy reports whether the circuit currently accepts traffic.
func (cb *CircuitBreaker) IsHealthy() bool {
	return cb.State() != StateOpen
}

// Metrics returns a snapshot of the breaker's current counters.
func (cb *CircuitBreaker) Metrics() Metrics {
	counts := cb.breaker.Counts()
	return Metrics{
		State:               cb.State(),
		TotalRequests:       counts.Requests,
		SuccessfulRequests:  counts.TotalSuccesses,
		FailedRequests:      counts.TotalFailures,
		ConsecutiveFailures: counts.ConsecutiveFailures,
	}
}

// Name returns the breaker's configured name.
func (cb *CircuitBreaker) Name() string { return cb.name }
