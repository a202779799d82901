// Package circuitbreaker guards calls to an optional dependency so that a dead backend
// is skipped quickly instead of timing out on every request.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vault-snapshots/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means calls pass through
	StateClosed State = "closed"
	// StateOpen means calls are rejected until the cool-down elapses
	StateOpen State = "open"
	// StateHalfOpen means a limited number of probe calls are let through
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures a circuit breaker
type Config struct {
	Name string
	// MaxConsecutiveFailures opens the circuit
	MaxConsecutiveFailures int
	// Cooldown is how long the circuit stays open before probing
	Cooldown time.Duration
	// HalfOpenProbes successful probes close the circuit again
	HalfOpenProbes int
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) Config {
	return Config{
		Name:                   name,
		MaxConsecutiveFailures: 5,
		Cooldown:               30 * time.Second,
		HalfOpenProbes:         1,
	}
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	cfg    Config
	logger *logging.Logger
	now    func() time.Time

	mu               sync.Mutex
	state            State
	consecutiveFails int
	probesInFlight   int
	probeSuccesses   int
	openedAt         time.Time
	rejected         int64
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(cfg Config, logger *logging.Logger) *CircuitBreaker {
	if cfg.MaxConsecutiveFailures < 1 {
		cfg.MaxConsecutiveFailures = 1
	}
	if cfg.HalfOpenProbes < 1 {
		cfg.HalfOpenProbes = 1
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &CircuitBreaker{
		cfg:    cfg,
		logger: logger.WithField("circuitBreaker", cfg.Name),
		now:    time.Now,
		state:  StateClosed,
	}
}

// Execute runs fn unless the circuit is open. Context cancellation by the caller does not
// count as a backend failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterCall(err != nil && ctx.Err() == nil)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.Cooldown {
			cb.rejected++
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probesInFlight = 0
		cb.probeSuccesses = 0
		cb.logger.Info("Circuit breaker half-open, probing")
		fallthrough
	case StateHalfOpen:
		if cb.probesInFlight >= cb.cfg.HalfOpenProbes {
			cb.rejected++
			return ErrCircuitOpen
		}
		cb.probesInFlight++
	}
	return nil
}

func (cb *CircuitBreaker) afterCall(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.probesInFlight--
		if failed {
			cb.open()
			return
		}
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.cfg.HalfOpenProbes {
			cb.state = StateClosed
			cb.consecutiveFails = 0
			cb.logger.Info("Circuit breaker closed")
		}
		return
	}

	if !failed {
		cb.consecutiveFails = 0
		return
	}
	cb.consecutiveFails++
	if cb.state == StateClosed && cb.consecutiveFails >= cb.cfg.MaxConsecutiveFailures {
		cb.open()
	}
}

// open trips the circuit. Caller holds mu.
func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.logger.WithFields(map[string]interface{}{
		"consecutiveFails": cb.consecutiveFails,
		"cooldown":         cb.cfg.Cooldown.String(),
	}).Warn("Circuit breaker opened")
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Rejected returns how many calls were refused while open
func (cb *CircuitBreaker) Rejected() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.rejected
}
