package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/grant-reconciler/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means the circuit is closed and requests are allowed
	StateClosed State = "closed"
	// StateOpen means the circuit is open and requests are blocked
	StateOpen State = "open"
	// StateHalfOpen means the circuit is testing if the host has recovered
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures a circuit breaker
type Config struct {
	Name string
	// ConsecutiveFailures opens the circuit once reached
	ConsecutiveFailures int
	// OpenTimeout is how long the circuit stays open before a probe is let through
	OpenTimeout time.Duration
	// HalfOpenSuccesses closes the circuit again
	HalfOpenSuccesses int
	// IsFailure decides which errors count; nil counts every non-nil error
	IsFailure func(err error) bool
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) *Config {
	return &Config{
		Name:                name,
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenSuccesses:   2,
	}
}

// CircuitBreaker guards calls to an external host
type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu               sync.Mutex
	state            State
	consecutiveFails int
	halfOpenOK       int
	probeInFlight    bool
	openedAt         time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config *Config) *CircuitBreaker {
	cfg := *config
	if cfg.ConsecutiveFailures < 1 {
		cfg.ConsecutiveFailures = 1
	}
	if cfg.HalfOpenSuccesses < 1 {
		cfg.HalfOpenSuccesses = 1
	}
	return &CircuitBreaker{
		cfg:   cfg,
		now:   time.Now,
		state: StateClosed,
	}
}

// Execute runs fn unless the circuit is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn()
	cb.afterRequest(ctx, err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.OpenTimeout {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.halfOpenOK = 0
		cb.probeInFlight = true
		return nil
	case StateHalfOpen:
		// One probe at a time
		if cb.probeInFlight {
			return ErrCircuitOpen
		}
		cb.probeInFlight = true
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) afterRequest(ctx context.Context, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := err != nil
	if failed && cb.cfg.IsFailure != nil {
		failed = cb.cfg.IsFailure(err)
	}
	logger := logging.FromContext(ctx).WithField("circuitBreaker", cb.cfg.Name)

	if cb.state == StateHalfOpen {
		cb.probeInFlight = false
		if failed {
			cb.open()
			logger.Warn("Circuit breaker reopened after failed probe")
			return
		}
		cb.halfOpenOK++
		if cb.halfOpenOK >= cb.cfg.HalfOpenSuccesses {
			cb.state = StateClosed
			cb.consecutiveFails = 0
			logger.Info("Circuit breaker closed after successful recovery")
		}
		return
	}

	if !failed {
		cb.consecutiveFails = 0
		return
	}
	cb.consecutiveFails++
	if cb.consecutiveFails >= cb.cfg.ConsecutiveFailures {
		cb.open()
		logger.WithField("consecutiveFails", cb.consecutiveFails).Warn("Circuit breaker opened due to failures")
	}
}

func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.halfOpenOK = 0
}

// GetState returns the current state; an expired open circuit reports half-open
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.OpenTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Name returns the configured breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.consecutiveFails = 0
	cb.halfOpenOK = 0
	cb.probeInFlight = false
}
