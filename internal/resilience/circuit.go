// Package resilience holds the error taxonomy, retry policy, per-host circuit
// breakers and bounded worker pool shared by the upstream clients.
package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed lets requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests until the reset timeout elapses.
	CircuitOpen
	// CircuitHalfOpen lets a probe through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive tripping failures before
	// the circuit opens. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open. Default: 30s.
	ResetTimeout time.Duration

	// ShouldTrip decides which errors count. Default: every non-nil error.
	ShouldTrip func(err error) bool
}

// DefaultCircuitBreakerConfig returns the defaults used per API host.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreaker guards a single upstream host.
type CircuitBreaker struct {
	cfg   CircuitBreakerConfig
	mu    sync.Mutex
	state CircuitState

	consecutiveFailures int
	openedAt            time.Time

	nowFunc func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{cfg: cfg, nowFunc: time.Now}
}

// Allow returns ErrCircuitOpen while the breaker is open. After the reset
// timeout it moves to half-open and lets one probe through.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return nil
	}
	if cb.nowFunc().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		cb.state = CircuitHalfOpen
		return nil
	}
	return ErrCircuitOpen
}

// Record feeds the outcome of a call allowed by Allow.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil || !cb.cfg.ShouldTrip(err) {
		cb.state = CircuitClosed
		cb.consecutiveFailures = 0
		return
	}

	cb.consecutiveFailures++
	if cb.state == CircuitHalfOpen || cb.consecutiveFailures >= cb.cfg.FailureThreshold {
		cb.state = CircuitOpen
		cb.openedAt = cb.nowFunc()
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.nowFunc().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// ServiceBreakers hands out one circuit breaker per key (API host).
type ServiceBreakers struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
}

// NewServiceBreakers creates a registry of per-host circuit breakers.
func NewServiceBreakers(cfg CircuitBreakerConfig) *ServiceBreakers {
	return &ServiceBreakers{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for key, creating it on first use.
func (sb *ServiceBreakers) Get(key string) *CircuitBreaker {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	cb, ok := sb.breakers[key]
	if !ok {
		cb = NewCircuitBreaker(sb.cfg)
		sb.breakers[key] = cb
	}
	return cb
}
