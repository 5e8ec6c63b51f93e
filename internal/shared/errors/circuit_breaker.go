package errors

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CircuitState is the circuit breaker's current mode.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig tunes when a breaker trips and how it probes recovery.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures in the closed
	// state that trips the breaker open.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes in the
	// half-open state required to close the breaker again.
	SuccessThreshold int
	// Timeout is how long the breaker stays open before moving to half-open
	// and letting calls through again.
	Timeout time.Duration
	// OnStateChange, if set, is invoked whenever the breaker transitions.
	OnStateChange func(name string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig matches the pack's conventional knobs: trip
// after 5 consecutive failures, require 2 consecutive successes to heal,
// probe again after 30s open.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreakerMetrics is a point-in-time snapshot for observability.
type CircuitBreakerMetrics struct {
	State               CircuitState
	ConsecutiveFailures int
	ConsecutiveSuccess  int
	TotalCalls          int64
	TotalFailures        int64
	LastFailureAt       time.Time
	OpenedAt            time.Time
}

// CircuitBreaker wraps an unreliable outbound call (GroundedSearch, Notifier,
// a relational TaskStore connection) so sustained failure degrades to fast
// failure instead of piling up retries against a dead dependency.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	mu     sync.Mutex
	state  CircuitState
	consecFail    int
	consecSuccess int
	totalCalls    int64
	totalFailures int64
	lastFailureAt time.Time
	openedAt      time.Time
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultCircuitBreakerConfig().FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultCircuitBreakerConfig().SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCircuitBreakerConfig().Timeout
	}
	return &CircuitBreaker{name: name, cfg: cfg, state: StateClosed}
}

var ErrCircuitOpen = fmt.Errorf("circuit breaker is open")

// Execute runs fn, gated by the breaker's current state.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteFunc(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteFunc is the generic form of Execute, returning fn's result value
// alongside its error.
func ExecuteFunc[T any](ctx context.Context, b *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !b.allow() {
		return zero, ErrCircuitOpen
	}

	result, err := fn(ctx)

	b.mu.Lock()
	b.totalCalls++
	if err != nil {
		b.totalFailures++
		b.lastFailureAt = time.Now()
	}
	b.mu.Unlock()

	if err != nil {
		b.onFailure()
		return zero, err
	}
	b.onSuccess()
	return result, nil
}

func (b *CircuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.cfg.Timeout {
			b.transition(StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		// Every half-open call is allowed through, concurrent ones
		// included; onFailure re-opens the breaker on any failure.
		return true
	default:
		return true
	}
}

func (b *CircuitBreaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecSuccess = 0
	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
		b.openedAt = time.Now()
	case StateClosed:
		b.consecFail++
		if b.consecFail >= b.cfg.FailureThreshold {
			b.transition(StateOpen)
			b.openedAt = time.Now()
		}
	}
}

func (b *CircuitBreaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecFail = 0
	switch b.state {
	case StateHalfOpen:
		b.consecSuccess++
		if b.consecSuccess >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
			b.consecSuccess = 0
		}
	case StateClosed:
		// no-op
	}
}

func (b *CircuitBreaker) transition(to CircuitState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed, clearing failure/success counters.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecFail = 0
	b.consecSuccess = 0
}

// Metrics returns a snapshot of the breaker's counters.
func (b *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return CircuitBreakerMetrics{
		State:               b.state,
		ConsecutiveFailures: b.consecFail,
		ConsecutiveSuccess:  b.consecSuccess,
		TotalCalls:          b.totalCalls,
		TotalFailures:       b.totalFailures,
		LastFailureAt:       b.lastFailureAt,
		OpenedAt:            b.openedAt,
	}
}

// IsDegraded reports whether the breaker is anywhere but fully closed.
func (b *CircuitBreaker) IsDegraded() bool {
	return b.State() != StateClosed
}

// CircuitBreakerManager is a named registry of breakers, one per outbound
// dependency (e.g. "groundedsearch", "notifier:lark", "taskstore").
type CircuitBreakerManager struct {
	mu       sync.Mutex
	cfg      CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

func NewCircuitBreakerManager(cfg CircuitBreakerConfig) *CircuitBreakerManager {
	return &CircuitBreakerManager{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the named breaker, creating it with the manager's default
// config on first use.
func (m *CircuitBreakerManager) Get(name string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}
	b := NewCircuitBreaker(name, m.cfg)
	m.breakers[name] = b
	return b
}

// GetMetrics returns a snapshot for every breaker the manager has created.
func (m *CircuitBreakerManager) GetMetrics() map[string]CircuitBreakerMetrics {
	m.mu.Lock()
	names := make([]string, 0, len(m.breakers))
	breakers := make([]*CircuitBreaker, 0, len(m.breakers))
	for name, b := range m.breakers {
		names = append(names, name)
		breakers = append(breakers, b)
	}
	m.mu.Unlock()

	out := make(map[string]CircuitBreakerMetrics, len(names))
	for i, name := range names {
		out[name] = breakers[i].Metrics()
	}
	return out
}

// ResetAll forces every managed breaker back to closed.
func (m *CircuitBreakerManager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.breakers {
		b.Reset()
	}
}

// Remove drops a named breaker from the registry.
func (m *CircuitBreakerManager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakers, name)
}
