package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling through while a breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig controls a CircuitBreaker.
type CircuitBreakerConfig struct {
	Name string
	// MaxFailures consecutive failures open the circuit.
	MaxFailures int
	// Timeout is the cooldown before an open circuit lets a probe through.
	Timeout time.Duration
	// HalfOpenMaxCalls probes must all succeed to close the circuit again.
	HalfOpenMaxCalls int
	OnStateChange    func(name string, from, to State)
}

// DefaultCircuitBreakerConfig opens after 5 failures and probes after 30s.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// CircuitBreaker counts consecutive failures of a dependency and rejects
// calls for a cooldown once too many pile up.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int // admitted while half-open
	passed   int // succeeded while half-open
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	d := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = d.MaxFailures
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = d.HalfOpenMaxCalls
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Execute runs fn unless the circuit is open. fn's error counts as a failure.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err == nil)
	return err
}

// State reports the current position, moving open to half-open once the
// cooldown has passed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expire()
	return cb.state
}

// Failures is the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.move(StateClosed)
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expire()
	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.probes < cb.cfg.HalfOpenMaxCalls {
			cb.probes++
			return true
		}
	}
	return false
}

func (cb *CircuitBreaker) record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch {
	case ok && cb.state == StateHalfOpen:
		cb.passed++
		if cb.passed >= cb.cfg.HalfOpenMaxCalls {
			cb.move(StateClosed)
		}
	case ok:
		cb.failures = 0
	case cb.state == StateHalfOpen:
		cb.failures++
		cb.move(StateOpen)
	default:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			cb.move(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) expire() {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.Timeout {
		cb.move(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) move(to State) {
	from := cb.state
	cb.probes, cb.passed = 0, 0
	switch to {
	case StateClosed:
		cb.failures = 0
	case StateOpen:
		cb.openedAt = cb.now()
	}
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}
