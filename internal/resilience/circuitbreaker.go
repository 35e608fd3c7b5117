// Package resilience keeps a voice interaction answering while individual
// backends come and go. A [CircuitBreaker] stops calling a backend that keeps
// failing and probes it again after a cool-down; a [FallbackGroup] puts one
// breaker in front of each of several interchangeable backends and walks
// them in order. [STTFallback], [LLMFallback] and [TTSFallback] expose such
// groups as ordinary providers.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] without calling the
// protected function while the breaker is open or its probe budget is used up.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects every call until the reset timeout has passed.
	StateOpen
	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successful probes close the breaker; one failed probe opens it again.
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

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values select the
// defaults noted on each field.
type CircuitBreakerConfig struct {
	// Name identifies the protected backend in logs and state callbacks.
	Name string

	// MaxFailures consecutive failures open a closed breaker. Default 5.
	MaxFailures int

	// ResetTimeout is the cool-down before an open breaker admits probes.
	// Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is both the number of concurrent probes admitted and the
	// number of successful probes needed to close again. Default 3.
	HalfOpenMax int

	// IsFailure classifies errors returned by the protected call. Errors it
	// rejects are returned unchanged but leave the breaker alone.
	// Default [DefaultIsFailure].
	IsFailure func(error) bool

	// OnStateChange, when set, is called after every transition, outside the
	// breaker's lock.
	OnStateChange func(name string, from, to State)

	now func() time.Time
}

// DefaultIsFailure counts every error except cancellation by the caller: a
// user who interrupts an answer says nothing about the backend.
func DefaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

type transition struct{ from, to State }

// CircuitBreaker is a three-state breaker (closed, open, half-open).
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	gen      uint64 // bumped on every transition; stale call results are dropped
	failures int    // consecutive, while closed
	openedAt time.Time
	probes   int // in flight, while half-open
	probesOK int
	pending  []transition
}

// NewCircuitBreaker returns a closed breaker configured by cfg.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = DefaultIsFailure
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// ticket identifies one admitted call.
type ticket struct {
	gen   uint64
	probe bool
}

// Execute calls fn if the breaker admits it and records the outcome.
// A rejected call returns [ErrCircuitOpen]; otherwise fn's error is returned
// as is.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	t, ok := cb.admit()
	if !ok {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(t, err)
	return err
}

func (cb *CircuitBreaker) admit() (ticket, bool) {
	cb.mu.Lock()
	defer cb.unlock()

	if cb.state == StateOpen && cb.cooledDown() {
		cb.moveTo(StateHalfOpen)
	}
	switch cb.state {
	case StateOpen:
		return ticket{}, false
	case StateHalfOpen:
		if cb.probes+cb.probesOK >= cb.cfg.HalfOpenMax {
			return ticket{}, false
		}
		cb.probes++
		return ticket{gen: cb.gen, probe: true}, true
	}
	return ticket{gen: cb.gen}, true
}

func (cb *CircuitBreaker) record(t ticket, err error) {
	cb.mu.Lock()
	defer cb.unlock()

	if t.gen != cb.gen {
		return
	}
	failed := err != nil && cb.cfg.IsFailure(err)
	if t.probe {
		cb.probes--
		switch {
		case failed:
			cb.open()
		case err == nil:
			cb.probesOK++
			if cb.probesOK >= cb.cfg.HalfOpenMax {
				cb.moveTo(StateClosed)
			}
		}
		return
	}
	switch {
	case failed:
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures {
			cb.open()
		}
	case err == nil:
		cb.failures = 0
	}
}

// State returns the current state. An open breaker whose cool-down has
// passed reports [StateHalfOpen]; it moves there on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cooledDown() {
		return StateHalfOpen
	}
	return cb.state
}

// IsFailure reports whether err would count against the breaker.
func (cb *CircuitBreaker) IsFailure(err error) bool {
	return err != nil && cb.cfg.IsFailure(err)
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Reset closes the breaker and forgets all failures. Calls still in flight
// are not counted.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.unlock()
	cb.moveTo(StateClosed)
	cb.gen++
	cb.failures = 0
}

func (cb *CircuitBreaker) cooledDown() bool {
	return cb.cfg.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
}

// open trips the breaker, or restarts the cool-down if it is already open.
// cb.mu must be held.
func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.cfg.now()
	cb.moveTo(StateOpen)
}

// moveTo switches state and queues the change for OnStateChange. cb.mu must
// be held.
func (cb *CircuitBreaker) moveTo(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.gen++
	cb.probes, cb.probesOK = 0, 0

	attrs := []any{"breaker", cb.cfg.Name, "from", from.String(), "to", to.String()}
	switch to {
	case StateOpen:
		slog.Warn("circuit breaker opened", append(attrs, "consecutive_failures", cb.failures, "retry_in", cb.cfg.ResetTimeout)...)
	case StateClosed:
		cb.failures = 0
		slog.Info("circuit breaker closed", attrs...)
	default:
		slog.Info("circuit breaker probing", attrs...)
	}
	if cb.cfg.OnStateChange != nil {
		cb.pending = append(cb.pending, transition{from, to})
	}
}

// unlock releases cb.mu and then delivers queued state changes.
func (cb *CircuitBreaker) unlock() {
	changes := cb.pending
	cb.pending = nil
	cb.mu.Unlock()
	for _, c := range changes {
		cb.cfg.OnStateChange(cb.cfg.Name, c.from, c.to)
	}
}
