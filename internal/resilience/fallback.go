package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no entry of a [FallbackGroup] produced a
// result. The error also wraps every entry's own error.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is the template for the breaker in front of each entry of a
// [FallbackGroup]; Name is filled in per entry. The breaker's IsFailure also
// gates failover: an error it does not count is returned to the caller
// straight away, because the next backend would see the same input.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type fallbackEntry[T any] struct {
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds interchangeable backends in preference order, each
// behind its own [CircuitBreaker]. Entries are added during setup; calls may
// then run concurrently.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup returns a group whose first choice is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a backend that is tried after all earlier ones.
// It must not be called concurrently with calls through the group.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{value: value, breaker: NewCircuitBreaker(cbCfg)})
}

// Execute is [ExecuteWithResult] for calls without a result.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult calls fn on each entry in order until one succeeds.
// Entries whose breaker is open are skipped. An error the breaker does not
// count as a failure ends the walk and is returned unwrapped. When nothing
// succeeds the result wraps [ErrAllFailed] and each entry's error.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero R
		errs = make([]error, 0, len(fg.entries))
	)
	for i, e := range fg.entries {
		var out R
		err := e.breaker.Execute(func() error {
			var err error
			out, err = fn(e.value)
			return err
		})
		switch {
		case err == nil:
			if i > 0 {
				slog.Info("fallback provider answered", "provider", e.breaker.Name(), "skipped", i)
			}
			return out, nil
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("provider skipped, circuit open", "provider", e.breaker.Name())
		case !e.breaker.IsFailure(err):
			return zero, err
		default:
			slog.Warn("provider failed", "provider", e.breaker.Name(), "err", err, "remaining", len(fg.entries)-i-1)
		}
		errs = append(errs, fmt.Errorf("%s: %w", e.breaker.Name(), err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

// Names returns the entry names in the order they are tried.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.breaker.Name()
	}
	return names
}

// States reports each entry's breaker state by name.
func (fg *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(fg.entries))
	for _, e := range fg.entries {
		out[e.breaker.Name()] = e.breaker.State()
	}
	return out
}
