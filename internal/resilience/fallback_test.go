package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// backend is a fallback entry for tests: it answers with its own name or
// fails with err.
type backend struct {
	name  string
	err   error
	calls int
}

func (b *backend) answer() (string, error) {
	b.calls++
	if b.err != nil {
		return "", b.err
	}
	return b.name, nil
}

func newGroup(cfg CircuitBreakerConfig, backends ...*backend) (*FallbackGroup[*backend], *fakeClock) {
	clock := newFakeClock()
	cfg.now = clock.Now
	fg := NewFallbackGroup(backends[0], backends[0].name, FallbackConfig{CircuitBreaker: cfg})
	for _, b := range backends[1:] {
		fg.AddFallback(b.name, b)
	}
	return fg, clock
}

func ask(fg *FallbackGroup[*backend]) (string, error) {
	return ExecuteWithResult(fg, (*backend).answer)
}

func TestExecuteWithResult_Order(t *testing.T) {
	errShort := errors.New("too short")
	tests := []struct {
		name      string
		errs      []error
		want      string
		wantCalls []int
		check     func(t *testing.T, err error)
	}{
		{
			name:      "primary answers",
			errs:      []error{nil, nil},
			want:      "a",
			wantCalls: []int{1, 0},
		},
		{
			name:      "primary fails",
			errs:      []error{errTest, nil},
			want:      "b",
			wantCalls: []int{1, 1},
		},
		{
			name:      "third in line",
			errs:      []error{errTest, errTest, nil},
			want:      "c",
			wantCalls: []int{1, 1, 1},
		},
		{
			name:      "cancellation stops the walk",
			errs:      []error{context.Canceled, nil},
			wantCalls: []int{1, 0},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
					t.Fatalf("err = %v, want bare context.Canceled", err)
				}
			},
		},
		{
			name:      "non-failure stops the walk",
			errs:      []error{errShort, nil},
			wantCalls: []int{1, 0},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, errShort) || errors.Is(err, ErrAllFailed) {
					t.Fatalf("err = %v, want bare errShort", err)
				}
			},
		},
		{
			name:      "everything fails",
			errs:      []error{errTest, errors.New("b down")},
			wantCalls: []int{1, 1},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
					t.Fatalf("err = %v, want ErrAllFailed wrapping errTest", err)
				}
				msg := err.Error()
				if !strings.Contains(msg, "a: test error") || !strings.Contains(msg, "b: b down") {
					t.Fatalf("err = %q, want each backend named", msg)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var backends []*backend
			for i, err := range tt.errs {
				backends = append(backends, &backend{name: string(rune('a' + i)), err: err})
			}
			fg, _ := newGroup(CircuitBreakerConfig{
				MaxFailures: 3,
				IsFailure:   func(err error) bool { return DefaultIsFailure(err) && !errors.Is(err, errShort) },
			}, backends...)

			got, err := ask(fg)
			if tt.check != nil {
				tt.check(t, err)
			} else if err != nil || got != tt.want {
				t.Fatalf("got %q, %v; want %q", got, err, tt.want)
			}
			for i, b := range backends {
				if b.calls != tt.wantCalls[i] {
					t.Errorf("backend %s called %d times, want %d", b.name, b.calls, tt.wantCalls[i])
				}
			}
		})
	}
}

func TestFallbackGroup_OpenBreakerIsSkippedUntilCoolDown(t *testing.T) {
	primary := &backend{name: "ollama", err: errTest}
	secondary := &backend{name: "openai"}
	fg, clock := newGroup(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute, HalfOpenMax: 1}, primary, secondary)

	for range 4 {
		if got, err := ask(fg); err != nil || got != "openai" {
			t.Fatalf("got %q, %v", got, err)
		}
	}
	if primary.calls != 2 {
		t.Fatalf("primary called %d times, want 2 before its breaker opened", primary.calls)
	}
	if got := fg.States()["ollama"]; got != StateOpen {
		t.Fatalf("ollama state = %v, want open", got)
	}

	// The primary recovers; after the cool-down one probe brings it back.
	primary.err = nil
	clock.Advance(time.Minute)
	if got, err := ask(fg); err != nil || got != "ollama" {
		t.Fatalf("after cool-down: got %q, %v", got, err)
	}
	if got := fg.States()["ollama"]; got != StateClosed {
		t.Fatalf("ollama state = %v, want closed", got)
	}
}

func TestFallbackGroup_AllOpen(t *testing.T) {
	a := &backend{name: "a", err: errTest}
	b := &backend{name: "b", err: errTest}
	fg, _ := newGroup(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}, a, b)

	_, _ = ask(fg)
	_, err := ask(fg)
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping ErrCircuitOpen", err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", a.calls, b.calls)
	}
}

func TestFallbackGroup_Execute(t *testing.T) {
	fg, _ := newGroup(CircuitBreakerConfig{}, &backend{name: "a", err: errTest}, &backend{name: "b"})

	var used string
	err := fg.Execute(func(b *backend) error {
		_, err := b.answer()
		if err == nil {
			used = b.name
		}
		return err
	})
	if err != nil || used != "b" {
		t.Fatalf("Execute: used %q, err %v", used, err)
	}
	if got := fg.Names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Names = %v", got)
	}
}
