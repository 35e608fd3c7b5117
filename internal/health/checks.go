package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/earshot/internal/resilience"
)

// SampleCounter reports the total number of samples written to a stream.
// [capture.RingBuffer] satisfies it.
type SampleCounter interface {
	TotalWritten() uint64
}

// capturePoll is how often CaptureCheck re-reads the sample counter.
const capturePoll = 20 * time.Millisecond

// CaptureCheck returns a [Checker] that passes once the sample counter
// advances within window. A stalled microphone (unplugged device, revoked
// permission) keeps the counter flat and fails the check.
func CaptureCheck(name string, c SampleCounter, window time.Duration) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			start := c.TotalWritten()
			deadline := time.NewTimer(window)
			defer deadline.Stop()
			tick := time.NewTicker(capturePoll)
			defer tick.Stop()
			for {
				select {
				case <-tick.C:
					if c.TotalWritten() != start {
						return nil
					}
				case <-deadline.C:
					return fmt.Errorf("no samples for %s", window)
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		},
	}
}

// HTTPCheck returns a [Checker] that issues GET url and passes on any 2xx
// response. A nil client uses [http.DefaultClient].
func HTTPCheck(name string, client *http.Client, url string) Checker {
	if client == nil {
		client = http.DefaultClient
	}
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			resp.Body.Close()
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return fmt.Errorf("GET %s: %s", url, resp.Status)
			}
			return nil
		},
	}
}

// BreakerCheck returns a [Checker] that fails when every circuit breaker
// reported by states is open. One healthy backend is enough to serve.
func BreakerCheck(name string, states func() map[string]resilience.State) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			var open []string
			st := states()
			for n, s := range st {
				if s == resilience.StateOpen {
					open = append(open, n)
				}
			}
			if len(st) > 0 && len(open) == len(st) {
				return errors.New("circuit open: " + strings.Join(open, ", "))
			}
			return nil
		},
	}
}
