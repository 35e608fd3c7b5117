// Package health serves the liveness, readiness and metrics endpoints of the
// assistant.
//
//   - /healthz answers 200 while the process serves HTTP and reports uptime.
//   - /readyz answers 200 only when every registered [Checker] passes. The
//     assistant registers the microphone stream, the local model servers and
//     the provider circuit breakers.
//
// Responses are JSON objects with a top-level "status" field ("ok" or
// "fail"). Readiness responses add the result and latency of each check.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named probe of one dependency. Check returns nil when the
// dependency is usable.
type Checker struct {
	// Name is the key of this check in the JSON response ("capture", "llm").
	Name string

	// Check must respect context cancellation.
	Check func(ctx context.Context) error
}

type result struct {
	Status    string            `json:"status"`
	Uptime    string            `json:"uptime,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
	LatencyMS map[string]int64  `json:"latency_ms,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
	started  time.Time
}

// New returns a Handler that runs checkers on every /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c, started: time.Now()}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{
		Status: "ok",
		Uptime: time.Since(h.started).Truncate(time.Second).String(),
	})
}

// Readyz runs all checkers concurrently, each with its own [checkTimeout]
// deadline derived from the request, and answers 503 if any fails. Probes
// such as the capture check wait for audio to flow, so running them one
// after the other would add up their waits.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	type outcome struct {
		name    string
		err     error
		latency time.Duration
	}
	outcomes := make([]outcome, len(h.checkers))

	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			start := time.Now()
			err := c.Check(ctx)
			outcomes[i] = outcome{name: c.Name, err: err, latency: time.Since(start)}
		}()
	}
	wg.Wait()

	res := result{
		Status:    "ok",
		Checks:    make(map[string]string, len(outcomes)),
		LatencyMS: make(map[string]int64, len(outcomes)),
	}
	status := http.StatusOK
	for _, o := range outcomes {
		res.LatencyMS[o.name] = o.latency.Milliseconds()
		if o.err != nil {
			res.Checks[o.name] = "fail: " + o.err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[o.name] = "ok"
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
