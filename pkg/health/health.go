// Package health aggregates dependency probes behind the engine's liveness
// and readiness endpoints. Probes run concurrently under a shared deadline.
// A degraded dependency (for example an unreachable query cache) keeps the
// service ready; readiness only fails while a probe reports down, such as
// the index before its first rebuild or an unreachable document store.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status is the health state of one dependency or of the service overall.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Result is the outcome of a single probe. ElapsedMS is filled in by the
// checker.
type Result struct {
	Status    Status  `json:"status"`
	Detail    string  `json:"detail,omitempty"`
	ElapsedMS float64 `json:"elapsed_ms"`
}

// OK, Degraded, and Down build probe results.
func OK(detail string) Result       { return Result{Status: StatusUp, Detail: detail} }
func Degraded(detail string) Result { return Result{Status: StatusDegraded, Detail: detail} }
func Down(detail string) Result     { return Result{Status: StatusDown, Detail: detail} }

// Probe checks one dependency. Implementations must respect ctx.
type Probe func(ctx context.Context) Result

// Report is the aggregate of all probes. Ready is false only when some
// dependency is down; a degraded report still serves traffic.
type Report struct {
	Status    Status            `json:"status"`
	Ready     bool              `json:"ready"`
	Checks    map[string]Result `json:"checks"`
	CheckedAt time.Time         `json:"checked_at"`
}

// Checker runs registered probes concurrently with a per-run deadline.
type Checker struct {
	mu      sync.RWMutex
	probes  map[string]Probe
	timeout time.Duration
}

// NewChecker creates a Checker. A non-positive timeout defaults to 5s.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		probes:  make(map[string]Probe),
		timeout: timeout,
	}
}

// Register adds a named probe, replacing any previous probe with that name.
func (c *Checker) Register(name string, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = probe
}

// Run executes every probe concurrently and aggregates the worst status.
func (c *Checker) Run(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.mu.RLock()
	probes := make(map[string]Probe, len(c.probes))
	for name, probe := range c.probes {
		probes[name] = probe
	}
	c.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]Result, len(probes))
	)
	for name, probe := range probes {
		wg.Add(1)
		go func(name string, probe Probe) {
			defer wg.Done()
			start := time.Now()
			result := probe(ctx)
			result.ElapsedMS = float64(time.Since(start).Microseconds()) / 1000
			mu.Lock()
			results[name] = result
			mu.Unlock()
		}(name, probe)
	}
	wg.Wait()

	overall := StatusUp
	for _, result := range results {
		switch result.Status {
		case StatusDown:
			overall = StatusDown
		case StatusDegraded:
			if overall == StatusUp {
				overall = StatusDegraded
			}
		}
	}
	return Report{
		Status:    overall,
		Ready:     overall != StatusDown,
		Checks:    results,
		CheckedAt: time.Now().UTC(),
	}
}

// LiveHandler answers liveness probes: the process is up and serving.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeReport(w, http.StatusOK, map[string]string{"status": string(StatusUp)})
	}
}

// ReadyHandler runs all probes and answers 503 while any dependency is
// down, so the instance is pulled from rotation until the index is rebuilt
// and the store reachable again.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		status := http.StatusOK
		if !report.Ready {
			status = http.StatusServiceUnavailable
		}
		writeReport(w, status, report)
	}
}

func writeReport(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
