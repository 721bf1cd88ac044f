// Package health provides liveness and readiness probe endpoints. Readiness
// checks run in the background on a fixed interval; the HTTP handlers only
// read the last observed state.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes one dependency. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc

	mu      sync.Mutex
	lastErr error
}

func (c *check) run(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(checkCtx)

	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *check) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Health aggregates readiness checks and a manual ready flag. The service is
// ready only when the flag is set and every check passes.
type Health struct {
	ready  atomic.Bool
	checks []*check
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Health in the not-ready state.
func New() *Health {
	return &Health{}
}

// AddReadinessCheck registers a named dependency check. Must be called before
// Start.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.checks = append(h.checks, &check{name: name, timeout: timeout, fn: fn})
}

// SetReady flips the manual ready flag.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Start launches the background check loop. Each check runs once immediately
// and then on every interval tick.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})

	go func() {
		defer close(h.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for _, c := range h.checks {
			c.run(ctx)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, c := range h.checks {
					c.run(ctx)
				}
			}
		}
	}()
}

// Stop terminates the background loop and waits for it to exit.
func (h *Health) Stop() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}
}

// LiveEndpoint always reports 200 while the process serves requests.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadyEndpoint reports 200 when ready, 503 with per-check detail otherwise.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	detail := make(map[string]string, len(h.checks))
	healthy := h.ready.Load()
	for _, c := range h.checks {
		if err := c.err(); err != nil {
			healthy = false
			detail[c.name] = err.Error()
		} else {
			detail[c.name] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ready":  healthy,
		"checks": detail,
	})
}
