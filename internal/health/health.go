// Package health serves liveness and readiness probes for the speech server.
//
//   - /healthz always returns 200 while the process can serve HTTP.
//   - /readyz runs every registered [Checker]. A failing required check
//     yields 503. A failing optional check marks the response "degraded" but
//     keeps it at 200, since speech can still be produced on the other tier.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 5 * time.Second

// Status values reported in the response body.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker is a named readiness check.
type Checker struct {
	// Name labels the check in the JSON response (e.g. "avatars", "redis").
	Name string

	// Optional checks degrade readiness instead of failing it.
	Optional bool

	// Check returns nil when the dependency is healthy. It must respect ctx.
	Check func(ctx context.Context) error
}

// Report is the probe response body.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler]. Checks run concurrently on each /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: StatusOK})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := h.Evaluate(r.Context())
	status := http.StatusOK
	if res.Status == StatusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Evaluate runs every checker and aggregates the outcome.
func (h *Handler) Evaluate(ctx context.Context) Report {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		status = StatusOK
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, checkTimeout)
			defer cancel()
			err := c.Check(cctx)

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				checks[c.Name] = StatusOK
				return nil
			}
			checks[c.Name] = "fail: " + err.Error()
			switch {
			case !c.Optional:
				status = StatusFail
			case status == StatusOK:
				status = StatusDegraded
			}
			return nil
		})
	}
	_ = g.Wait()
	return Report{Status: status, Checks: checks}
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// AvatarsLoaded fails while count reports zero voice profiles.
func AvatarsLoaded(count func() int) Checker {
	return Checker{Name: "avatars", Check: func(context.Context) error {
		if count() == 0 {
			return errors.New("no voice profiles loaded")
		}
		return nil
	}}
}

// LocalEngine reports whether the device speech engine can be started.
// Without it, quota exhaustion cannot be absorbed, so the check is required.
func LocalEngine(available func() error) Checker {
	return Checker{Name: "local_engine", Check: func(context.Context) error { return available() }}
}

// RemoteProviders degrades readiness while every remote breaker is open.
func RemoteProviders(available func() bool) Checker {
	return Checker{Name: "remote_providers", Optional: true, Check: func(context.Context) error {
		if !available() {
			return errors.New("all remote providers are circuit-open")
		}
		return nil
	}}
}

// Redis degrades readiness while the shared cache tier is unreachable.
func Redis(ping func(ctx context.Context) error) Checker {
	return Checker{Name: "redis", Optional: true, Check: func(ctx context.Context) error {
		if err := ping(ctx); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		return nil
	}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
