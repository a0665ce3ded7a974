// Package resilience guards the remote speech providers.
//
// Every provider sits behind a [CircuitBreaker] so that one which keeps
// failing, or has run out of quota, is skipped instead of being called on
// every request. [RemoteChain] tries the guarded providers in preference
// order and presents them as a single [tts.Provider].
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/avatarvox/pkg/provider/tts"
)

// ErrCircuitOpen is returned without calling the provider while its breaker
// is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cooldown ends.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure opens it again.
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
// defaults noted per field.
type CircuitBreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open after tripping on
	// failures. Default: 30s.
	ResetTimeout time.Duration

	// QuotaCooldown, when positive, opens the breaker on the first
	// quota-exhausted error and keeps it open this long. A provider that
	// answered 429 will keep doing so for a while. Zero counts quota errors
	// like any other failure.
	QuotaCooldown time.Duration

	// HalfOpenMax is the number of successful probes needed to close the
	// breaker again, and the number allowed in flight. Default: 1.
	HalfOpenMax int

	// Now defaults to time.Now.
	Now func() time.Time

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker is a closed/open/half-open breaker for one provider.
// Failures caused by the caller cancelling its own context are not held
// against the provider.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	openUntil time.Time
	probes    int // half-open calls in flight
	probesOK  int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute calls fn unless the breaker is open or already has HalfOpenMax
// probes in flight, in which case it returns [ErrCircuitOpen].
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, from, to, ok := cb.admit()
	cb.notify(from, to)
	if !ok {
		return ErrCircuitOpen
	}

	err := fn(ctx)

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		cb.mu.Lock()
		if probe {
			cb.probes--
		}
		cb.mu.Unlock()
		return err
	}

	cb.mu.Lock()
	from = cb.state
	if err != nil {
		cb.onFailure(probe, err)
	} else {
		cb.onSuccess(probe)
	}
	to = cb.state
	cb.mu.Unlock()
	cb.notify(from, to)
	return err
}

// admit decides whether a call may proceed and whether it is a half-open
// probe.
func (cb *CircuitBreaker) admit() (probe bool, from, to State, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	from = cb.state
	if cb.state == StateOpen {
		if cb.cfg.Now().Before(cb.openUntil) {
			return false, from, from, false
		}
		cb.state = StateHalfOpen
		cb.probes, cb.probesOK = 0, 0
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, from, cb.state, false
		}
		cb.probes++
		return true, from, cb.state, true
	}
	return false, from, cb.state, true
}

// onFailure must be called with cb.mu held.
func (cb *CircuitBreaker) onFailure(probe bool, err error) {
	if cb.cfg.QuotaCooldown > 0 && errors.Is(err, tts.ErrQuotaExceeded) {
		cb.trip(cb.cfg.QuotaCooldown, "quota exhausted")
		return
	}
	if probe {
		cb.trip(cb.cfg.ResetTimeout, "probe failed")
		return
	}
	cb.failures++
	if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
		cb.trip(cb.cfg.ResetTimeout, "consecutive failures")
	}
}

// onSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) onSuccess(probe bool) {
	if !probe {
		cb.failures = 0
		return
	}
	cb.probesOK++
	if cb.probesOK >= cb.cfg.HalfOpenMax {
		cb.state = StateClosed
		cb.failures, cb.probes, cb.probesOK = 0, 0, 0
		slog.Info("circuit breaker closed", "provider", cb.cfg.Name)
	}
}

// trip must be called with cb.mu held.
func (cb *CircuitBreaker) trip(cooldown time.Duration, reason string) {
	cb.state = StateOpen
	cb.openUntil = cb.cfg.Now().Add(cooldown)
	slog.Warn("circuit breaker opened",
		"provider", cb.cfg.Name,
		"reason", reason,
		"consecutive_failures", cb.failures,
		"cooldown", cooldown,
	)
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State reports the breaker's mode. An open breaker whose cooldown has ended
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && !cb.cfg.Now().Before(cb.openUntil) {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures, cb.probes, cb.probesOK = 0, 0, 0
	cb.mu.Unlock()
	cb.notify(from, StateClosed)
	slog.Info("circuit breaker reset", "provider", cb.cfg.Name)
}
