package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/avatarvox/pkg/provider/tts"
	"github.com/MrWong99/avatarvox/pkg/types"
)

// ErrAllFailed is wrapped by the error [RemoteChain.Synthesize] returns when
// every provider fails or has an open circuit breaker.
var ErrAllFailed = errors.New("all remote providers failed")

// chainName is the provider name reported for aggregate failures.
const chainName = "remote"

// FallbackConfig configures a [RemoteChain].
type FallbackConfig struct {
	// CircuitBreaker is the template for every provider's breaker. Name is
	// replaced by the provider name.
	CircuitBreaker CircuitBreakerConfig

	// OnAttempt, if set, is called after every provider attempt that reached
	// the provider, including failed ones.
	OnAttempt func(ctx context.Context, provider string, elapsed time.Duration, err error)
}

// fallbackEntry pairs a provider with its dedicated circuit breaker.
type fallbackEntry struct {
	provider tts.Provider
	breaker  *CircuitBreaker
}

// ProviderStatus describes one provider of a [RemoteChain].
type ProviderStatus struct {
	Name  string
	State State
}

// RemoteChain implements [tts.Provider] over an ordered list of remote
// providers. The primary is tried first; when it fails (or its breaker is
// open) the next provider is tried in registration order.
//
// Individual provider errors keep their classification. When every provider
// fails, the aggregate error is a quota classification if any provider was
// quota-exhausted or behind an open breaker, because the remote tier as a
// whole is then unavailable rather than misbehaving. Otherwise it is a
// transport classification.
type RemoteChain struct {
	entries   []fallbackEntry
	cfg       FallbackConfig
	onAttempt func(ctx context.Context, provider string, elapsed time.Duration, err error)
}

var _ tts.Provider = (*RemoteChain)(nil)

// NewRemoteChain creates a [RemoteChain] with primary as the preferred
// provider. Additional providers are registered via [RemoteChain.AddFallback].
func NewRemoteChain(primary tts.Provider, cfg FallbackConfig) *RemoteChain {
	c := &RemoteChain{cfg: cfg, onAttempt: cfg.OnAttempt}
	c.AddFallback(primary)
	return c
}

// AddFallback appends a provider. Providers are tried in the order they are
// added, after the primary. AddFallback must not be called concurrently with
// Synthesize.
func (c *RemoteChain) AddFallback(p tts.Provider) {
	cbCfg := c.cfg.CircuitBreaker
	cbCfg.Name = p.Name()
	c.entries = append(c.entries, fallbackEntry{
		provider: p,
		breaker:  NewCircuitBreaker(cbCfg),
	})
}

// Name implements [tts.Provider].
func (c *RemoteChain) Name() string { return chainName }

// Synthesize implements [tts.Provider].
func (c *RemoteChain) Synthesize(ctx context.Context, req types.SynthesisRequest) (tts.RawAudio, error) {
	if len(c.entries) == 1 {
		return c.attempt(ctx, &c.entries[0], req)
	}

	var (
		errs        []error
		unavailable bool
	)
	for i := range c.entries {
		entry := &c.entries[i]
		raw, err := c.attempt(ctx, entry, req)
		if err == nil {
			return raw, nil
		}
		if ctx.Err() != nil {
			return tts.RawAudio{}, err
		}
		errs = append(errs, err)
		if errors.Is(err, tts.ErrQuotaExceeded) {
			unavailable = true
		}
		slog.Warn("remote provider failed, trying next",
			"provider", entry.provider.Name(), "error", err)
	}

	cause := fmt.Errorf("%w: %v", ErrAllFailed, errors.Join(errs...))
	if unavailable {
		return tts.RawAudio{}, tts.Quota(chainName, 0, cause)
	}
	return tts.RawAudio{}, tts.Transport(chainName, 0, cause)
}

// attempt calls one provider through its breaker. An open breaker is reported
// as a quota classification wrapping [ErrCircuitOpen].
func (c *RemoteChain) attempt(ctx context.Context, entry *fallbackEntry, req types.SynthesisRequest) (tts.RawAudio, error) {
	var raw tts.RawAudio
	name := entry.provider.Name()
	err := entry.breaker.Execute(ctx, func(ctx context.Context) error {
		start := time.Now()
		var err error
		raw, err = entry.provider.Synthesize(ctx, req)
		if c.onAttempt != nil {
			c.onAttempt(ctx, name, time.Since(start), err)
		}
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		slog.Debug("skipping provider (circuit open)", "provider", name)
		return tts.RawAudio{}, tts.Quota(name, 0, err)
	}
	return raw, err
}

// Status reports every provider's breaker state in chain order.
func (c *RemoteChain) Status() []ProviderStatus {
	out := make([]ProviderStatus, len(c.entries))
	for i := range c.entries {
		out[i] = ProviderStatus{Name: c.entries[i].provider.Name(), State: c.entries[i].breaker.State()}
	}
	return out
}

// Available reports whether at least one provider's breaker admits calls.
func (c *RemoteChain) Available() bool {
	for i := range c.entries {
		if c.entries[i].breaker.State() != StateOpen {
			return true
		}
	}
	return false
}
