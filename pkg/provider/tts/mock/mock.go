// Package mock provides test doubles for the tts.Provider interface, the local
// speech Engine, and audio players.
//
// Use Provider to feed controlled audio or classified errors to the
// orchestrator and to verify which requests reached the remote backend.
//
// Example:
//
//	p := &mock.Provider{
//	    ProviderName: "gemini",
//	    Audio:        tts.RawAudio{Data: wavBytes, MIMEType: "audio/wav"},
//	}
//	raw, _ := p.Synthesize(ctx, req)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/avatarvox/pkg/audio"
	"github.com/MrWong99/avatarvox/pkg/provider/tts"
	"github.com/MrWong99/avatarvox/pkg/provider/tts/local"
	"github.com/MrWong99/avatarvox/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Request is the SynthesisRequest passed to Synthesize.
	Request types.SynthesisRequest
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// Audio is returned by Synthesize when Err is nil.
	Audio tts.RawAudio

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// Delay, if positive, makes Synthesize wait before answering. The wait is
	// cut short by ctx cancellation.
	Delay time.Duration

	// SynthesizeFunc, if set, overrides Audio, Err and Delay.
	SynthesizeFunc func(ctx context.Context, req types.SynthesisRequest) (tts.RawAudio, error)

	// Calls records every call to Synthesize in order.
	Calls []SynthesizeCall
}

// Name returns ProviderName or "mock".
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Synthesize records the call and returns the configured response.
func (p *Provider) Synthesize(ctx context.Context, req types.SynthesisRequest) (tts.RawAudio, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, SynthesizeCall{Ctx: ctx, Request: req})
	fn, audioOut, err, delay := p.SynthesizeFunc, p.Audio, p.Err, p.Delay
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return tts.RawAudio{}, tts.Transport(p.Name(), 0, ctx.Err())
		}
	}
	if err != nil {
		return tts.RawAudio{}, err
	}
	out := tts.RawAudio{Data: append([]byte(nil), audioOut.Data...), MIMEType: audioOut.MIMEType}
	return out, nil
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

var _ tts.Provider = (*Provider)(nil)

// Engine is a mock implementation of local.Engine. By default every
// utterance starts and ends immediately.
type Engine struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by Speak.
	StartErr error

	// FailWith, if non-nil, is delivered as an EventError after EventStart.
	FailWith error

	// Hold, if non-nil, delays EventEnd until it is closed or ctx is done.
	Hold chan struct{}

	// AvailableErr is returned by Available.
	AvailableErr error

	// Utterances records every utterance passed to Speak.
	Utterances []local.Utterance
}

// Speak records u and emits the configured events.
func (e *Engine) Speak(ctx context.Context, u local.Utterance) (<-chan local.Event, error) {
	e.mu.Lock()
	e.Utterances = append(e.Utterances, u)
	startErr, failWith, hold := e.StartErr, e.FailWith, e.Hold
	e.mu.Unlock()

	if startErr != nil {
		return nil, startErr
	}
	events := make(chan local.Event, 2)
	events <- local.Event{Type: local.EventStart}
	go func() {
		defer close(events)
		if failWith != nil {
			events <- local.Event{Type: local.EventError, Err: failWith}
			return
		}
		if hold != nil {
			select {
			case <-hold:
			case <-ctx.Done():
				events <- local.Event{Type: local.EventError, Err: ctx.Err()}
				return
			}
		}
		events <- local.Event{Type: local.EventEnd}
	}()
	return events, nil
}

// Available returns AvailableErr.
func (e *Engine) Available() error { return e.AvailableErr }

// SpeakCount returns the number of Speak calls. Thread-safe.
func (e *Engine) SpeakCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Utterances)
}

var _ local.Engine = (*Engine)(nil)

// Player records played handles.
type Player struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by Play.
	Err error

	// Played records the id and format of every handle passed to Play.
	Played []PlayCall
}

// PlayCall records a single invocation of Play.
type PlayCall struct {
	HandleID string
	Format   types.ContentFormat
	Bytes    int
}

// Play records h and returns Err.
func (p *Player) Play(_ context.Context, h *audio.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Played = append(p.Played, PlayCall{HandleID: h.ID(), Format: h.Format(), Bytes: h.Len()})
	return p.Err
}
