// Package tts defines the Provider interface for remote speech synthesis
// backends and the error classification every provider must apply.
//
// A provider wraps an external generative speech service (Gemini, OpenAI,
// ElevenLabs) and turns one [types.SynthesisRequest] into a buffer of encoded
// audio whose container is not guaranteed. Normalizing that buffer into a
// playable format is the job of the audio resolver, not the provider.
//
// Failures are classified exactly once, inside the provider that observes
// them, into [ErrQuotaExceeded] or [ErrTransport]. Callers switch on the class
// with [errors.Is] and never inspect error text.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/avatarvox/pkg/types"
)

// RawAudio is an encoded audio payload as returned by a provider.
type RawAudio struct {
	// Data holds the encoded bytes. The container is whatever the provider
	// sent and may be headerless PCM.
	Data []byte

	// MIMEType is the content type the provider reported, if any
	// (e.g. "audio/L16;codec=pcm;rate=24000"). It is a hint, not a promise.
	MIMEType string
}

// Provider is the abstraction over any remote TTS backend.
type Provider interface {
	// Name returns a short identifier used in logs, metrics, and errors.
	Name() string

	// Synthesize voices req.Text with req.VoiceProfile. Every non-nil error
	// wraps exactly one of [ErrQuotaExceeded] or [ErrTransport].
	//
	// The call runs to completion or until ctx is cancelled.
	Synthesize(ctx context.Context, req types.SynthesisRequest) (RawAudio, error)
}
