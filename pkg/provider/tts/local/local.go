// Package local drives an on-device speech engine as the fallback when remote
// providers are over quota or unreachable.
//
// The engine plays audio directly on the host's output device and returns no
// audio bytes, so [Synthesizer.Speak] reports an estimated duration computed
// from the word count and the profile's speaking rate.
package local

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/avatarvox/pkg/types"
)

// ErrLocalSynthesis is wrapped by every failure of the local engine: a missing
// binary, a failed start, or an error reported mid-utterance.
var ErrLocalSynthesis = errors.New("local: speech synthesis failed")

// BaselineWordsPerMinute is the assumed speaking rate at SpeakingRate 1.0.
const BaselineWordsPerMinute = 150

// EventType classifies engine lifecycle signals.
type EventType int

const (
	EventStart EventType = iota
	EventEnd
	EventError
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventStart:
		return "START"
	case EventEnd:
		return "END"
	case EventError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is a lifecycle signal emitted by an [Engine].
type Event struct {
	Type EventType

	// Err is set for EventError.
	Err error
}

// Utterance is what the engine is asked to say, with prosody taken from the
// avatar's voice profile.
type Utterance struct {
	Text         string
	Voice        string
	Language     string
	Rate         float64
	Pitch        float64
	VolumeGainDb float64
}

// Engine is an on-device speech engine that plays audio itself.
//
// Speak starts playback and returns a channel of lifecycle events. The
// channel carries at most one EventEnd or EventError and is closed after it.
// Cancelling ctx stops playback immediately.
type Engine interface {
	Speak(ctx context.Context, u Utterance) (<-chan Event, error)

	// Available reports whether the engine can be started.
	Available() error
}

// Synthesizer is the local fallback path. It is safe for concurrent use if
// its Engine is.
type Synthesizer struct {
	engine Engine
}

// NewSynthesizer wraps engine.
func NewSynthesizer(engine Engine) *Synthesizer {
	return &Synthesizer{engine: engine}
}

// Available reports whether the underlying engine can be started.
func (s *Synthesizer) Available() error {
	if err := s.engine.Available(); err != nil {
		return fmt.Errorf("%w: %w", ErrLocalSynthesis, err)
	}
	return nil
}

// Speak plays text with profile's prosody, blocks until playback ends, and
// returns the estimated duration. Engine failures wrap [ErrLocalSynthesis];
// cancellation returns ctx.Err().
func (s *Synthesizer) Speak(ctx context.Context, text string, profile types.VoiceProfile) (time.Duration, error) {
	events, err := s.engine.Speak(ctx, Utterance{
		Text:         text,
		Voice:        profile.VoiceIdentifier,
		Language:     profile.LanguageCode,
		Rate:         profile.SpeakingRate,
		Pitch:        profile.Pitch,
		VolumeGainDb: profile.VolumeGainDb,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: start: %w", ErrLocalSynthesis, err)
	}

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return 0, fmt.Errorf("%w: engine stopped without an end signal", ErrLocalSynthesis)
			}
			switch ev.Type {
			case EventEnd:
				return EstimateDuration(text, profile.SpeakingRate), nil
			case EventError:
				return 0, fmt.Errorf("%w: %w", ErrLocalSynthesis, ev.Err)
			}
		}
	}
}

// EstimateDuration returns the expected playback length of text at rate,
// assuming [BaselineWordsPerMinute] at rate 1.0. Empty text counts as one
// word so the estimate is always positive. A non-positive rate is treated
// as 1.0.
func EstimateDuration(text string, rate float64) time.Duration {
	if rate <= 0 {
		rate = 1
	}
	words := max(len(strings.Fields(text)), 1)
	minutes := float64(words) / (BaselineWordsPerMinute * rate)
	return time.Duration(minutes * float64(time.Minute)).Round(time.Millisecond)
}
