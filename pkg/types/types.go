// Package types defines the shared types used across all avatarvox packages.
//
// These types form the lingua franca between the voice registry, providers,
// the format resolver, the cache, and the orchestrator. Each package defines
// its own internal types; cross-cutting data structures live here to avoid
// circular imports.
package types

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidProfile is returned by [VoiceProfile.Validate] when a numeric field
// lies outside its documented domain or a required field is missing.
var ErrInvalidProfile = errors.New("types: invalid voice profile")

// Documented domains for [VoiceProfile] numeric fields.
const (
	MinSpeakingRate = 0.25
	MaxSpeakingRate = 4.0

	MinPitch = -20.0
	MaxPitch = 20.0

	MinVolumeGainDb = -96.0
	MaxVolumeGainDb = 16.0
)

// EmotionalTone tags the affect a voice should carry. Providers map it into
// their own prompt or style vocabulary.
type EmotionalTone string

const (
	ToneNeutral    EmotionalTone = "neutral"
	ToneCalm       EmotionalTone = "calm"
	ToneCheerful   EmotionalTone = "cheerful"
	ToneSerious    EmotionalTone = "serious"
	ToneWarm       EmotionalTone = "warm"
	ToneExcited    EmotionalTone = "excited"
	ToneSad        EmotionalTone = "sad"
	ToneMysterious EmotionalTone = "mysterious"
)

// IsValid reports whether t is a recognised tone. The empty tone is treated
// as [ToneNeutral] and is valid.
func (t EmotionalTone) IsValid() bool {
	switch t {
	case "", ToneNeutral, ToneCalm, ToneCheerful, ToneSerious, ToneWarm, ToneExcited, ToneSad, ToneMysterious:
		return true
	}
	return false
}

// Normalized returns t, or [ToneNeutral] when t is empty.
func (t EmotionalTone) Normalized() EmotionalTone {
	if t == "" {
		return ToneNeutral
	}
	return t
}

// VoiceProfile describes the vocal configuration of one avatar.
//
// Profiles are values: they are copied into every [SynthesisRequest] so that a
// request always carries a snapshot rather than a live reference.
type VoiceProfile struct {
	// AvatarID identifies the persona this profile belongs to.
	AvatarID string

	// VoiceIdentifier is the provider-specific voice name (e.g. "Kore").
	VoiceIdentifier string

	// LanguageCode is a BCP-47 tag such as "en-US" or "fr-FR".
	LanguageCode string

	// SpeakingRate scales the speaking speed in [0.25, 4.0]; 1.0 is normal.
	SpeakingRate float64

	// Pitch shifts pitch in semitones in [-20, 20]; 0 is default.
	Pitch float64

	// VolumeGainDb adjusts loudness in [-96, 16] dB; 0 is default.
	VolumeGainDb float64

	// EmotionalTone tags the affect of the voice.
	EmotionalTone EmotionalTone

	// StyleInstructions is free text forwarded to generative providers.
	StyleInstructions string

	// Accent is an optional accent hint (e.g. "british").
	Accent string
}

// Validate checks that every numeric field lies in its documented domain.
// Out-of-domain values are rejected, never clamped.
func (p VoiceProfile) Validate() error {
	var errs []error
	if strings.TrimSpace(p.AvatarID) == "" {
		errs = append(errs, errors.New("avatar id is required"))
	}
	if !inRange(p.SpeakingRate, MinSpeakingRate, MaxSpeakingRate) {
		errs = append(errs, fmt.Errorf("speaking rate %.2f is out of range [%.2f, %.2f]", p.SpeakingRate, MinSpeakingRate, MaxSpeakingRate))
	}
	if !inRange(p.Pitch, MinPitch, MaxPitch) {
		errs = append(errs, fmt.Errorf("pitch %.2f is out of range [%.0f, %.0f]", p.Pitch, MinPitch, MaxPitch))
	}
	if !inRange(p.VolumeGainDb, MinVolumeGainDb, MaxVolumeGainDb) {
		errs = append(errs, fmt.Errorf("volume gain %.2f dB is out of range [%.0f, %.0f]", p.VolumeGainDb, MinVolumeGainDb, MaxVolumeGainDb))
	}
	if !p.EmotionalTone.IsValid() {
		errs = append(errs, fmt.Errorf("emotional tone %q is not recognised", p.EmotionalTone))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s: %w", ErrInvalidProfile, p.AvatarID, errors.Join(errs...))
	}
	return nil
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}

// SynthesisRequest asks the pipeline to voice one line of text.
type SynthesisRequest struct {
	// Text is the line to speak.
	Text string

	// AvatarID identifies the speaking persona.
	AvatarID string

	// VoiceProfile is a snapshot of the avatar's profile at request time.
	VoiceProfile VoiceProfile

	// ConversationID is an opaque correlation id. It is never interpreted.
	ConversationID string
}

// ContentFormat tags the container of a playable audio payload.
type ContentFormat string

const (
	FormatWAV  ContentFormat = "wav"
	FormatMP3  ContentFormat = "mp3"
	FormatOGG  ContentFormat = "ogg"
	FormatMP4  ContentFormat = "mp4"
	FormatFLAC ContentFormat = "flac"

	// FormatWrappedWAV marks bytes of unknown provenance that were forcibly
	// wrapped in a WAV container. The result may be inaudible.
	FormatWrappedWAV ContentFormat = "unknown-wrapped-as-wav"

	// FormatSpoken marks a result whose audio was rendered directly by the
	// device speech engine. Its handle carries no bytes.
	FormatSpoken ContentFormat = "spoken"
)

// Extension returns the file extension, with the leading dot, for audio in
// format f.
func (f ContentFormat) Extension() string {
	switch f {
	case FormatWAV, FormatWrappedWAV:
		return ".wav"
	case FormatMP3, FormatOGG, FormatMP4, FormatFLAC:
		return "." + string(f)
	default:
		return ".bin"
	}
}

// ContentType returns the MIME type a player should be told for f.
func (f ContentFormat) ContentType() string {
	switch f {
	case FormatWAV, FormatWrappedWAV:
		return "audio/wav"
	case FormatMP3:
		return "audio/mpeg"
	case FormatOGG:
		return "audio/ogg"
	case FormatMP4:
		return "audio/mp4"
	case FormatFLAC:
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}

// Playable reports whether f carries audio bytes a player can consume.
func (f ContentFormat) Playable() bool {
	return f != FormatSpoken && f != ""
}

// DialogueTurnRequest is one line of a multi-avatar dialogue.
type DialogueTurnRequest struct {
	// AvatarID identifies the speaker of this turn.
	AvatarID string `json:"avatar_id" yaml:"avatar_id"`

	// Text is the line to speak.
	Text string `json:"text" yaml:"text"`

	// SequenceIndex is assigned by the caller and preserved in the output
	// regardless of completion order.
	SequenceIndex int `json:"sequence_index" yaml:"sequence_index"`
}
