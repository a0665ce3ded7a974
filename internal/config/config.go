// Package config provides the configuration schema, loader, and provider registry
// for the avatarvox speech pipeline.
package config

import (
	"time"

	"github.com/MrWong99/avatarvox/pkg/types"
)

// LogLevel controls log verbosity for the avatarvox server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for avatarvox.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Audio     AudioConfig     `yaml:"audio"`
	Cache     CacheConfig     `yaml:"cache"`
	Dialogue  DialogueConfig  `yaml:"dialogue"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Avatars   []AvatarConfig  `yaml:"avatars"`
}

// ServerConfig holds network and logging settings for the avatarvox server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares the remote provider chain and the local engine.
type ProvidersConfig struct {
	// Remote lists remote providers in preference order; the first entry is
	// the primary. Each Name selects a factory registered in the [Registry].
	Remote []ProviderEntry `yaml:"remote"`

	// Local configures the on-device fallback engine.
	Local LocalConfig `yaml:"local"`

	// CircuitBreaker tunes the breaker placed in front of every remote provider.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`

	// FallbackOnTransportError routes transport failures to the local engine
	// as well. By default only quota exhaustion falls back.
	FallbackOnTransportError bool `yaml:"fallback_on_transport_error"`
}

// ProviderEntry is the common configuration block shared by all remote providers.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API. ${VAR}
	// references are expanded from the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Timeout bounds a single synthesis call. Zero uses the provider default.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above (e.g. "output_format" for elevenlabs).
	Options map[string]any `yaml:"options"`
}

// LocalConfig configures the local speech engine and audio player.
type LocalConfig struct {
	// Command is the engine command template. Empty selects the platform default.
	Command string `yaml:"command"`

	// Player is the player command template used for sequential playback.
	// Empty selects the platform default.
	Player string `yaml:"player"`

	// Timeout bounds one local utterance. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`
}

// CircuitBreakerConfig tunes per-provider circuit breakers.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// QuotaCooldown skips a provider for this long after it reports quota
	// exhaustion. Zero counts quota errors towards MaxFailures instead.
	QuotaCooldown time.Duration `yaml:"quota_cooldown"`
}

// AudioConfig tunes the audio format resolver.
type AudioConfig struct {
	// PCMSampleRate is assumed for headerless PCM without a MIME hint.
	PCMSampleRate int `yaml:"pcm_sample_rate"`

	// PCMChannels is assumed for headerless PCM without a MIME hint.
	PCMChannels int `yaml:"pcm_channels"`

	// ProbeTimeout bounds each compatibility probe.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// PCMThreshold is the score above which unknown bytes are treated as PCM.
	PCMThreshold float64 `yaml:"pcm_threshold"`

	// NormalizeRepaired converts audio rebuilt by the repair strategy to the
	// PCM sample rate and channel count above.
	NormalizeRepaired bool `yaml:"normalize_repaired"`
}

// CacheConfig tunes the speech cache.
type CacheConfig struct {
	MaxEntries    int           `yaml:"max_entries"`
	TTL           time.Duration `yaml:"ttl"`
	FallbackTTL   time.Duration `yaml:"fallback_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Redis         RedisConfig   `yaml:"redis"`
}

// RedisConfig configures the optional shared Redis tier. An empty Addr
// disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// DialogueConfig paces multi-turn generation and playback.
type DialogueConfig struct {
	// InterCallDelay is the minimum spacing between synthesis calls.
	InterCallDelay time.Duration `yaml:"inter_call_delay"`

	// TurnPause is the silence inserted between turns during playback.
	TurnPause time.Duration `yaml:"turn_pause"`
}

// AnalyticsConfig selects where interaction events are delivered. Events are
// always logged; a non-empty RedisChannel also publishes them, using the
// cache's Redis connection settings.
type AnalyticsConfig struct {
	// RedisChannel, if set, publishes every event as JSON on this channel
	// using the cache's Redis connection.
	RedisChannel string `yaml:"redis_channel"`

	// File, if set, appends every event as a JSON line to this path.
	File string `yaml:"file"`

	// BufferSize is the event queue capacity. Events are dropped when full.
	BufferSize int `yaml:"buffer_size"`
}

// AvatarConfig describes one avatar's voice.
type AvatarConfig struct {
	// ID is the avatar identity used by callers.
	ID string `yaml:"id"`

	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id"`

	// Language is a BCP-47 language tag.
	Language string `yaml:"language"`

	// SpeakingRate scales speaking speed in [0.25, 4.0]. 0 means 1.0.
	SpeakingRate float64 `yaml:"speaking_rate"`

	// Pitch shifts pitch in semitones in [-20, 20].
	Pitch float64 `yaml:"pitch"`

	// VolumeGainDb adjusts loudness in [-96, 16] dB.
	VolumeGainDb float64 `yaml:"volume_gain_db"`

	// Tone is the emotional tone tag.
	Tone types.EmotionalTone `yaml:"tone"`

	// Style is free-text delivery guidance for generative providers.
	Style string `yaml:"style"`

	// Accent is an optional accent hint.
	Accent string `yaml:"accent"`
}

// Profile converts the avatar block into a [types.VoiceProfile].
func (a AvatarConfig) Profile() types.VoiceProfile {
	rate := a.SpeakingRate
	if rate == 0 {
		rate = 1
	}
	return types.VoiceProfile{
		AvatarID:          a.ID,
		VoiceIdentifier:   a.VoiceID,
		LanguageCode:      a.Language,
		SpeakingRate:      rate,
		Pitch:             a.Pitch,
		VolumeGainDb:      a.VolumeGainDb,
		EmotionalTone:     a.Tone.Normalized(),
		StyleInstructions: a.Style,
		Accent:            a.Accent,
	}
}
