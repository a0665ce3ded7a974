package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the remote provider names registered by default.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"gemini", "openai", "elevenlabs"}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultMaxEntries     = 100
	DefaultTTL            = 30 * time.Minute
	DefaultFallbackTTL    = 30 * time.Second
	DefaultSweepInterval  = time.Minute
	DefaultInterCallDelay = 200 * time.Millisecond
	DefaultTurnPause      = 300 * time.Millisecond
	DefaultLocalTimeout   = 30 * time.Second
	DefaultRedisPrefix    = "avatarvox:speech:"
	DefaultBufferSize     = 256
)

// Load reads the YAML configuration file at path and returns a validated [Config].
//
// A .env file next to the config file, and one in the working directory, are
// loaded into the process environment first. Variables already set are not
// overridden. ${VAR} references in secrets are expanded afterwards.
func Load(path string) (*Config, error) {
	loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env")

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// loadDotEnv loads each existing file once. Missing files are ignored.
func loadDotEnv(paths ...string) {
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if err := godotenv.Load(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to load env file", "path", abs, "error", err)
		}
	}
}

// LoadFromReader decodes a YAML config from r, expands environment
// references, applies defaults, and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ExpandSecrets(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandSecrets replaces ${VAR} and $VAR references in API keys and the
// Redis password with values from the environment.
func ExpandSecrets(cfg *Config) {
	for i := range cfg.Providers.Remote {
		cfg.Providers.Remote[i].APIKey = os.ExpandEnv(cfg.Providers.Remote[i].APIKey)
	}
	cfg.Cache.Redis.Password = os.ExpandEnv(cfg.Cache.Redis.Password)
}

// ApplyDefaults fills zero-valued settings with their defaults.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)
	setDefault(&cfg.Providers.Local.Timeout, DefaultLocalTimeout)
	setDefault(&cfg.Cache.MaxEntries, DefaultMaxEntries)
	setDefault(&cfg.Cache.TTL, DefaultTTL)
	setDefault(&cfg.Cache.FallbackTTL, DefaultFallbackTTL)
	setDefault(&cfg.Cache.SweepInterval, DefaultSweepInterval)
	setDefault(&cfg.Cache.Redis.Prefix, DefaultRedisPrefix)
	setDefault(&cfg.Dialogue.InterCallDelay, DefaultInterCallDelay)
	setDefault(&cfg.Dialogue.TurnPause, DefaultTurnPause)
	setDefault(&cfg.Analytics.BufferSize, DefaultBufferSize)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Remote providers
	if len(cfg.Providers.Remote) == 0 {
		slog.Warn("no remote providers configured; every request will use the local engine")
	}
	namesSeen := make(map[string]int, len(cfg.Providers.Remote))
	for i, p := range cfg.Providers.Remote {
		prefix := fmt.Sprintf("providers.remote[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := namesSeen[p.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.remote[%d]", prefix, p.Name, prev))
		}
		namesSeen[p.Name] = i
		if p.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s.api_key is required (unset environment variable?)", prefix))
		}
		if p.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout must not be negative", prefix))
		}
		validateProviderName(p.Name)
	}
	if cfg.Providers.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, errors.New("providers.circuit_breaker.max_failures must not be negative"))
	}
	if cfg.Providers.CircuitBreaker.ResetTimeout < 0 || cfg.Providers.CircuitBreaker.QuotaCooldown < 0 {
		errs = append(errs, errors.New("providers.circuit_breaker durations must not be negative"))
	}

	// Audio
	if r := cfg.Audio.PCMSampleRate; r != 0 && (r < 8000 || r > 384000) {
		errs = append(errs, fmt.Errorf("audio.pcm_sample_rate %d is out of range [8000, 384000]", cfg.Audio.PCMSampleRate))
	}
	if cfg.Audio.PCMChannels < 0 || cfg.Audio.PCMChannels > 2 {
		errs = append(errs, fmt.Errorf("audio.pcm_channels %d is invalid; valid values: 1, 2", cfg.Audio.PCMChannels))
	}
	if cfg.Audio.PCMThreshold < 0 || cfg.Audio.PCMThreshold > 1 {
		errs = append(errs, fmt.Errorf("audio.pcm_threshold %.2f is out of range [0, 1]", cfg.Audio.PCMThreshold))
	}
	if cfg.Audio.ProbeTimeout < 0 {
		errs = append(errs, errors.New("audio.probe_timeout must not be negative"))
	}

	// Cache
	if cfg.Cache.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries %d must be positive", cfg.Cache.MaxEntries))
	}
	if cfg.Cache.TTL < 0 || cfg.Cache.FallbackTTL < 0 || cfg.Cache.SweepInterval < 0 {
		errs = append(errs, errors.New("cache durations must not be negative"))
	}

	// Dialogue
	if cfg.Dialogue.InterCallDelay < 0 || cfg.Dialogue.TurnPause < 0 {
		errs = append(errs, errors.New("dialogue durations must not be negative"))
	}

	// Analytics
	if cfg.Analytics.RedisChannel != "" && cfg.Cache.Redis.Addr == "" {
		errs = append(errs, errors.New("analytics.redis_channel requires cache.redis.addr"))
	}

	// Avatars
	avatarsSeen := make(map[string]int, len(cfg.Avatars))
	for i, a := range cfg.Avatars {
		prefix := fmt.Sprintf("avatars[%d]", i)
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
			continue
		}
		if prev, ok := avatarsSeen[a.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of avatars[%d]", prefix, a.ID, prev))
		}
		avatarsSeen[a.ID] = i
		if err := a.Profile().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
	}
	if len(cfg.Avatars) == 0 {
		slog.Warn("no avatars configured; every request will fail with an unknown avatar")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is not one of
// [ValidProviderNames].
func validateProviderName(name string) {
	if slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"name", name,
		"known", ValidProviderNames,
	)
}
