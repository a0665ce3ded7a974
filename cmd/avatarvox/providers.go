package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/avatarvox/internal/app"
	"github.com/MrWong99/avatarvox/internal/config"
	"github.com/MrWong99/avatarvox/pkg/provider/tts"
	"github.com/MrWong99/avatarvox/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/avatarvox/pkg/provider/tts/gemini"
	"github.com/MrWong99/avatarvox/pkg/provider/tts/local"
	"github.com/MrWong99/avatarvox/pkg/provider/tts/openai"
)

// newProviderRegistry returns a registry holding every built-in remote
// provider factory.
func newProviderRegistry() *config.Registry {
	reg := config.NewRegistry()

	reg.RegisterTTS("gemini", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, gemini.WithTimeout(entry.Timeout))
		}
		return gemini.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptionString("organization", ""); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if f := entry.OptionString("response_format", ""); f != "" {
			opts = append(opts, openai.WithResponseFormat(f))
		}
		if entry.Timeout > 0 {
			opts = append(opts, openai.WithTimeout(entry.Timeout))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if f := entry.OptionString("output_format", ""); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	for _, name := range reg.Names() {
		slog.Debug("registered provider", "name", name)
	}
	return reg
}

// buildProviders instantiates the remote chain members and the local engine
// and player named in cfg.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	for _, entry := range cfg.Providers.Remote {
		p, err := reg.CreateTTS(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown remote provider, skipping", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create remote provider %q: %w", entry.Name, err)
		}
		ps.Remote = append(ps.Remote, p)
		slog.Info("provider created", "name", entry.Name, "model", entry.Model)
	}

	// Empty templates select the platform defaults.
	engine, err := local.NewExecEngine(cfg.Providers.Local.Command)
	if err != nil {
		return nil, fmt.Errorf("create local engine: %w", err)
	}
	ps.Engine = engine

	player, err := local.NewExecPlayer(cfg.Providers.Local.Player)
	if err != nil {
		return nil, fmt.Errorf("create audio player: %w", err)
	}
	ps.Player = player
	return ps, nil
}
