package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/avatarvox/internal/config"
	"github.com/MrWong99/avatarvox/pkg/audio"
)

func TestBuildProviders_SkipsUnknownNames(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			Remote: []config.ProviderEntry{
				{Name: "gemini", APIKey: "g-key", Model: "gemini-2.5-flash-preview-tts"},
				{Name: "carrier-pigeon", APIKey: "coo"},
				{Name: "openai", APIKey: "o-key", Options: map[string]any{"response_format": "wav"}},
				{Name: "elevenlabs", APIKey: "e-key"},
			},
			Local: config.LocalConfig{Command: "espeak-ng -w {out} {text}", Player: "aplay {file}"},
		},
	}
	ps, err := buildProviders(cfg, newProviderRegistry())
	if err != nil {
		t.Fatalf("buildProviders: %v", err)
	}
	var names []string
	for _, p := range ps.Remote {
		names = append(names, p.Name())
	}
	if got, want := strings.Join(names, ","), "gemini,openai,elevenlabs"; got != want {
		t.Errorf("remote chain = %s, want %s", got, want)
	}
	if ps.Engine == nil || ps.Player == nil {
		t.Error("local engine and player must always be built")
	}
}

func TestBuildProviders_FactoryError(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Providers: config.ProvidersConfig{
		Remote: []config.ProviderEntry{{Name: "gemini"}},
	}}
	if _, err := buildProviders(cfg, newProviderRegistry()); err == nil {
		t.Fatal("expected an error for a provider without an API key")
	}
}

func TestProbeCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := filepath.Join(dir, "tone.raw")
	out := filepath.Join(dir, "tone.wav")

	pcm := make([]byte, 4800)
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int16((i % 200) * 40)
		pcm[i] = byte(v)
		pcm[i+1] = byte(v >> 8)
	}
	if err := os.WriteFile(in, audio.WrapPCM(pcm, audio.DefaultPCMFormat), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := newRootCmd()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"probe", in, "--out", out})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("probe: %v", err)
	}

	text := stdout.String()
	for _, want := range []string{"strategy : pass-through", "format   : wav", "wrote    : " + out} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if fi, err := os.Stat(out); err != nil || fi.Size() == 0 {
		t.Errorf("resolved file not written: %v", err)
	}
}

func TestProbeCommand_Unresolvable(t *testing.T) {
	t.Parallel()

	in := filepath.Join(t.TempDir(), "empty.bin")
	if err := os.WriteFile(in, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"probe", in})
	if err := cmd.Execute(); !errors.Is(err, audio.ErrFormatUnresolvable) {
		t.Fatalf("err = %v, want ErrFormatUnresolvable", err)
	}
}

func TestLoadConfig_MissingFileHint(t *testing.T) {
	t.Parallel()

	o := &rootOptions{configPath: filepath.Join(t.TempDir(), "absent.yaml")}
	_, err := o.loadConfig()
	if err == nil || !strings.Contains(err.Error(), "configs/example.yaml") {
		t.Fatalf("err = %v, want a hint pointing at the example config", err)
	}
}
