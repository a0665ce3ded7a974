package app_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/avatarvox/internal/analytics"
	"github.com/MrWong99/avatarvox/internal/app"
	"github.com/MrWong99/avatarvox/internal/config"
	"github.com/MrWong99/avatarvox/internal/dialogue"
	"github.com/MrWong99/avatarvox/internal/observe"
	"github.com/MrWong99/avatarvox/pkg/audio"
	"github.com/MrWong99/avatarvox/pkg/provider/tts"
	"github.com/MrWong99/avatarvox/pkg/provider/tts/mock"
	"github.com/MrWong99/avatarvox/pkg/types"
)

// testConfig returns a defaulted config with two avatars and fast pacing.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Avatars: []config.AvatarConfig{
			{ID: "sage", VoiceID: "Kore", Language: "en-US"},
			{ID: "bard", VoiceID: "Puck", Language: "fr-FR", SpeakingRate: 1.1},
		},
		Analytics: config.AnalyticsConfig{File: filepath.Join(t.TempDir(), "events.jsonl")},
	}
	config.ApplyDefaults(cfg)
	cfg.Dialogue.InterCallDelay = time.Millisecond
	cfg.Dialogue.TurnPause = time.Millisecond
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func wavBytes() []byte {
	return audio.WrapPCM(make([]byte, 4800), audio.DefaultPCMFormat)
}

func newApp(t *testing.T, cfg *config.Config, providers *app.Providers, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(context.Background(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNew_RequiresEngine(t *testing.T) {
	_, err := app.New(context.Background(), testConfig(t), &app.Providers{})
	if err == nil {
		t.Fatal("expected error without a local engine")
	}
}

func TestNew_RejectsInvalidAvatars(t *testing.T) {
	cfg := testConfig(t)
	cfg.Avatars = append(cfg.Avatars, config.AvatarConfig{ID: "loud", VolumeGainDb: 40})
	_, err := app.New(context.Background(), cfg, &app.Providers{Engine: &mock.Engine{}})
	if !errors.Is(err, types.ErrInvalidProfile) {
		t.Errorf("err = %v, want ErrInvalidProfile", err)
	}
}

func TestSpeak_RemoteThenQuotaFallback(t *testing.T) {
	primary := &mock.Provider{ProviderName: "gemini", Err: tts.Quota("gemini", 429, errors.New("quota"))}
	secondary := &mock.Provider{ProviderName: "openai", Audio: tts.RawAudio{Data: wavBytes(), MIMEType: "audio/wav"}}
	engine := &mock.Engine{}
	a := newApp(t, testConfig(t), &app.Providers{Remote: []tts.Provider{primary, secondary}, Engine: engine})

	res, err := a.Orchestrator().SpeakAs(context.Background(), "sage", "Hello there", "c1")
	if err != nil {
		t.Fatalf("SpeakAs: %v", err)
	}
	defer res.Release()
	if res.UsedFallback || res.Format != types.FormatWAV {
		t.Errorf("result = %+v, want remote wav from the secondary", res)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Errorf("calls = %d/%d", primary.CallCount(), secondary.CallCount())
	}

	secondary.Err = tts.Quota("openai", 429, errors.New("quota"))
	res2, err := a.Orchestrator().SpeakAs(context.Background(), "bard", "Bonjour", "c1")
	if err != nil {
		t.Fatalf("SpeakAs fallback: %v", err)
	}
	defer res2.Release()
	if !res2.UsedFallback || !res2.Spoken() {
		t.Errorf("result = %+v, want local fallback", res2)
	}
	if engine.SpeakCount() != 1 || engine.Utterances[0].Language != "fr-FR" {
		t.Errorf("utterances = %+v", engine.Utterances)
	}
}

func TestSpeak_NoRemoteProvidersUsesLocal(t *testing.T) {
	engine := &mock.Engine{}
	a := newApp(t, testConfig(t), &app.Providers{Engine: engine})

	res, err := a.Orchestrator().SpeakAs(context.Background(), "sage", "Hello", "")
	if err != nil {
		t.Fatalf("SpeakAs: %v", err)
	}
	defer res.Release()
	if !res.UsedFallback || engine.SpeakCount() != 1 {
		t.Errorf("result = %+v, speak count %d", res, engine.SpeakCount())
	}
}

func TestHandler_ServesSpeechAndReadiness(t *testing.T) {
	remote := &mock.Provider{ProviderName: "gemini", Audio: tts.RawAudio{Data: wavBytes()}}
	a := newApp(t, testConfig(t), &app.Providers{Remote: []tts.Provider{remote}, Engine: &mock.Engine{}})

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/speech",
		strings.NewReader(`{"avatar_id":"sage","text":"Greetings"}`)))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "audio/wav" {
		t.Fatalf("speech: %d %q %s", rec.Code, rec.Header().Get("Content-Type"), rec.Body)
	}

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("readyz = %d %s", rec.Code, rec.Body)
	}
	if err := a.Readiness(context.Background()); err != nil {
		t.Errorf("Readiness: %v", err)
	}
}

func TestReadiness_FailsWithoutEngine(t *testing.T) {
	a := newApp(t, testConfig(t), &app.Providers{Engine: &mock.Engine{AvailableErr: errors.New("espeak missing")}})
	if err := a.Readiness(context.Background()); err == nil {
		t.Error("expected readiness failure")
	}
}

func TestDialogue_ThroughApp(t *testing.T) {
	remote := &mock.Provider{ProviderName: "gemini", Audio: tts.RawAudio{Data: wavBytes()}}
	player := &mock.Player{}
	a := newApp(t, testConfig(t), &app.Providers{Remote: []tts.Provider{remote}, Engine: &mock.Engine{}, Player: player})

	results, err := a.Sequencer().Generate(context.Background(), "conv", []types.DialogueTurnRequest{
		{AvatarID: "sage", Text: "Welcome.", SequenceIndex: 0},
		{AvatarID: "bard", Text: "A song!", SequenceIndex: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer dialogue.Release(results)
	if err := a.Sequencer().PlaySequentially(context.Background(), results, a.Player(), dialogue.Hooks{}); err != nil {
		t.Fatal(err)
	}
	if len(player.Played) != 2 {
		t.Errorf("played = %d, want 2", len(player.Played))
	}
}

func TestRedisTierAndAnalytics(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testConfig(t)
	cfg.Analytics.RedisChannel = "avatarvox.events"
	remote := &mock.Provider{ProviderName: "gemini", Audio: tts.RawAudio{Data: wavBytes()}}
	a := newApp(t, cfg, &app.Providers{Remote: []tts.Provider{remote}, Engine: &mock.Engine{}}, app.WithRedisClient(client))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunWorkers(ctx) }()

	res, err := a.Orchestrator().SpeakAs(context.Background(), "sage", "Shared line", "c1")
	if err != nil {
		t.Fatal(err)
	}
	_ = res.Release()

	var keys []string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if keys = mr.Keys(); len(keys) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(keys) != 1 || !strings.HasPrefix(keys[0], cfg.Cache.Redis.Prefix) {
		t.Errorf("redis keys = %v, want one entry under %q", keys, cfg.Cache.Redis.Prefix)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("RunWorkers = %v", err)
	}

	f, err := os.Open(cfg.Analytics.File)
	if err != nil {
		t.Fatalf("analytics file: %v", err)
	}
	defer f.Close()
	var events []analytics.Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e analytics.Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatal(err)
		}
		events = append(events, e)
	}
	if len(events) != 1 || events[0].AvatarID != "sage" || events[0].Outcome != "remote" {
		t.Errorf("events = %+v", events)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	a := newApp(t, testConfig(t), &app.Providers{Engine: &mock.Engine{}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	a := newApp(t, testConfig(t), &app.Providers{Engine: &mock.Engine{}})
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown = %v", err)
	}
}
