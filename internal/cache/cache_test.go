package cache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/avatarvox/internal/cache"
	"github.com/MrWong99/avatarvox/internal/observe"
	"github.com/MrWong99/avatarvox/pkg/audio"
	"github.com/MrWong99/avatarvox/pkg/types"
)

// ── helpers ──────────────────────────────────────────────────────────────────

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newCache(t *testing.T, cfg cache.Config, opts ...cache.Option) (*cache.Cache, *fakeClock, *audio.Tracker) {
	t.Helper()
	clock := newFakeClock()
	tracker := &audio.Tracker{}
	opts = append([]cache.Option{
		cache.WithClock(clock.Now),
		cache.WithTracker(tracker),
		cache.WithMetrics(testMetrics(t)),
	}, opts...)
	c, err := cache.New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, clock, tracker
}

// put stores a fresh handle under key and releases the caller's copy.
func put(t *testing.T, c *cache.Cache, tracker *audio.Tracker, key, payload string, fallback bool) {
	t.Helper()
	format := types.FormatWAV
	if fallback {
		format = types.FormatSpoken
		payload = ""
	}
	h := audio.NewHandle([]byte(payload), format, tracker)
	defer h.Release()
	if err := c.Put(context.Background(), key, h, time.Second, fallback); err != nil {
		t.Fatalf("Put(%s): %v", key, err)
	}
}

func mustGet(t *testing.T, c *cache.Cache, key string) cache.Entry {
	t.Helper()
	e, ok := c.Get(context.Background(), key)
	if !ok {
		t.Fatalf("Get(%s): miss", key)
	}
	return e
}

func defaultConfig() cache.Config {
	return cache.Config{MaxEntries: 3, TTL: time.Minute, FallbackTTL: 10 * time.Second}
}

// ── key ──────────────────────────────────────────────────────────────────────

func TestKey(t *testing.T) {
	base := types.VoiceProfile{AvatarID: "sage", VoiceIdentifier: "Kore", LanguageCode: "en-US", SpeakingRate: 1}

	if cache.Key("sage", "hi", base) != cache.Key("sage", "hi", base) {
		t.Fatal("key is not deterministic")
	}
	if got := len(cache.Key("sage", "hi", base)); got != 64 {
		t.Errorf("key length = %d, want 64 hex chars", got)
	}

	neutral := base
	neutral.EmotionalTone = types.ToneNeutral
	if cache.Key("sage", "hi", base) != cache.Key("sage", "hi", neutral) {
		t.Error("empty tone and neutral tone must share a key")
	}

	faster := base
	faster.SpeakingRate = 1.25
	calm := base
	calm.EmotionalTone = types.ToneCalm
	louder := base
	louder.VolumeGainDb = 3

	distinct := map[string]string{
		"base":      cache.Key("sage", "hi", base),
		"rate":      cache.Key("sage", "hi", faster),
		"tone":      cache.Key("sage", "hi", calm),
		"gain":      cache.Key("sage", "hi", louder),
		"text":      cache.Key("sage", "hello", base),
		"avatar":    cache.Key("bard", "hi", base),
		"boundary1": cache.Key("ab", "c", base),
		"boundary2": cache.Key("a", "bc", base),
	}
	seen := map[string]string{}
	for name, k := range distinct {
		if other, dup := seen[k]; dup {
			t.Errorf("%s and %s share a key", name, other)
		}
		seen[k] = name
	}
}

// ── memory store ─────────────────────────────────────────────────────────────

func TestCache_PutGet(t *testing.T) {
	c, _, tracker := newCache(t, defaultConfig())
	put(t, c, tracker, "k1", "RIFFdata", false)

	e := mustGet(t, c, "k1")
	if e.Format != types.FormatWAV || e.Duration != time.Second || e.UsedFallback {
		t.Errorf("entry = %+v", e)
	}
	b, err := e.Handle.Bytes()
	if err != nil || string(b) != "RIFFdata" {
		t.Fatalf("Bytes = %q, %v", b, err)
	}

	// Releasing the caller's share must not affect the cached entry.
	if err := e.Handle.Release(); err != nil {
		t.Fatal(err)
	}
	again := mustGet(t, c, "k1")
	defer again.Handle.Release()
	if again.Handle.ID() == e.Handle.ID() {
		t.Error("each Get must return a distinct handle")
	}
	if got := tracker.Live(); got != 2 {
		t.Errorf("live handles = %d, want 2 (cache + caller)", got)
	}
}

func TestCache_Miss(t *testing.T) {
	c, _, _ := newCache(t, defaultConfig())
	if _, ok := c.Get(context.Background(), "absent"); ok {
		t.Error("expected miss")
	}
}

func TestCache_EvictsOldestInsertedFirst(t *testing.T) {
	c, _, tracker := newCache(t, defaultConfig())
	put(t, c, tracker, "a", "1", false)
	put(t, c, tracker, "b", "2", false)
	put(t, c, tracker, "c", "3", false)

	// Reading "a" must not refresh its position.
	e := mustGet(t, c, "a")
	e.Handle.Release()

	put(t, c, tracker, "d", "4", false)

	if _, ok := c.Get(context.Background(), "a"); ok {
		t.Error("oldest entry survived capacity eviction")
	}
	for _, k := range []string{"b", "c", "d"} {
		e := mustGet(t, c, k)
		e.Handle.Release()
	}
	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3", c.Len())
	}
	if got := tracker.Live(); got != 3 {
		t.Errorf("live handles = %d, want 3", got)
	}
}

func TestCache_Expiry(t *testing.T) {
	c, clock, tracker := newCache(t, defaultConfig())
	put(t, c, tracker, "remote", "abc", false)
	put(t, c, tracker, "spoken", "", true)

	clock.Advance(10 * time.Second)
	if _, ok := c.Get(context.Background(), "spoken"); ok {
		t.Error("fallback entry should expire after FallbackTTL")
	}
	e := mustGet(t, c, "remote")
	e.Handle.Release()

	clock.Advance(50 * time.Second)
	if _, ok := c.Get(context.Background(), "remote"); ok {
		t.Error("remote entry should expire after TTL")
	}
	if got := tracker.Live(); got != 0 {
		t.Errorf("live handles = %d, want 0", got)
	}
}

func TestCache_Sweep(t *testing.T) {
	c, clock, tracker := newCache(t, defaultConfig())
	put(t, c, tracker, "a", "1", false)
	put(t, c, tracker, "b", "", true)
	put(t, c, tracker, "c", "", true)

	clock.Advance(15 * time.Second)
	if n := c.Sweep(); n != 2 {
		t.Errorf("Sweep = %d, want 2", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
	if got := tracker.Live(); got != 1 {
		t.Errorf("live handles = %d, want 1", got)
	}
}

func TestCache_ReplaceReleasesPrevious(t *testing.T) {
	c, _, tracker := newCache(t, defaultConfig())
	put(t, c, tracker, "k", "old", false)
	put(t, c, tracker, "k", "new", false)

	if got := tracker.Live(); got != 1 {
		t.Errorf("live handles = %d, want 1 after replacement", got)
	}
	e := mustGet(t, c, "k")
	defer e.Handle.Release()
	if b, _ := e.Handle.Bytes(); string(b) != "new" {
		t.Errorf("Bytes = %q, want new", b)
	}
}

func TestCache_PutReleasedHandle(t *testing.T) {
	c, _, tracker := newCache(t, defaultConfig())
	h := audio.NewHandle([]byte("x"), types.FormatWAV, tracker)
	h.Release()
	if err := c.Put(context.Background(), "k", h, 0, false); !errors.Is(err, audio.ErrReleased) {
		t.Errorf("err = %v, want ErrReleased", err)
	}
}

func TestCache_Close(t *testing.T) {
	c, _, tracker := newCache(t, defaultConfig())
	put(t, c, tracker, "a", "1", false)
	put(t, c, tracker, "b", "2", false)

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if got := tracker.Live(); got != 0 {
		t.Errorf("live handles = %d, want 0 after Close", got)
	}
	h := audio.NewHandle([]byte("x"), types.FormatWAV, tracker)
	defer h.Release()
	if err := c.Put(context.Background(), "c", h, 0, false); !errors.Is(err, cache.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestCache_Run(t *testing.T) {
	cfg := defaultConfig()
	cfg.SweepInterval = time.Millisecond
	c, clock, tracker := newCache(t, cfg)
	put(t, c, tracker, "a", "", true)
	clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for c.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("Run did not sweep")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	if _, err := cache.New(cache.Config{MaxEntries: 0, TTL: time.Minute}); err == nil {
		t.Error("expected error for zero capacity")
	}
	if _, err := cache.New(cache.Config{MaxEntries: 1}); err == nil {
		t.Error("expected error for zero ttl")
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c, _, tracker := newCache(t, defaultConfig())
	keys := []string{"a", "b", "c", "d", "e"}

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k := keys[i%len(keys)]
			h := audio.NewHandle([]byte(k), types.FormatWAV, tracker)
			_ = c.Put(context.Background(), k, h, 0, false)
			h.Release()
			if e, ok := c.Get(context.Background(), k); ok {
				e.Handle.Release()
			}
		}()
	}
	wg.Wait()

	if c.Len() > 3 {
		t.Errorf("Len = %d exceeds capacity", c.Len())
	}
	c.Close()
	if got := tracker.Live(); got != 0 {
		t.Errorf("live handles = %d, want 0", got)
	}
}
