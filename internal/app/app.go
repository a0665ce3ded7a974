// Package app wires the avatarvox subsystems into a running application.
//
// New builds every subsystem from the configuration, Run serves requests and
// runs background workers until the context is cancelled, and Shutdown tears
// everything down in order.
//
// Tests inject doubles through functional options (WithRedisClient,
// WithMetrics, ...) and through the [Providers] struct.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/avatarvox/internal/analytics"
	"github.com/MrWong99/avatarvox/internal/cache"
	"github.com/MrWong99/avatarvox/internal/config"
	"github.com/MrWong99/avatarvox/internal/dialogue"
	"github.com/MrWong99/avatarvox/internal/health"
	"github.com/MrWong99/avatarvox/internal/observe"
	"github.com/MrWong99/avatarvox/internal/resilience"
	"github.com/MrWong99/avatarvox/internal/server"
	"github.com/MrWong99/avatarvox/internal/speech"
	"github.com/MrWong99/avatarvox/internal/voice"
	"github.com/MrWong99/avatarvox/pkg/audio"
	"github.com/MrWong99/avatarvox/pkg/provider/tts"
	"github.com/MrWong99/avatarvox/pkg/provider/tts/local"
	"github.com/MrWong99/avatarvox/pkg/types"
)

// errNoRemote is reported when no remote provider is configured. It is a
// quota classification so every request goes straight to the local engine.
var errNoRemote = errors.New("no remote providers configured")

// Providers holds the externally constructed speech backends. main.go fills
// it from the config registry; tests fill it with mocks.
type Providers struct {
	// Remote lists remote providers in preference order. May be empty.
	Remote []tts.Provider

	// Engine is the device speech engine behind the local fallback.
	Engine local.Engine

	// Player plays resolved audio for sequential dialogue playback. Optional.
	Player dialogue.Player
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics      *observe.Metrics
	metricsHTTP  http.Handler
	tracker      *audio.Tracker
	redis        redis.UniversalClient
	avatars      *voice.Registry
	chain        *resilience.RemoteChain
	local        *local.Synthesizer
	cache        *cache.Cache
	dispatcher   *analytics.Dispatcher
	orchestrator *speech.Orchestrator
	sequencer    *dialogue.Sequencer
	health       *health.Handler
	server       *server.Server

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option configures an [App].
type Option func(*App)

// WithMetrics injects the metric instruments. Defaults to the global meter
// provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHTTP = h }
}

// WithRedisClient injects the Redis client instead of dialing
// cache.redis.addr. The caller keeps ownership.
func WithRedisClient(c redis.UniversalClient) Option {
	return func(a *App) { a.redis = c }
}

// WithTracker counts live audio handles across the pipeline.
func WithTracker(t *audio.Tracker) Option {
	return func(a *App) { a.tracker = t }
}

// New wires every subsystem. cfg must already carry defaults (see
// [config.ApplyDefaults]).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Engine == nil {
		return nil, errors.New("app: a local speech engine is required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	var err error
	if a.avatars, err = voice.FromConfig(cfg.Avatars); err != nil {
		return nil, fmt.Errorf("app: load avatars: %w", err)
	}
	slog.Info("loaded voice profiles", "count", a.avatars.Len())

	if err := a.initRedis(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init redis: %w", err)
	}
	a.initRemote()
	a.local = local.NewSynthesizer(providers.Engine)
	if err := a.local.Available(); err != nil {
		slog.Warn("local speech engine unavailable; quota exhaustion will fail requests", "err", err)
	}
	if err := a.initCache(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init cache: %w", err)
	}
	a.initAnalytics()

	resolver := audio.NewResolver(a.resolverOptions()...)
	a.orchestrator = speech.New(a.chain, boundedLocal{a.local, cfg.Providers.Local.Timeout}, resolver,
		speech.WithCache(a.cache),
		speech.WithProfiles(a.avatars),
		speech.WithNotifier(a.dispatcher),
		speech.WithMetrics(a.metrics),
		speech.WithTracker(a.tracker),
		speech.WithConfig(speech.Config{FallbackOnTransportError: cfg.Providers.FallbackOnTransportError}),
	)
	a.sequencer = dialogue.New(a.orchestrator, dialogue.Config{
		InterCallDelay: cfg.Dialogue.InterCallDelay,
		TurnPause:      cfg.Dialogue.TurnPause,
	}, dialogue.WithNotifier(a.dispatcher))

	a.initHealth()
	a.server = server.New(server.Config{
		Speaker:        a.orchestrator,
		Dialogue:       a.sequencer,
		Avatars:        a.avatars,
		Health:         a.health,
		Metrics:        a.metrics,
		MetricsHandler: a.metricsHTTP,
	})
	return a, nil
}

func (a *App) initRedis(ctx context.Context) error {
	if a.redis != nil {
		return nil
	}
	rc := a.cfg.Cache.Redis
	if rc.Addr == "" {
		return nil
	}
	client, err := cache.DialRedis(ctx, rc.Addr, rc.Password, rc.DB)
	if err != nil {
		return err
	}
	a.redis = client
	a.closers = append(a.closers, client.Close)
	slog.Info("connected to redis", "addr", rc.Addr)
	return nil
}

// initRemote builds the provider chain with one circuit breaker per
// provider.
func (a *App) initRemote() {
	cbCfg := a.cfg.Providers.CircuitBreaker
	fc := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:   cbCfg.MaxFailures,
			ResetTimeout:  cbCfg.ResetTimeout,
			QuotaCooldown: cbCfg.QuotaCooldown,
		},
		OnAttempt: func(ctx context.Context, provider string, elapsed time.Duration, err error) {
			kind := ""
			if err != nil {
				kind = tts.KindOf(err).String()
			}
			a.metrics.RecordProviderRequest(ctx, provider, elapsed, kind)
		},
	}
	remotes := a.providers.Remote
	if len(remotes) == 0 {
		remotes = []tts.Provider{noRemote{}}
	}
	a.chain = resilience.NewRemoteChain(remotes[0], fc)
	for _, p := range remotes[1:] {
		a.chain.AddFallback(p)
	}
}

func (a *App) initCache() error {
	cc := a.cfg.Cache
	opts := []cache.Option{cache.WithMetrics(a.metrics), cache.WithTracker(a.tracker)}
	if a.redis != nil {
		opts = append(opts, cache.WithRedis(cache.NewRedisTier(a.redis, cc.Redis.Prefix)))
	}
	c, err := cache.New(cache.Config{
		MaxEntries:    cc.MaxEntries,
		TTL:           cc.TTL,
		FallbackTTL:   cc.FallbackTTL,
		SweepInterval: cc.SweepInterval,
	}, opts...)
	if err != nil {
		return err
	}
	a.cache = c
	a.closers = append(a.closers, c.Close)
	return nil
}

func (a *App) initAnalytics() {
	sinks := []analytics.Sink{analytics.LogSink{Logger: slog.Default()}}
	ac := a.cfg.Analytics
	if ac.RedisChannel != "" && a.redis != nil {
		sinks = append(sinks, analytics.NewRedisSink(a.redis, ac.RedisChannel))
	}
	if ac.File != "" {
		sinks = append(sinks, analytics.NewFileSink(ac.File))
	}
	a.dispatcher = analytics.NewDispatcher(ac.BufferSize, sinks...)
}

func (a *App) resolverOptions() []audio.Option {
	ac := a.cfg.Audio
	opts := []audio.Option{audio.WithTracker(a.tracker)}
	f := audio.DefaultPCMFormat
	if ac.PCMSampleRate > 0 {
		f.SampleRate = ac.PCMSampleRate
	}
	if ac.PCMChannels > 0 {
		f.Channels = ac.PCMChannels
	}
	opts = append(opts, audio.WithPCMFormat(f))
	if ac.NormalizeRepaired {
		opts = append(opts, audio.WithDecoder(audio.NativeDecoder{
			Target: audio.Format{SampleRate: f.SampleRate, Channels: f.Channels},
		}))
	}
	if ac.PCMThreshold > 0 {
		opts = append(opts, audio.WithPCMThreshold(ac.PCMThreshold))
	}
	if ac.ProbeTimeout > 0 {
		opts = append(opts, audio.WithProbeTimeout(ac.ProbeTimeout))
	}
	return opts
}

func (a *App) initHealth() {
	checks := []health.Checker{
		health.AvatarsLoaded(a.avatars.Len),
		health.LocalEngine(a.local.Available),
		health.RemoteProviders(a.chain.Available),
	}
	if a.redis != nil {
		checks = append(checks, health.Redis(func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}))
	}
	a.health = health.New(checks...)
}

// Orchestrator returns the single-line synthesis entry point.
func (a *App) Orchestrator() *speech.Orchestrator { return a.orchestrator }

// Sequencer returns the dialogue sequencer.
func (a *App) Sequencer() *dialogue.Sequencer { return a.sequencer }

// Avatars returns the voice profile registry.
func (a *App) Avatars() *voice.Registry { return a.avatars }

// Player returns the configured audio player, or nil.
func (a *App) Player() dialogue.Player { return a.providers.Player }

// Handler returns the instrumented HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Remote returns the remote provider chain.
func (a *App) Remote() *resilience.RemoteChain { return a.chain }

// Readiness evaluates every readiness check once.
func (a *App) Readiness(ctx context.Context) error {
	res := a.health.Evaluate(ctx)
	if res.Status == health.StatusFail {
		return fmt.Errorf("not ready: %v", res.Checks)
	}
	return nil
}

// RunWorkers runs the background workers (cache sweeper and analytics
// delivery) until ctx is cancelled. CLI commands that do not serve HTTP use
// it directly.
func (a *App) RunWorkers(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCancel(a.cache.Run(ctx)) })
	g.Go(func() error { return ignoreCancel(a.dispatcher.Run(ctx)) })
	return g.Wait()
}

// Run serves HTTP on server.listen_addr alongside the background workers and
// blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.ListenAndServe(ctx, a.cfg.Server.ListenAddr) })
	g.Go(func() error { return a.RunWorkers(ctx) })

	slog.Info("avatarvox running",
		"listen_addr", a.cfg.Server.ListenAddr,
		"avatars", a.avatars.Len(),
		"remote_providers", len(a.providers.Remote),
	)
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown tears down subsystems in init order. If ctx expires first, the
// remaining closers are skipped and ctx.Err() is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		if a.dispatcher != nil {
			a.dispatcher.Close()
		}
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}

// boundedLocal caps each device utterance at timeout.
type boundedLocal struct {
	*local.Synthesizer
	timeout time.Duration
}

func (b boundedLocal) Speak(ctx context.Context, text string, profile types.VoiceProfile) (time.Duration, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	return b.Synthesizer.Speak(ctx, text, profile)
}

// noRemote stands in for an empty provider chain.
type noRemote struct{}

func (noRemote) Name() string { return "none" }

func (noRemote) Synthesize(context.Context, types.SynthesisRequest) (tts.RawAudio, error) {
	return tts.RawAudio{}, tts.Quota("none", 0, errNoRemote)
}
