// Package speech turns a line of avatar dialogue into playable audio.
//
// The [Orchestrator] is the single entry point. Per request it checks the
// speech cache, calls the remote provider on a miss, resolves the returned
// bytes into a playable container and caches the result. A quota-exhausted
// (or circuit-open) remote tier is handled internally by speaking the line
// through the local engine; callers only see an error when the line could
// not be voiced at all.
//
// Concurrent identical requests are coalesced: only one remote call is made
// per cache key at a time, and every caller receives its own audio handle.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/avatarvox/internal/analytics"
	"github.com/MrWong99/avatarvox/internal/cache"
	"github.com/MrWong99/avatarvox/internal/observe"
	"github.com/MrWong99/avatarvox/internal/resilience"
	"github.com/MrWong99/avatarvox/pkg/audio"
	"github.com/MrWong99/avatarvox/pkg/provider/tts"
	"github.com/MrWong99/avatarvox/pkg/provider/tts/local"
	"github.com/MrWong99/avatarvox/pkg/types"
)

var (
	// ErrTotalFailure is returned when both the remote and the local path
	// failed. The returned error also wraps both causes.
	ErrTotalFailure = errors.New("speech: remote and local synthesis failed")

	// ErrEmptyText is returned for requests without any speakable text.
	ErrEmptyText = errors.New("speech: text is empty")
)

// Outcome labels reported to metrics and analytics.
const (
	OutcomeHit            = "hit"
	OutcomeRemote         = "remote"
	OutcomeFallback       = "fallback"
	OutcomeTransportError = "transport_error"
	OutcomeFormatError    = "format_error"
	OutcomeTotalFailure   = "total_failure"
	OutcomeInvalid        = "invalid"
	OutcomeCancelled      = "cancelled"
)

// Remote synthesizes raw audio bytes. [resilience.RemoteChain] and every
// provider in pkg/provider/tts implement it.
type Remote interface {
	Name() string
	Synthesize(ctx context.Context, req types.SynthesisRequest) (tts.RawAudio, error)
}

// Local speaks text directly on the device and reports how long it took.
type Local interface {
	Speak(ctx context.Context, text string, profile types.VoiceProfile) (time.Duration, error)
}

// FormatResolver turns bytes of unknown provenance into playable audio.
type FormatResolver interface {
	Resolve(ctx context.Context, data []byte, mimeHint string) (audio.Resolution, error)
}

// Profiles looks up avatar voice profiles.
type Profiles interface {
	Lookup(avatarID string) (types.VoiceProfile, error)
}

// Config tunes the orchestrator's failure handling.
type Config struct {
	// FallbackOnTransportError routes transport failures to the local
	// engine as well. By default they are surfaced to the caller.
	FallbackOnTransportError bool
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithCache enables result caching. Without a cache every request reaches
// the remote tier.
func WithCache(c *cache.Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithProfiles sets the registry used by [Orchestrator.SpeakAs].
func WithProfiles(p Profiles) Option {
	return func(o *Orchestrator) { o.profiles = p }
}

// WithNotifier sets the analytics sink. Defaults to [analytics.Discard].
func WithNotifier(n analytics.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracker attributes every handle the orchestrator creates to t.
func WithTracker(t *audio.Tracker) Option {
	return func(o *Orchestrator) { o.tracker = t }
}

// WithConfig sets failure handling options.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// Orchestrator coordinates cache, remote provider, local fallback and
// format resolution. It is safe for concurrent use.
type Orchestrator struct {
	remote   Remote
	local    Local
	resolver FormatResolver

	cfg      Config
	cache    *cache.Cache
	profiles Profiles
	notifier analytics.Notifier
	metrics  *observe.Metrics
	tracker  *audio.Tracker
	flights  singleflight.Group
	waiting  waitSet
}

// New creates an orchestrator. remote, local and resolver are required.
func New(remote Remote, local Local, resolver FormatResolver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		remote:   remote,
		local:    local,
		resolver: resolver,
		notifier: analytics.Discard,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// SpeakAs looks up the profile of avatarID and resolves text with it. An
// unknown avatar fails immediately with the registry's not-found error.
func (o *Orchestrator) SpeakAs(ctx context.Context, avatarID, text, conversationID string) (*Result, error) {
	if o.profiles == nil {
		return nil, errors.New("speech: no profile registry configured")
	}
	profile, err := o.profiles.Lookup(avatarID)
	if err != nil {
		o.notify(ctx, types.SynthesisRequest{AvatarID: avatarID, ConversationID: conversationID}, nil, OutcomeInvalid, 0, err)
		return nil, err
	}
	return o.Resolve(ctx, types.SynthesisRequest{
		Text:           text,
		AvatarID:       avatarID,
		VoiceProfile:   profile,
		ConversationID: conversationID,
	})
}

// Resolve voices req. On success the caller owns the returned result and
// must call [Result.Release].
//
// Errors:
//   - [ErrEmptyText] or [types.ErrInvalidProfile] for invalid requests.
//   - an error matching [tts.ErrTransport] when the remote tier failed for a
//     reason other than quota.
//   - an error matching [audio.ErrFormatUnresolvable] when the provider's
//     payload could not be made playable.
//   - an error matching [ErrTotalFailure] when the local fallback failed too.
//   - ctx.Err() when the caller gave up waiting.
func (o *Orchestrator) Resolve(ctx context.Context, req types.SynthesisRequest) (res *Result, err error) {
	start := time.Now()
	ctx = observe.WithSpeaker(ctx, req.AvatarID, req.ConversationID)
	ctx, span := observe.StartSpan(ctx, "speech.Resolve")
	outcome := OutcomeInvalid
	defer func() {
		elapsed := time.Since(start)
		observe.EndSpan(span, outcome, err)
		o.metrics.RecordSynthesis(ctx, outcome, elapsed)
		o.notify(ctx, req, res, outcome, elapsed, err)
	}()

	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return nil, ErrEmptyText
	}
	if req.VoiceProfile.AvatarID == "" {
		req.VoiceProfile.AvatarID = req.AvatarID
	}
	if err := req.VoiceProfile.Validate(); err != nil {
		return nil, err
	}
	req.VoiceProfile.EmotionalTone = req.VoiceProfile.EmotionalTone.Normalized()

	key := cache.Key(req.AvatarID, req.Text, req.VoiceProfile)
	span.SetAttributes(attribute.String("cache.key", key))

	if res, ok := o.fromCache(ctx, key, req); ok {
		outcome = OutcomeHit
		return res, nil
	}

	for {
		flightCtx, leave := o.waiting.join(ctx, key)
		ch := o.flights.DoChan(key, func() (any, error) {
			return o.produce(flightCtx, key, req)
		})
		select {
		case <-ctx.Done():
			leave()
			outcome = OutcomeCancelled
			return nil, ctx.Err()
		case r := <-ch:
			leave()
			if errors.Is(r.Err, errAbandoned) && ctx.Err() == nil {
				continue
			}
			f, _ := r.Val.(*flight)
			if f != nil {
				outcome = f.outcome
			}
			if r.Err != nil {
				if outcome == "" || outcome == OutcomeInvalid {
					outcome = OutcomeCancelled
				}
				return nil, r.Err
			}
			return f.result(key, o.tracker), nil
		}
	}
}

// fromCache serves req from the cache. Remote audio is returned as a new
// share; spoken entries are replayed through the local engine, and a replay
// failure falls through to the remote path.
func (o *Orchestrator) fromCache(ctx context.Context, key string, req types.SynthesisRequest) (*Result, bool) {
	if o.cache == nil {
		return nil, false
	}
	e, ok := o.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	res := &Result{
		Handle:       e.Handle,
		Duration:     e.Duration,
		Format:       e.Format,
		UsedFallback: e.UsedFallback,
		FromCache:    true,
		CacheKey:     key,
	}
	if e.Format != types.FormatSpoken {
		return res, true
	}
	if _, err := o.local.Speak(ctx, req.Text, req.VoiceProfile); err != nil {
		observe.Logger(ctx).Warn("speech: replay of cached fallback failed", "error", err)
		_ = res.Release()
		return nil, false
	}
	return res, true
}

// produce runs one coalesced miss under the flight context, which is
// cancelled only once every waiting caller has left. The remote call, format
// resolution and cache store are detached even from that so they run to
// completion or their own timeouts; local playback stops with the flight.
func (o *Orchestrator) produce(ctx context.Context, key string, req types.SynthesisRequest) (*flight, error) {
	log := observe.Logger(ctx).With("cache_key", key)
	detached := context.WithoutCancel(ctx)

	raw, remoteErr := o.remote.Synthesize(detached, req)
	if remoteErr == nil {
		return o.resolveRemote(detached, key, req, raw)
	}

	reason := ""
	switch {
	case errors.Is(remoteErr, resilience.ErrCircuitOpen):
		reason = "circuit_open"
	case errors.Is(remoteErr, tts.ErrQuotaExceeded):
		reason = "quota"
	case o.cfg.FallbackOnTransportError:
		reason = "transport"
	default:
		log.Warn("speech: remote synthesis failed", "provider", o.remote.Name(), "error", remoteErr)
		return &flight{outcome: OutcomeTransportError}, fmt.Errorf("speech: remote synthesis: %w", remoteErr)
	}

	log.Info("speech: falling back to local engine", "reason", reason, "error", remoteErr)
	o.metrics.RecordFallback(ctx, reason)
	spoken, localErr := o.local.Speak(ctx, req.Text, req.VoiceProfile)
	if localErr != nil {
		if ctx.Err() != nil {
			return &flight{outcome: OutcomeCancelled}, fmt.Errorf("%w: %w", errAbandoned, ctx.Err())
		}
		log.Error("speech: local fallback failed", "error", localErr)
		return &flight{outcome: OutcomeTotalFailure}, fmt.Errorf("%w: %w", ErrTotalFailure, errors.Join(remoteErr, localErr))
	}

	d := spoken
	if d <= 0 {
		d = local.EstimateDuration(req.Text, req.VoiceProfile.SpeakingRate)
	}
	f := &flight{outcome: OutcomeFallback, format: types.FormatSpoken, duration: d, usedFallback: true}
	o.store(ctx, key, f)
	return f, nil
}

func (o *Orchestrator) resolveRemote(ctx context.Context, key string, req types.SynthesisRequest, raw tts.RawAudio) (*flight, error) {
	resolution, err := o.resolver.Resolve(ctx, raw.Data, raw.MIMEType)
	if err != nil {
		observe.Logger(ctx).Warn("speech: provider audio unresolvable",
			"bytes", len(raw.Data), "mime", raw.MIMEType, "error", err)
		return &flight{outcome: OutcomeFormatError}, fmt.Errorf("speech: %w", err)
	}
	o.metrics.RecordFormatResolution(ctx, string(resolution.Strategy), string(resolution.Format))

	defer resolution.Handle.Release()
	data, err := resolution.Handle.Bytes()
	if err != nil {
		return &flight{outcome: OutcomeFormatError}, fmt.Errorf("speech: %w", err)
	}

	d := resolution.Duration
	if d <= 0 {
		d = local.EstimateDuration(req.Text, req.VoiceProfile.SpeakingRate)
	}
	f := &flight{
		outcome:  OutcomeRemote,
		data:     data,
		format:   resolution.Format,
		duration: d,
		strategy: resolution.Strategy,
	}
	o.store(ctx, key, f)
	return f, nil
}

// store caches f. Cache failures are logged and otherwise ignored.
func (o *Orchestrator) store(ctx context.Context, key string, f *flight) {
	if o.cache == nil {
		return
	}
	h := audio.NewHandle(f.data, f.format, o.tracker)
	defer h.Release()
	if err := o.cache.Put(ctx, key, h, f.duration, f.usedFallback); err != nil {
		observe.Logger(ctx).Warn("speech: cache store failed", "cache_key", key, "error", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, req types.SynthesisRequest, res *Result, outcome string, elapsed time.Duration, err error) {
	e := analytics.Event{
		Type:           analytics.TypeSynthesis,
		AvatarID:       req.AvatarID,
		ConversationID: req.ConversationID,
		CorrelationID:  observe.CorrelationID(ctx),
		Outcome:        outcome,
		LatencyMs:      elapsed.Milliseconds(),
	}
	if res != nil {
		e.CacheKey = res.CacheKey
		e.UsedFallback = res.UsedFallback
		e.FromCache = res.FromCache
		e.Format = string(res.Format)
		e.DurationMs = res.Duration.Milliseconds()
	}
	if err != nil {
		e.Error = err.Error()
	}
	o.notifier.Notify(e)
}
