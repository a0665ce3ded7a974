// Package audio turns buffers of unknown provenance into playable audio.
//
// The central type is [Resolver], which runs an ordered cascade over a raw
// provider payload:
//
//  1. [StrategyPassThrough]: a known container signature is kept as-is.
//  2. [StrategyPCMHeader]: plausible headerless PCM gets a synthesized WAV header.
//  3. [StrategyForcedWrap]: anything else is wrapped in WAV unconditionally.
//  4. [StrategyRepair]: when the prober rejects even the forced wrap, the
//     payload is decoded through an injected [Decoder] and re-encoded as WAV.
//
// Every candidate from strategies 1-3 is checked by a [Prober] under a bounded
// timeout. The resolver never retains the input buffer: every [Handle] it
// returns owns a private copy.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/avatarvox/pkg/types"
)

// ErrFormatUnresolvable is returned when no strategy, including decode-based
// repair, produced a container a player can load.
var ErrFormatUnresolvable = errors.New("audio: format unresolvable")

// Strategy names the cascade step that produced a [Resolution].
type Strategy string

const (
	StrategyPassThrough Strategy = "pass-through"
	StrategyPCMHeader   Strategy = "pcm-header"
	StrategyForcedWrap  Strategy = "forced-wrap"
	StrategyRepair      Strategy = "repair"
)

// Default resolver tuning.
const (
	DefaultPCMThreshold = 0.7
	DefaultProbeTimeout = time.Second
)

// Resolution is the outcome of a successful [Resolver.Resolve].
type Resolution struct {
	// Handle owns a private copy of the playable bytes. The caller must
	// release it.
	Handle *Handle

	// Format is the container of the playable bytes.
	Format types.ContentFormat

	// Strategy is the cascade step that produced the result.
	Strategy Strategy

	// Duration is the measured playback length, or 0 if unknown.
	Duration time.Duration
}

// Option configures a [Resolver].
type Option func(*Resolver)

// WithPCMFormat sets the format assumed for headerless PCM when the caller
// supplies no MIME hint.
func WithPCMFormat(f PCMFormat) Option {
	return func(r *Resolver) { r.pcmFormat = f }
}

// WithPCMThreshold sets the minimum [PCMScore] for the PCM header strategy.
func WithPCMThreshold(t float64) Option {
	return func(r *Resolver) { r.threshold = t }
}

// WithPredicates replaces the scored predicates of the PCM heuristic.
func WithPredicates(p []Predicate) Option {
	return func(r *Resolver) { r.predicates = p }
}

// WithProber replaces the [NativeProber].
func WithProber(p Prober) Option {
	return func(r *Resolver) { r.prober = p }
}

// WithProbeTimeout bounds each probe call.
func WithProbeTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.probeTimeout = d }
}

// WithDecoder replaces the [NativeDecoder] used for repair.
func WithDecoder(d Decoder) Option {
	return func(r *Resolver) { r.decoder = d }
}

// WithTracker counts handles issued by the resolver.
func WithTracker(t *Tracker) Option {
	return func(r *Resolver) { r.tracker = t }
}

// Resolver implements the format cascade. It is safe for concurrent use.
type Resolver struct {
	pcmFormat    PCMFormat
	threshold    float64
	predicates   []Predicate
	prober       Prober
	probeTimeout time.Duration
	decoder      Decoder
	tracker      *Tracker
	tracer       trace.Tracer
}

// NewResolver creates a Resolver with native probing and decoding.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		pcmFormat:    DefaultPCMFormat,
		threshold:    DefaultPCMThreshold,
		predicates:   PCMPredicates,
		prober:       NativeProber{},
		probeTimeout: DefaultProbeTimeout,
		decoder:      NativeDecoder{},
		tracer:       otel.Tracer("github.com/MrWong99/avatarvox/pkg/audio"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve runs the cascade over data. mimeHint is the content type reported by
// the provider, if any; a PCM hint such as "audio/L16;rate=24000" overrides
// the assumed PCM format. Only [ErrFormatUnresolvable] or a context error is
// ever returned.
func (r *Resolver) Resolve(ctx context.Context, data []byte, mimeHint string) (Resolution, error) {
	ctx, span := r.tracer.Start(ctx, "audio.Resolve", trace.WithAttributes(
		attribute.Int("audio.input_bytes", len(data)),
		attribute.String("audio.mime_hint", mimeHint),
	))
	defer span.End()

	res, err := r.resolve(ctx, data, mimeHint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Resolution{}, err
	}
	span.SetAttributes(
		attribute.String("audio.strategy", string(res.Strategy)),
		attribute.String("audio.format", string(res.Format)),
	)
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, data []byte, mimeHint string) (Resolution, error) {
	if len(data) == 0 {
		return Resolution{}, fmt.Errorf("%w: empty payload", ErrFormatUnresolvable)
	}
	pcmFormat := PCMFormatFromMIME(mimeHint, r.pcmFormat)

	// 1. Known signature.
	if format, ok := Sniff(data); ok {
		err := r.probe(ctx, data, format)
		if err == nil {
			return r.accept(data, format, StrategyPassThrough, false), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Resolution{}, ctxErr
		}
		slog.Debug("audio: pass-through rejected by probe", "format", format, "err", err)
	}

	// 2. Headerless PCM. A PCM MIME hint from the provider counts as a
	// confident match regardless of score.
	if IsPCMHint(mimeHint) || PCMScore(data, r.predicates) >= r.threshold {
		wrapped := WrapPCM(data, pcmFormat)
		err := r.probe(ctx, wrapped, types.FormatWAV)
		if err == nil {
			return r.accept(wrapped, types.FormatWAV, StrategyPCMHeader, true), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Resolution{}, ctxErr
		}
		slog.Debug("audio: pcm header rejected by probe", "err", err)
	}

	// 3. Forced wrap. Accepted unless the probe actively rejects it; a probe
	// timeout is not a rejection.
	wrapped := WrapPCM(data, pcmFormat)
	err := r.probe(ctx, wrapped, types.FormatWrappedWAV)
	if err == nil || !errors.Is(err, ErrProbeRejected) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Resolution{}, ctxErr
		}
		return r.accept(wrapped, types.FormatWrappedWAV, StrategyForcedWrap, true), nil
	}
	slog.Debug("audio: forced wrap rejected by probe", "err", err)

	// 4. Decode and re-encode.
	buf, derr := r.decoder.Decode(ctx, data)
	if derr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Resolution{}, ctxErr
		}
		return Resolution{}, fmt.Errorf("%w: %w", ErrFormatUnresolvable, errors.Join(err, derr))
	}
	repaired := WrapPCM(IntBufferBytes(buf), PCMFormat{
		SampleRate:    buf.Format.SampleRate,
		Channels:      buf.Format.NumChannels,
		BitsPerSample: 16,
	})
	if perr := probeWAV(repaired); perr != nil {
		return Resolution{}, fmt.Errorf("%w: repaired output: %w", ErrFormatUnresolvable, perr)
	}
	return r.accept(repaired, types.FormatWAV, StrategyRepair, true), nil
}

// probe runs the prober under the configured timeout. The prober runs on its
// own goroutine so a prober that ignores ctx cannot stall the cascade.
func (r *Resolver) probe(ctx context.Context, data []byte, format types.ContentFormat) error {
	ctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.prober.Probe(ctx, data, format) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("audio: probe %s: %w", format, ctx.Err())
	}
}

// accept builds the resolution. owned reports whether buf was freshly
// allocated by the resolver and may be handed over without copying.
func (r *Resolver) accept(buf []byte, format types.ContentFormat, strategy Strategy, owned bool) Resolution {
	var h *Handle
	if owned {
		h = newHandle(buf, format, r.tracker)
	} else {
		h = NewHandle(buf, format, r.tracker)
	}
	return Resolution{
		Handle:   h,
		Format:   format,
		Strategy: strategy,
		Duration: Duration(buf, format),
	}
}
