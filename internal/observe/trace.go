package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/avatarvox"

// Tracer returns the avatarvox tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

type speakerKey struct{}

// speaker identifies who a request speaks for. Either field may be empty.
type speaker struct {
	avatarID       string
	conversationID string
}

// WithSpeaker returns a context that carries the avatar and conversation a
// request belongs to. Empty arguments keep the value already present in ctx,
// so a dialogue can set the conversation and each turn adds its avatar.
func WithSpeaker(ctx context.Context, avatarID, conversationID string) context.Context {
	cur, _ := ctx.Value(speakerKey{}).(speaker)
	if avatarID != "" {
		cur.avatarID = avatarID
	}
	if conversationID != "" {
		cur.conversationID = conversationID
	}
	return context.WithValue(ctx, speakerKey{}, cur)
}

// Speaker returns the avatar and conversation stored by [WithSpeaker].
func Speaker(ctx context.Context) (avatarID, conversationID string) {
	s, _ := ctx.Value(speakerKey{}).(speaker)
	return s.avatarID, s.conversationID
}

func speakerAttrs(ctx context.Context) []attribute.KeyValue {
	avatarID, conversationID := Speaker(ctx)
	var attrs []attribute.KeyValue
	if avatarID != "" {
		attrs = append(attrs, attribute.String("avatar.id", avatarID))
	}
	if conversationID != "" {
		attrs = append(attrs, attribute.String("conversation.id", conversationID))
	}
	return attrs
}

// StartSpan starts a span tagged with the speaker stored in ctx. The caller
// ends it, usually through [EndSpan].
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if attrs := speakerAttrs(ctx); len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	return Tracer().Start(ctx, name, opts...)
}

// EndSpan records outcome on span, marks it failed when err is non-nil and
// ends it.
func EndSpan(span trace.Span, outcome string, err error) {
	if outcome != "" {
		span.SetAttributes(attribute.String("outcome", outcome))
	}
	if err != nil {
		span.RecordError(err)
		status := outcome
		if status == "" {
			status = err.Error()
		}
		span.SetStatus(codes.Error, status)
	}
	span.End()
}

// CorrelationID returns the trace ID of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with the trace and speaker
// carried by ctx.
func Logger(ctx context.Context) *slog.Logger {
	var args []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		args = append(args,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	avatarID, conversationID := Speaker(ctx)
	if avatarID != "" {
		args = append(args, slog.String("avatar_id", avatarID))
	}
	if conversationID != "" {
		args = append(args, slog.String("conversation_id", conversationID))
	}
	if len(args) == 0 {
		return slog.Default()
	}
	return slog.Default().With(args...)
}
