package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/redis/go-redis/v9"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	Logger *slog.Logger
}

// Deliver implements [Sink].
func (s LogSink) Deliver(ctx context.Context, e Event) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.LogAttrs(ctx, slog.LevelInfo, "interaction",
		slog.String("type", e.Type),
		slog.String("avatar_id", e.AvatarID),
		slog.String("conversation_id", e.ConversationID),
		slog.String("outcome", e.Outcome),
		slog.Bool("used_fallback", e.UsedFallback),
		slog.Bool("from_cache", e.FromCache),
		slog.Int64("latency_ms", e.LatencyMs),
	)
	return nil
}

// RedisSink publishes each event as JSON on a Redis pub/sub channel.
type RedisSink struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisSink creates a sink publishing to channel.
func NewRedisSink(client redis.UniversalClient, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// Deliver implements [Sink].
func (s *RedisSink) Deliver(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("analytics: marshal: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("analytics: publish %s: %w", s.channel, err)
	}
	return nil
}

// FileSink appends events as JSON lines to a local file.
// Thread-safe for concurrent use.
type FileSink struct {
	mu   sync.Mutex
	path string
}

// NewFileSink creates a FileSink that writes to the given path.
// The file is created if it does not exist.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Deliver implements [Sink].
func (fs *FileSink) Deliver(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("analytics: marshal: %w", err)
	}
	data = append(data, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("analytics: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("analytics: write: %w", err)
	}
	return nil
}
