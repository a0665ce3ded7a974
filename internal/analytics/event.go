// Package analytics delivers fire-and-forget interaction notifications.
//
// Producers call [Dispatcher.Notify], which never blocks: events are queued
// on a bounded buffer and delivered to a [Sink] on a background goroutine.
// When the buffer is full the event is dropped. A failing sink never affects
// the producer.
package analytics

import (
	"context"
	"time"
)

// Event types.
const (
	TypeSynthesis = "synthesis"
	TypeDialogue  = "dialogue"
)

// Event describes one completed interaction.
type Event struct {
	Type           string    `json:"type"`
	At             time.Time `json:"at"`
	AvatarID       string    `json:"avatar_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	CorrelationID  string    `json:"correlation_id,omitempty"`
	CacheKey       string    `json:"cache_key,omitempty"`

	// Outcome is a short machine-readable label such as "remote", "hit",
	// "fallback" or "transport_error".
	Outcome      string `json:"outcome"`
	UsedFallback bool   `json:"used_fallback"`
	FromCache    bool   `json:"from_cache"`
	Format       string `json:"format,omitempty"`
	DurationMs   int64  `json:"duration_ms,omitempty"`
	LatencyMs    int64  `json:"latency_ms"`
	Turns        int    `json:"turns,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Notifier accepts events without blocking.
type Notifier interface {
	Notify(Event)
}

// Sink delivers events to an external collaborator.
type Sink interface {
	Deliver(ctx context.Context, e Event) error
}

// Discard is a [Notifier] that drops every event.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(Event) {}
