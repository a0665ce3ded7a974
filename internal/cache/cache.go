// Package cache stores previously synthesized speech so that repeated lines
// are served without another provider call.
//
// The in-memory store is bounded and evicts strictly in insertion order. Every
// entry owns one [audio.Handle]; the handle is released when the entry is
// evicted, expires, is replaced, or the cache is closed. Callers never receive
// the cache's own handle: [Cache.Get] returns a fresh share that the caller
// must release.
//
// An optional [RedisTier] persists non-fallback entries across restarts.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/MrWong99/avatarvox/internal/observe"
	"github.com/MrWong99/avatarvox/pkg/audio"
	"github.com/MrWong99/avatarvox/pkg/types"
)

// ErrClosed is returned by [Cache.Put] after [Cache.Close].
var ErrClosed = errors.New("cache: closed")

// Eviction reasons reported to metrics and logs.
const (
	ReasonCapacity = "capacity"
	ReasonExpired  = "expired"
	ReasonReplaced = "replaced"
	ReasonClosed   = "closed"
)

// Config bounds the in-memory store.
type Config struct {
	// MaxEntries is the maximum number of live entries. Must be positive.
	MaxEntries int

	// TTL is the lifetime of entries produced by a remote provider.
	TTL time.Duration

	// FallbackTTL is the lifetime of entries produced by the local engine.
	// Zero means TTL.
	FallbackTTL time.Duration

	// SweepInterval is how often [Cache.Run] purges expired entries.
	SweepInterval time.Duration
}

// Entry is one cached synthesis result.
type Entry struct {
	Key          string
	Handle       *audio.Handle
	Duration     time.Duration
	Format       types.ContentFormat
	UsedFallback bool
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

func (e *Entry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Option configures a [Cache].
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithTracker attributes handles hydrated from the Redis tier to t.
func WithTracker(t *audio.Tracker) Option {
	return func(c *Cache) { c.tracker = t }
}

// WithRedis enables the persistent tier.
func WithRedis(r *RedisTier) Option {
	return func(c *Cache) { c.redis = r }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// Cache is a bounded, TTL-aware speech cache. It is safe for concurrent use.
type Cache struct {
	cfg     Config
	now     func() time.Time
	tracker *audio.Tracker
	redis   *RedisTier
	metrics *observe.Metrics

	mu     sync.Mutex
	lru    *simplelru.LRU[string, *Entry]
	reason string // consumed by onEvict; guarded by mu
	closed bool
}

// New creates a cache bounded by cfg.
func New(cfg Config, opts ...Option) (*Cache, error) {
	if cfg.MaxEntries <= 0 {
		return nil, fmt.Errorf("cache: max entries must be positive, got %d", cfg.MaxEntries)
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("cache: ttl must be positive, got %v", cfg.TTL)
	}
	if cfg.FallbackTTL <= 0 {
		cfg.FallbackTTL = cfg.TTL
	}
	c := &Cache{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	lru, err := simplelru.NewLRU[string, *Entry](cfg.MaxEntries, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	c.lru = lru
	return c, nil
}

// onEvict runs under c.mu for every entry leaving the store.
func (c *Cache) onEvict(key string, e *Entry) {
	reason := c.reason
	if reason == "" {
		reason = ReasonCapacity
	}
	if err := e.Handle.Release(); err != nil {
		slog.Warn("cache: release evicted handle", "key", key, "error", err)
	}
	ctx := context.Background()
	c.metrics.RecordCacheEviction(ctx, reason)
	c.metrics.CacheEntries.Add(ctx, -1)
	slog.Debug("cache: entry evicted", "key", key, "reason", reason)
}

// removeLocked removes key with the given reason. Caller holds c.mu.
func (c *Cache) removeLocked(key, reason string) {
	c.reason = reason
	c.lru.Remove(key)
	c.reason = ""
}

// Get returns the live entry for key. The returned entry's Handle is a new
// share owned by the caller. Expired entries are misses. On a memory miss the
// Redis tier, if any, is consulted and a hit is promoted into memory.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool) {
	if e, ok := c.getMemory(ctx, key); ok {
		return e, true
	}
	if c.redis == nil {
		return Entry{}, false
	}
	return c.hydrate(ctx, key)
}

func (c *Cache) getMemory(ctx context.Context, key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Peek(key)
	if ok && e.expired(c.now()) {
		c.removeLocked(key, ReasonExpired)
		ok = false
	}
	if !ok {
		c.metrics.RecordCacheLookup(ctx, "memory", false)
		return Entry{}, false
	}
	h, err := e.Handle.Share()
	if err != nil {
		// An entry whose handle was released behind our back is unusable.
		slog.Warn("cache: stale handle", "key", key, "error", err)
		c.removeLocked(key, ReasonExpired)
		c.metrics.RecordCacheLookup(ctx, "memory", false)
		return Entry{}, false
	}
	c.metrics.RecordCacheLookup(ctx, "memory", true)
	out := *e
	out.Handle = h
	return out, true
}

func (c *Cache) hydrate(ctx context.Context, key string) (Entry, bool) {
	rec, ok, err := c.redis.Load(ctx, key)
	if err != nil {
		slog.Warn("cache: redis lookup failed", "key", key, "error", err)
	}
	c.metrics.RecordCacheLookup(ctx, "redis", ok)
	if !ok {
		return Entry{}, false
	}
	if !c.now().Before(rec.ExpiresAt) {
		return Entry{}, false
	}

	// A hydrated entry joins the newest end of the eviction order, so it is
	// stamped as created now. Its expiry stays that of the shared record.
	h := audio.NewHandle(rec.Data, rec.Format, c.tracker)
	defer h.Release()
	if err := c.store(key, h, rec.Duration, false, c.now(), rec.ExpiresAt); err != nil {
		return Entry{}, false
	}
	return c.getMemory(ctx, key)
}

// Put stores a share of h under key. The caller keeps ownership of h. Entries
// produced by the local engine use the fallback TTL and are never written to
// the Redis tier.
func (c *Cache) Put(ctx context.Context, key string, h *audio.Handle, d time.Duration, usedFallback bool) error {
	now := c.now()
	ttl := c.cfg.TTL
	if usedFallback {
		ttl = c.cfg.FallbackTTL
	}
	if err := c.store(key, h, d, usedFallback, now, now.Add(ttl)); err != nil {
		return err
	}

	if c.redis != nil && !usedFallback && h.Format().Playable() {
		data, err := h.Bytes()
		if err != nil {
			return nil
		}
		rec := Record{
			Data:      data,
			Format:    h.Format(),
			Duration:  d,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}
		if err := c.redis.Store(ctx, key, rec, ttl); err != nil {
			slog.Warn("cache: redis store failed", "key", key, "error", err)
		}
	}
	return nil
}

func (c *Cache) store(key string, h *audio.Handle, d time.Duration, usedFallback bool, created, expires time.Time) error {
	own, err := h.Share()
	if err != nil {
		return fmt.Errorf("cache: put %s: %w", key, err)
	}
	e := &Entry{
		Key:          key,
		Handle:       own,
		Duration:     d,
		Format:       h.Format(),
		UsedFallback: usedFallback,
		CreatedAt:    created,
		ExpiresAt:    expires,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = own.Release()
		return ErrClosed
	}
	if c.lru.Contains(key) {
		c.removeLocked(key, ReasonReplaced)
	}
	c.lru.Add(key, e)
	c.metrics.CacheEntries.Add(context.Background(), 1)
	return nil
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if ok && e.expired(now) {
			c.removeLocked(key, ReasonExpired)
			n++
		}
	}
	return n
}

// Run sweeps every SweepInterval until ctx is cancelled. It returns nil when
// no interval is configured.
func (c *Cache) Run(ctx context.Context) error {
	if c.cfg.SweepInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				slog.Debug("cache: swept expired entries", "count", n)
			}
		}
	}
}

// Len returns the number of entries in memory, including expired ones not
// yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Close releases every entry. Later puts fail with [ErrClosed]; later gets
// miss. The Redis tier is left untouched.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.reason = ReasonClosed
	c.lru.Purge()
	c.reason = ""
	return nil
}
