package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/avatarvox/pkg/types"
)

// Hash fields of a persisted entry.
const (
	fieldAudio     = "audio"
	fieldFormat    = "format"
	fieldDuration  = "duration_ms"
	fieldCreatedAt = "created_at"
	fieldExpiresAt = "expires_at"
)

// Record is the persisted form of an [Entry].
type Record struct {
	Data      []byte
	Format    types.ContentFormat
	Duration  time.Duration
	CreatedAt time.Time
	ExpiresAt time.Time
}

// RedisTier persists cache entries as Redis hashes with a key expiry.
type RedisTier struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisTier wraps client. Keys are stored as prefix+digest.
func NewRedisTier(client redis.UniversalClient, prefix string) *RedisTier {
	return &RedisTier{client: client, prefix: prefix}
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (t *RedisTier) key(digest string) string {
	return t.prefix + digest
}

// Store writes rec under digest and expires it after ttl.
func (t *RedisTier) Store(ctx context.Context, digest string, rec Record, ttl time.Duration) error {
	k := t.key(digest)
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, map[string]any{
			fieldAudio:     rec.Data,
			fieldFormat:    string(rec.Format),
			fieldDuration:  rec.Duration.Milliseconds(),
			fieldCreatedAt: rec.CreatedAt.UnixMilli(),
			fieldExpiresAt: rec.ExpiresAt.UnixMilli(),
		})
		pipe.PExpire(ctx, k, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: redis store: %w", err)
	}
	return nil
}

// Load reads the record for digest. A missing key is reported as ok=false
// with a nil error.
func (t *RedisTier) Load(ctx context.Context, digest string) (Record, bool, error) {
	fields, err := t.client.HGetAll(ctx, t.key(digest)).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("cache: redis load: %w", err)
	}
	if len(fields) == 0 {
		return Record{}, false, nil
	}

	rec := Record{
		Data:   []byte(fields[fieldAudio]),
		Format: types.ContentFormat(fields[fieldFormat]),
	}
	if !rec.Format.Playable() || len(rec.Data) == 0 {
		return Record{}, false, fmt.Errorf("cache: redis record %s is incomplete", digest)
	}
	ms := func(name string) (int64, error) {
		v, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cache: redis record %s: field %s: %w", digest, name, err)
		}
		return v, nil
	}
	dur, err := ms(fieldDuration)
	if err != nil {
		return Record{}, false, err
	}
	created, err := ms(fieldCreatedAt)
	if err != nil {
		return Record{}, false, err
	}
	expires, err := ms(fieldExpiresAt)
	if err != nil {
		return Record{}, false, err
	}
	rec.Duration = time.Duration(dur) * time.Millisecond
	rec.CreatedAt = time.UnixMilli(created)
	rec.ExpiresAt = time.UnixMilli(expires)
	return rec, true, nil
}

// Ping reports whether the tier is reachable.
func (t *RedisTier) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}
