package speech

import (
	"time"

	"github.com/MrWong99/avatarvox/pkg/audio"
	"github.com/MrWong99/avatarvox/pkg/types"
)

// Result is a voiced line. The caller owns Handle and must release it once,
// either directly or through [Result.Release].
type Result struct {
	// Handle holds the playable audio. For [types.FormatSpoken] results the
	// line was already rendered by the device engine and the handle is empty.
	Handle *audio.Handle

	// Duration is the measured or estimated playback length. Always > 0.
	Duration time.Duration

	// Format is the container of the audio behind Handle.
	Format types.ContentFormat

	// UsedFallback is true when the local engine voiced the line.
	UsedFallback bool

	// FromCache is true when the result was served from the speech cache.
	FromCache bool

	// CacheKey is the digest the result is cached under.
	CacheKey string
}

// Spoken reports whether the line was rendered directly by the local engine.
func (r *Result) Spoken() bool { return r.Format == types.FormatSpoken }

// Release releases the result's handle. It is safe to call on a nil result.
func (r *Result) Release() error {
	if r == nil || r.Handle == nil {
		return nil
	}
	return r.Handle.Release()
}

// flight is the shared outcome of one coalesced miss. data is immutable and
// never handed out directly: every waiting caller gets its own copy.
type flight struct {
	outcome      string
	data         []byte
	format       types.ContentFormat
	duration     time.Duration
	usedFallback bool
	strategy     audio.Strategy
}

func (f *flight) result(key string, tracker *audio.Tracker) *Result {
	return &Result{
		Handle:       audio.NewHandle(f.data, f.format, tracker),
		Duration:     f.duration,
		Format:       f.format,
		UsedFallback: f.usedFallback,
		CacheKey:     key,
	}
}
