package audio

import (
	"bytes"
	"errors"
	"io"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/MrWong99/avatarvox/pkg/types"
)

// ErrReleased is returned when a released [Handle] is read or released again.
var ErrReleased = errors.New("audio: handle already released")

// Tracker counts live handles. It is safe for concurrent use; the zero value
// is ready to use. A nil *Tracker disables counting.
type Tracker struct {
	live atomic.Int64
}

// Live returns the number of handles issued through t that have not been
// released yet.
func (t *Tracker) Live() int64 {
	if t == nil {
		return 0
	}
	return t.live.Load()
}

func (t *Tracker) inc() {
	if t != nil {
		t.live.Add(1)
	}
}

func (t *Tracker) dec() {
	if t != nil {
		t.live.Add(-1)
	}
}

// Handle is an opaque, read-only view of playable audio bytes.
//
// Every handle must be released exactly once. Handles produced by [Handle.Share]
// are independent: releasing one never invalidates another, even though they
// read the same immutable bytes.
//
// Handle is safe for concurrent use.
type Handle struct {
	id       string
	format   types.ContentFormat
	data     []byte
	tracker  *Tracker
	released atomic.Bool
}

// NewHandle copies data into a new handle tagged with format. tracker may be
// nil.
func NewHandle(data []byte, format types.ContentFormat, tracker *Tracker) *Handle {
	return newHandle(bytes.Clone(data), format, tracker)
}

// newHandle takes ownership of data without copying.
func newHandle(data []byte, format types.ContentFormat, tracker *Tracker) *Handle {
	tracker.inc()
	return &Handle{
		id:      uuid.NewString(),
		format:  format,
		data:    data,
		tracker: tracker,
	}
}

// ID returns the unique identifier of this handle.
func (h *Handle) ID() string { return h.id }

// Format returns the container format of the audio.
func (h *Handle) Format() types.ContentFormat { return h.format }

// ContentType returns the MIME type a player should be told.
func (h *Handle) ContentType() string { return h.format.ContentType() }

// Len returns the number of audio bytes behind the handle.
func (h *Handle) Len() int { return len(h.data) }

// Released reports whether Release has been called.
func (h *Handle) Released() bool { return h.released.Load() }

// Bytes returns a copy of the audio bytes.
func (h *Handle) Bytes() ([]byte, error) {
	if h.released.Load() {
		return nil, ErrReleased
	}
	return bytes.Clone(h.data), nil
}

// NewReader returns a reader over the audio bytes without copying them.
func (h *Handle) NewReader() (io.Reader, error) {
	if h.released.Load() {
		return nil, ErrReleased
	}
	return bytes.NewReader(h.data), nil
}

// Share returns a new independent handle over the same bytes. The new handle
// must be released separately.
func (h *Handle) Share() (*Handle, error) {
	if h.released.Load() {
		return nil, ErrReleased
	}
	return newHandle(h.data, h.format, h.tracker), nil
}

// Release invalidates the handle. It succeeds exactly once; later calls
// return [ErrReleased].
func (h *Handle) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	h.tracker.dec()
	return nil
}
