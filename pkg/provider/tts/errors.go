package tts

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaExceeded marks a provider signalling rate or resource
	// exhaustion (HTTP 429, RESOURCE_EXHAUSTED, quota error codes).
	ErrQuotaExceeded = errors.New("tts: quota exceeded")

	// ErrTransport marks every other provider failure: network errors,
	// authentication failures, non-success statuses, and malformed or
	// audio-less responses.
	ErrTransport = errors.New("tts: transport error")
)

// Kind is the classification of a provider failure.
type Kind int

const (
	KindTransport Kind = iota
	KindQuota
)

// String returns the metric label for k.
func (k Kind) String() string {
	if k == KindQuota {
		return "quota"
	}
	return "transport"
}

// Error is a classified provider failure.
type Error struct {
	// Provider is the Name of the failing provider.
	Provider string

	// Kind is the failure classification.
	Kind Kind

	// StatusCode is the HTTP status observed, or 0.
	StatusCode int

	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

// Unwrap exposes both the classification sentinel and the cause to
// [errors.Is] and [errors.As].
func (e *Error) Unwrap() []error {
	sentinel := ErrTransport
	if e.Kind == KindQuota {
		sentinel = ErrQuotaExceeded
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// Quota returns a quota classification for provider.
func Quota(provider string, status int, err error) error {
	return &Error{Provider: provider, Kind: KindQuota, StatusCode: status, Err: err}
}

// Transport returns a transport classification for provider.
func Transport(provider string, status int, err error) error {
	return &Error{Provider: provider, Kind: KindTransport, StatusCode: status, Err: err}
}

// KindOf returns the classification carried by err. Errors without a
// classification report [KindTransport].
func KindOf(err error) Kind {
	if errors.Is(err, ErrQuotaExceeded) {
		return KindQuota
	}
	return KindTransport
}
