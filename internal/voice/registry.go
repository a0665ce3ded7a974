// Package voice maps avatar identities to their voice profiles.
//
// A [Registry] is built once at startup and is read-only afterwards, so it is
// safe for concurrent use without locking.
package voice

import (
	"errors"
	"fmt"
	"slices"

	"github.com/MrWong99/avatarvox/internal/config"
	"github.com/MrWong99/avatarvox/pkg/types"
)

var (
	// ErrNotFound is returned by [Registry.Lookup] for an unknown avatar.
	ErrNotFound = errors.New("voice: avatar not found")

	// ErrDuplicateID is returned by [NewRegistry] when two profiles share an
	// avatar ID.
	ErrDuplicateID = errors.New("voice: duplicate avatar id")
)

// Registry is an immutable avatar → [types.VoiceProfile] mapping.
type Registry struct {
	profiles map[string]types.VoiceProfile
	ids      []string
}

// NewRegistry validates every profile and returns a registry holding them.
// Out-of-domain values are rejected, never clamped. All problems are reported
// together.
func NewRegistry(profiles ...types.VoiceProfile) (*Registry, error) {
	r := &Registry{profiles: make(map[string]types.VoiceProfile, len(profiles))}
	var errs []error
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, exists := r.profiles[p.AvatarID]; exists {
			errs = append(errs, fmt.Errorf("%w: %q", ErrDuplicateID, p.AvatarID))
			continue
		}
		p.EmotionalTone = p.EmotionalTone.Normalized()
		r.profiles[p.AvatarID] = p
		r.ids = append(r.ids, p.AvatarID)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	slices.Sort(r.ids)
	return r, nil
}

// FromConfig builds a registry from the avatars section of the configuration.
func FromConfig(avatars []config.AvatarConfig) (*Registry, error) {
	profiles := make([]types.VoiceProfile, len(avatars))
	for i, a := range avatars {
		profiles[i] = a.Profile()
	}
	return NewRegistry(profiles...)
}

// Lookup returns a copy of the profile registered for avatarID, or
// [ErrNotFound].
func (r *Registry) Lookup(avatarID string) (types.VoiceProfile, error) {
	p, ok := r.profiles[avatarID]
	if !ok {
		return types.VoiceProfile{}, fmt.Errorf("%w: %q", ErrNotFound, avatarID)
	}
	return p, nil
}

// IDs returns the registered avatar IDs, sorted.
func (r *Registry) IDs() []string {
	return slices.Clone(r.ids)
}

// Len returns the number of registered avatars.
func (r *Registry) Len() int { return len(r.ids) }
