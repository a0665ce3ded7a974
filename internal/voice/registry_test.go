package voice_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/avatarvox/internal/config"
	"github.com/MrWong99/avatarvox/internal/voice"
	"github.com/MrWong99/avatarvox/pkg/types"
)

func profile(id string) types.VoiceProfile {
	return types.VoiceProfile{AvatarID: id, VoiceIdentifier: "Kore", LanguageCode: "en-US", SpeakingRate: 1}
}

func TestRegistry_Lookup(t *testing.T) {
	r, err := voice.NewRegistry(profile("sage"), profile("bard"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	p, err := r.Lookup("sage")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if p.AvatarID != "sage" || p.EmotionalTone != types.ToneNeutral {
		t.Errorf("profile = %+v", p)
	}

	if _, err := r.Lookup("ghost"); !errors.Is(err, voice.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	ids := r.IDs()
	if len(ids) != 2 || ids[0] != "bard" || ids[1] != "sage" {
		t.Errorf("IDs = %v, want sorted [bard sage]", ids)
	}
	ids[0] = "mutated"
	if r.IDs()[0] != "bard" {
		t.Error("IDs must return a copy")
	}
}

func TestRegistry_LookupReturnsSnapshot(t *testing.T) {
	r, _ := voice.NewRegistry(profile("sage"))
	p, _ := r.Lookup("sage")
	p.SpeakingRate = 3
	again, _ := r.Lookup("sage")
	if again.SpeakingRate != 1 {
		t.Error("mutating a looked-up profile changed the registry")
	}
}

func TestNewRegistry_Rejects(t *testing.T) {
	outOfRange := profile("fast")
	outOfRange.SpeakingRate = 4.5

	badGain := profile("loud")
	badGain.VolumeGainDb = 20

	_, err := voice.NewRegistry(profile("sage"), profile("sage"), outOfRange, badGain)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, voice.ErrDuplicateID) {
		t.Errorf("err = %v, want ErrDuplicateID", err)
	}
	if !errors.Is(err, types.ErrInvalidProfile) {
		t.Errorf("err = %v, want ErrInvalidProfile", err)
	}
}

func TestNewRegistry_BoundaryValuesAccepted(t *testing.T) {
	p := profile("edge")
	p.SpeakingRate = types.MaxSpeakingRate
	p.Pitch = types.MinPitch
	p.VolumeGainDb = types.MaxVolumeGainDb
	if _, err := voice.NewRegistry(p); err != nil {
		t.Errorf("boundary values rejected: %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	r, err := voice.FromConfig([]config.AvatarConfig{
		{ID: "sage", VoiceID: "Kore", Language: "en-US", Tone: types.ToneCalm},
	})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	p, err := r.Lookup("sage")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if p.SpeakingRate != 1 || p.EmotionalTone != types.ToneCalm || p.VoiceIdentifier != "Kore" {
		t.Errorf("profile = %+v", p)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}
