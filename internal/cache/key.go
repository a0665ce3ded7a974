package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/MrWong99/avatarvox/pkg/types"
)

// keyVersion is bumped whenever the canonical encoding below changes, so keys
// persisted in the Redis tier by older builds never collide with new ones.
const keyVersion = "avatarvox/speech/v1"

// Key returns the cache digest for one line spoken by avatarID with profile.
//
// The digest is a pure function of its inputs: it covers the avatar, the
// text and every voice parameter that changes the rendered audio. Fields are
// length-prefixed so no two distinct inputs share an encoding.
func Key(avatarID, text string, p types.VoiceProfile) string {
	h := sha256.New()
	field := func(s string) {
		h.Write(strconv.AppendInt(nil, int64(len(s)), 10))
		h.Write([]byte{':'})
		h.Write([]byte(s))
	}
	num := func(f float64) {
		field(strconv.FormatFloat(f, 'g', -1, 64))
	}

	field(keyVersion)
	field(avatarID)
	field(text)
	field(p.VoiceIdentifier)
	field(p.LanguageCode)
	num(p.SpeakingRate)
	num(p.Pitch)
	num(p.VolumeGainDb)
	field(string(p.EmotionalTone.Normalized()))
	field(p.StyleInstructions)
	field(p.Accent)
	return hex.EncodeToString(h.Sum(nil))
}
