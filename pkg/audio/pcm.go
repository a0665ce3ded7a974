package audio

import (
	"encoding/binary"
	"fmt"
	"mime"
	"strconv"
	"strings"
)

// PCMFormat describes uncompressed little-endian integer PCM.
type PCMFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultPCMFormat is assumed for headerless PCM when the provider gives no
// hint: 24 kHz mono 16-bit, the output format of current generative speech
// models.
var DefaultPCMFormat = PCMFormat{SampleRate: 24000, Channels: 1, BitsPerSample: 16}

// Validate rejects formats that cannot be expressed in a WAV fmt chunk.
func (f PCMFormat) Validate() error {
	if f.SampleRate < 1000 || f.SampleRate > 384000 {
		return fmt.Errorf("audio: sample rate %d out of range", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 8 {
		return fmt.Errorf("audio: channel count %d out of range", f.Channels)
	}
	switch f.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("audio: unsupported bit depth %d", f.BitsPerSample)
	}
	return nil
}

// BlockAlign returns the number of bytes per sample frame.
func (f PCMFormat) BlockAlign() int { return f.Channels * f.BitsPerSample / 8 }

// ByteRate returns the number of bytes per second of audio.
func (f PCMFormat) ByteRate() int { return f.SampleRate * f.BlockAlign() }

// PCMFormatFromMIME derives the PCM format from a provider MIME hint such as
// "audio/L16;codec=pcm;rate=24000". Parameters that are missing or malformed
// fall back to def. Non-PCM media types return def unchanged.
func PCMFormatFromMIME(mimeType string, def PCMFormat) PCMFormat {
	if mimeType == "" {
		return def
	}
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return def
	}
	f := def
	switch mediaType {
	case "audio/l16":
		f.BitsPerSample = 16
	case "audio/l24":
		f.BitsPerSample = 24
	case "audio/l8":
		f.BitsPerSample = 8
	case "audio/pcm", "audio/raw", "audio/x-raw":
	default:
		return def
	}
	if v, err := strconv.Atoi(params["rate"]); err == nil && v > 0 {
		f.SampleRate = v
	}
	if v, err := strconv.Atoi(params["channels"]); err == nil && v > 0 {
		f.Channels = v
	}
	if f.Validate() != nil {
		return def
	}
	return f
}

// IsPCMHint reports whether mimeType names headerless PCM.
func IsPCMHint(mimeType string) bool {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "audio/l") || mediaType == "audio/pcm"
}

// minPCMBytes is the smallest buffer the heuristic will score. Anything
// shorter carries too few samples for a meaningful distribution.
const minPCMBytes = 64

// maxScoredSamples bounds the work done by ClusteringScore on long buffers.
const maxScoredSamples = 4096

// Predicate is one scored component of the raw-PCM heuristic. Score returns a
// value in [0, 1].
type Predicate struct {
	Name   string
	Weight float64
	Score  func(data []byte) float64
}

// PCMPredicates are the default heuristic components. Their weights sum to 1.
var PCMPredicates = []Predicate{
	{Name: "parity", Weight: 0.2, Score: ParityScore},
	{Name: "midpoint-clustering", Weight: 0.5, Score: ClusteringScore},
	{Name: "non-text", Weight: 0.3, Score: NonTextScore},
}

// PCMScore combines predicates into a weighted score in [0, 1]. Buffers
// shorter than 64 bytes always score 0.
func PCMScore(data []byte, predicates []Predicate) float64 {
	if len(data) < minPCMBytes {
		return 0
	}
	var score, total float64
	for _, p := range predicates {
		score += p.Weight * p.Score(data)
		total += p.Weight
	}
	if total == 0 {
		return 0
	}
	return score / total
}

// ParityScore is 1 for an even byte count, which 16-bit PCM always has.
func ParityScore(data []byte) float64 {
	if len(data)%2 == 0 {
		return 1
	}
	return 0
}

// ClusteringScore measures how strongly sample values cluster around the zero
// crossing. It scores both the unsigned 8-bit interpretation (bytes near 128)
// and the signed 16-bit little-endian interpretation (small magnitudes) and
// returns the stronger of the two.
func ClusteringScore(data []byte) float64 {
	stride := 1
	if n := len(data) / 2; n > maxScoredSamples {
		stride = n / maxScoredSamples
	}

	var u8Near, u8Total int
	for i := 0; i < len(data); i += stride {
		d := int(data[i]) - 128
		if d >= -40 && d <= 40 {
			u8Near++
		}
		u8Total++
	}

	var s16Near, s16Total int
	for i := 0; i+1 < len(data); i += 2 * stride {
		s := int16(binary.LittleEndian.Uint16(data[i:]))
		if s > -12000 && s < 12000 {
			s16Near++
		}
		s16Total++
	}

	var u8, s16 float64
	if u8Total > 0 {
		u8 = float64(u8Near) / float64(u8Total)
	}
	if s16Total > 0 {
		s16 = float64(s16Near) / float64(s16Total)
	}
	return max(u8, s16)
}

// NonTextScore is 1 minus the share of printable ASCII among the leading 32
// bytes. Headers and error bodies are text-like; audio samples are not.
func NonTextScore(data []byte) float64 {
	lead := data[:min(len(data), 32)]
	if len(lead) == 0 {
		return 0
	}
	printable := 0
	for _, b := range lead {
		if (b >= 0x20 && b <= 0x7E) || b == '\n' || b == '\r' || b == '\t' {
			printable++
		}
	}
	return 1 - float64(printable)/float64(len(lead))
}
