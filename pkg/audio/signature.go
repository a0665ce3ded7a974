package audio

import (
	"bytes"

	"github.com/MrWong99/avatarvox/pkg/types"
)

// signature pairs a container format with a predicate over leading bytes.
type signature struct {
	format types.ContentFormat
	match  func(data []byte) bool
}

// signatures is evaluated in order. Formats with explicit magic bytes come
// before MP3, whose frame sync is the weakest signal.
var signatures = []signature{
	{types.FormatWAV, isWAV},
	{types.FormatOGG, isOgg},
	{types.FormatFLAC, isFLAC},
	{types.FormatMP4, isMP4},
	{types.FormatMP3, isMP3},
}

// Sniff identifies the container of data from its leading bytes. It returns
// false when no known signature matches.
func Sniff(data []byte) (types.ContentFormat, bool) {
	for _, s := range signatures {
		if s.match(data) {
			return s.format, true
		}
	}
	return "", false
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

func isOgg(data []byte) bool {
	// Capture pattern followed by stream structure version 0.
	return len(data) >= 5 && string(data[0:4]) == "OggS" && data[4] == 0
}

func isFLAC(data []byte) bool {
	return len(data) >= 4 && string(data[0:4]) == "fLaC"
}

func isMP4(data []byte) bool {
	return len(data) >= 12 && string(data[4:8]) == "ftyp"
}

func isMP3(data []byte) bool {
	if len(data) >= 10 && string(data[0:3]) == "ID3" {
		return true
	}
	return validFrameRun(data, 0)
}

// MPEG audio header tables. Bitrate rows are indexed by the layer bits
// (3 = Layer I, 2 = Layer II, 1 = Layer III). Index 0 (free format) and 15 are
// invalid and are stored as 0.
var (
	bitratesV1 = [4][16]int{
		3: {0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448, 0},
		2: {0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384, 0},
		1: {0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0},
	}
	bitratesV2 = [4][16]int{
		3: {0, 32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256, 0},
		2: {0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0},
		1: {0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0},
	}
	sampleRates = [4][3]int{
		0: {11025, 12000, 8000},  // MPEG 2.5
		2: {22050, 24000, 16000}, // MPEG 2
		3: {44100, 48000, 32000}, // MPEG 1
	}
)

// mpegHeader is a decoded MPEG audio frame header.
type mpegHeader struct {
	version    int // 0 = 2.5, 2 = 2, 3 = 1
	layer      int // 1 = III, 2 = II, 3 = I
	bitrate    int // kbit/s
	sampleRate int
	mono       bool
	frameLen   int
}

// parseMPEGHeader validates the 4-byte frame header at the start of b.
func parseMPEGHeader(b []byte) (mpegHeader, bool) {
	if len(b) < 4 || b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return mpegHeader{}, false
	}
	h := mpegHeader{
		version: int(b[1]>>3) & 0x03,
		layer:   int(b[1]>>1) & 0x03,
	}
	if h.version == 1 || h.layer == 0 {
		return mpegHeader{}, false
	}
	brIdx := int(b[2] >> 4)
	srIdx := int(b[2]>>2) & 0x03
	if srIdx == 3 {
		return mpegHeader{}, false
	}
	if h.version == 3 {
		h.bitrate = bitratesV1[h.layer][brIdx]
	} else {
		h.bitrate = bitratesV2[h.layer][brIdx]
	}
	if h.bitrate == 0 {
		return mpegHeader{}, false
	}
	h.sampleRate = sampleRates[h.version][srIdx]
	h.mono = b[3]>>6 == 3
	padding := int(b[2]>>1) & 0x01

	switch {
	case h.layer == 3:
		h.frameLen = (12*h.bitrate*1000/h.sampleRate + padding) * 4
	case h.layer == 1 && h.version != 3:
		h.frameLen = 72*h.bitrate*1000/h.sampleRate + padding
	default:
		h.frameLen = 144*h.bitrate*1000/h.sampleRate + padding
	}
	return h, h.frameLen > 4
}

// validFrameRun reports whether a valid MPEG frame header sits at offset and,
// when the buffer is long enough to hold the next frame, whether that frame's
// header is valid too.
func validFrameRun(data []byte, offset int) bool {
	h, ok := parseMPEGHeader(data[offset:])
	if !ok {
		return false
	}
	next := offset + h.frameLen
	if next+4 > len(data) {
		return true
	}
	_, ok = parseMPEGHeader(data[next:])
	return ok
}

// findMPEGSync returns the offset of the first run of two consecutive valid
// MPEG frames in data, or -1.
func findMPEGSync(data []byte) int {
	for i := 0; i+4 <= len(data); {
		j := bytes.IndexByte(data[i:], 0xFF)
		if j < 0 {
			return -1
		}
		i += j
		if h, ok := parseMPEGHeader(data[i:]); ok && i+h.frameLen+4 <= len(data) {
			if _, ok := parseMPEGHeader(data[i+h.frameLen:]); ok {
				return i
			}
		}
		i++
	}
	return -1
}
