package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/hajimehoshi/go-mp3"

	"github.com/MrWong99/avatarvox/pkg/types"
)

// ErrProbeRejected is wrapped by every error a [Prober] returns for audio a
// standard player would refuse.
var ErrProbeRejected = errors.New("audio: probe rejected payload")

// Prober checks whether a player could load the metadata of a payload.
// Implementations must honour ctx.
type Prober interface {
	Probe(ctx context.Context, data []byte, format types.ContentFormat) error
}

// NativeProber parses container metadata in process.
type NativeProber struct{}

// Probe implements [Prober].
func (NativeProber) Probe(ctx context.Context, data []byte, format types.ContentFormat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	switch format {
	case types.FormatWAV, types.FormatWrappedWAV:
		err = probeWAV(data)
	case types.FormatMP3:
		err = probeMP3(data)
	case types.FormatOGG:
		err = probeOgg(data)
	case types.FormatFLAC:
		_, err = parseStreamInfo(data)
	case types.FormatMP4:
		err = probeMP4(data)
	default:
		err = fmt.Errorf("no probe for format %q", format)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrProbeRejected, format, err)
	}
	return nil
}

func probeWAV(data []byte) error {
	info, err := parseWAV(data)
	if err != nil {
		return err
	}
	if err := checkWAVParams(info); err != nil {
		return err
	}
	if info.DataLen == 0 {
		return errors.New("empty data chunk")
	}
	payload := data[info.DataOffset : info.DataOffset+info.DataLen]
	if inner, ok := Sniff(payload); ok {
		return fmt.Errorf("data chunk holds an embedded %s container", inner)
	}
	return nil
}

func probeMP3(data []byte) error {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return err
	}
	if dec.Length() <= 0 {
		return errors.New("no decodable frames")
	}
	return nil
}

// probeOgg checks the first page header and the codec identification packet.
func probeOgg(data []byte) error {
	if len(data) < 27 || !isOgg(data) {
		return errors.New("truncated page header")
	}
	if data[5]&0x02 == 0 {
		return errors.New("first page is not a beginning-of-stream page")
	}
	segments := int(data[26])
	bodyStart := 27 + segments
	if bodyStart > len(data) {
		return errors.New("truncated segment table")
	}
	body := data[bodyStart:]
	for _, id := range [][]byte{[]byte("\x01vorbis"), []byte("OpusHead"), []byte("\x7fFLAC"), []byte("Speex   ")} {
		if bytes.HasPrefix(body, id) {
			return nil
		}
	}
	return errors.New("unknown codec identification header")
}

func probeMP4(data []byte) error {
	if !isMP4(data) {
		return errors.New("missing ftyp box")
	}
	size := int(binary.BigEndian.Uint32(data[0:4]))
	if size < 16 || size > len(data) || size%4 != 0 {
		return fmt.Errorf("implausible ftyp box size %d", size)
	}
	for _, b := range data[8:12] {
		if b < 0x20 || b > 0x7E {
			return errors.New("major brand is not printable")
		}
	}
	return nil
}

// streamInfo is the subset of a FLAC STREAMINFO block needed for probing and
// duration measurement.
type streamInfo struct {
	SampleRate   int
	Channels     int
	TotalSamples int64
}

func parseStreamInfo(data []byte) (streamInfo, error) {
	const blockStart = 8
	if !isFLAC(data) || len(data) < blockStart+34 {
		return streamInfo{}, errors.New("truncated STREAMINFO block")
	}
	if data[4]&0x7F != 0 {
		return streamInfo{}, errors.New("first metadata block is not STREAMINFO")
	}
	if length := int(data[5])<<16 | int(data[6])<<8 | int(data[7]); length != 34 {
		return streamInfo{}, fmt.Errorf("STREAMINFO length %d, want 34", length)
	}
	b := data[blockStart:]
	// Bytes 10..17 pack sample rate (20 bits), channels-1 (3), bps-1 (5) and
	// total samples (36).
	packed := binary.BigEndian.Uint64(b[10:18])
	si := streamInfo{
		SampleRate:   int(packed >> 44),
		Channels:     int(packed>>41&0x07) + 1,
		TotalSamples: int64(packed & 0xFFFFFFFFF),
	}
	if si.SampleRate == 0 {
		return streamInfo{}, errors.New("STREAMINFO sample rate is zero")
	}
	return si, nil
}

// Duration measures the playback length of data. It returns 0 when the
// container does not expose enough metadata.
func Duration(data []byte, format types.ContentFormat) time.Duration {
	switch format {
	case types.FormatWAV, types.FormatWrappedWAV:
		info, err := parseWAV(data)
		if err != nil || info.ByteRate <= 0 {
			return 0
		}
		return time.Duration(int64(info.DataLen) * int64(time.Second) / int64(info.ByteRate))
	case types.FormatMP3:
		dec, err := mp3.NewDecoder(bytes.NewReader(data))
		if err != nil || dec.Length() <= 0 || dec.SampleRate() <= 0 {
			return 0
		}
		// go-mp3 always emits 16-bit stereo: 4 bytes per sample frame.
		return time.Duration(dec.Length() / 4 * int64(time.Second) / int64(dec.SampleRate()))
	case types.FormatFLAC:
		si, err := parseStreamInfo(data)
		if err != nil || si.TotalSamples == 0 {
			return 0
		}
		return time.Duration(si.TotalSamples * int64(time.Second) / int64(si.SampleRate))
	}
	return 0
}
