package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// ErrUndecodable is returned by a [Decoder] that found no audio stream it can
// decode in the input.
var ErrUndecodable = errors.New("audio: no decodable stream")

// Decoder turns an encoded buffer into normalized 16-bit PCM samples. It is
// the last-resort capability of the resolver's repair strategy.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (*goaudio.IntBuffer, error)
}

// NativeDecoder decodes WAV through go-audio/wav and MP3 through go-mp3,
// including MP3 streams that follow leading junk or sit inside a mislabelled
// WAV data chunk.
type NativeDecoder struct {
	// Target, when non-zero, converts decoded audio to this sample rate and
	// channel count.
	Target Format
}

var _ Decoder = NativeDecoder{}

// Decode implements [Decoder]. Samples in the returned buffer are 16-bit.
func (d NativeDecoder) Decode(ctx context.Context, data []byte) (*goaudio.IntBuffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var errs []error

	if isWAV(data) {
		buf, err := decodeWAV(data)
		if err == nil {
			return d.normalize(buf), nil
		}
		errs = append(errs, fmt.Errorf("wav: %w", err))
		// A WAV wrapper around another container: decode what it carries.
		if info, perr := parseWAV(data); perr == nil {
			data = data[info.DataOffset : info.DataOffset+info.DataLen]
		}
	}

	if off := findMPEGSync(data); off >= 0 {
		buf, err := decodeMP3(ctx, data[off:])
		if err == nil {
			return d.normalize(buf), nil
		}
		errs = append(errs, fmt.Errorf("mp3: %w", err))
	}

	if len(errs) == 0 {
		return nil, ErrUndecodable
	}
	return nil, fmt.Errorf("%w: %w", ErrUndecodable, errors.Join(errs...))
}

// decodeWAV trusts only the fields needed to read samples: the format tag,
// channel count, bit depth and sample rate. Byte rate and block align are
// derived values and are ignored, so a header with those wrong still decodes.
func decodeWAV(data []byte) (*goaudio.IntBuffer, error) {
	info, err := parseWAV(data)
	if err != nil {
		return nil, err
	}
	switch {
	case info.AudioFormat != wavFormatPCM:
		return nil, fmt.Errorf("format tag %#x is not integer PCM", info.AudioFormat)
	case info.Channels <= 0 || info.SampleRate <= 0:
		return nil, fmt.Errorf("implausible layout %dHz/%dch", info.SampleRate, info.Channels)
	}
	switch info.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported bit depth %d", info.BitsPerSample)
	}
	payload := data[info.DataOffset : info.DataOffset+info.DataLen]
	if inner, ok := Sniff(payload); ok {
		return nil, fmt.Errorf("data chunk holds an embedded %s container", inner)
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	if err := dec.Err(); err != nil {
		return nil, err
	}
	if len(buf.Data) == 0 {
		return nil, errors.New("no samples")
	}
	return to16Bit(buf), nil
}

func decodeMP3(ctx context.Context, data []byte) (*goaudio.IntBuffer, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	pcm := make([]byte, 0, max(dec.Length(), 0))
	chunk := make([]byte, 8192)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := dec.Read(chunk)
		pcm = append(pcm, chunk[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if len(pcm) < 4 {
		return nil, errors.New("no samples")
	}
	// go-mp3 always emits 16-bit little-endian stereo.
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 2, SampleRate: dec.SampleRate()},
		Data:           samples,
		SourceBitDepth: 16,
	}, nil
}

// to16Bit rescales buf in place so every sample fits int16.
func to16Bit(buf *goaudio.IntBuffer) *goaudio.IntBuffer {
	switch buf.SourceBitDepth {
	case 8:
		// 8-bit WAV is unsigned.
		for i, v := range buf.Data {
			buf.Data[i] = (v - 128) << 8
		}
	case 24:
		for i, v := range buf.Data {
			buf.Data[i] = v >> 8
		}
	case 32:
		for i, v := range buf.Data {
			buf.Data[i] = v >> 16
		}
	}
	buf.SourceBitDepth = 16
	return buf
}

// normalize applies the optional target conversion.
func (d NativeDecoder) normalize(buf *goaudio.IntBuffer) *goaudio.IntBuffer {
	return Convert(buf, d.Target)
}

// IntBufferBytes serializes a 16-bit buffer as little-endian PCM, clamping
// out-of-range samples.
func IntBufferBytes(buf *goaudio.IntBuffer) []byte {
	out := make([]byte, len(buf.Data)*2)
	for i, v := range buf.Data {
		v = min(max(v, -32768), 32767)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
