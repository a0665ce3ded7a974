package audio

import (
	"fmt"
	"log/slog"
	"math"

	goaudio "github.com/go-audio/audio"
)

// Format is the sample rate and channel count that decoded audio is
// converted to.
type Format struct {
	SampleRate int
	Channels   int
}

// IsZero reports whether f requests no conversion.
func (f Format) IsZero() bool { return f.SampleRate <= 0 || f.Channels <= 0 }

func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	}
	return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
}

// Convert returns buf at the target rate and channel count. buf is returned
// unchanged when it already matches or target is zero. Resampling runs
// before channel mapping so every source channel is interpolated once.
func Convert(buf *goaudio.IntBuffer, target Format) *goaudio.IntBuffer {
	if buf == nil || buf.Format == nil || target.IsZero() {
		return buf
	}
	src := Format{SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels}
	if src == target || src.IsZero() {
		return buf
	}
	slog.Debug("audio: converting decoded stream", "from", src.String(), "to", target.String())

	data := Resample(buf.Data, src.Channels, src.SampleRate, target.SampleRate)
	data = Remix(data, src.Channels, target.Channels)
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: target.Channels, SampleRate: target.SampleRate},
		Data:           data,
		SourceBitDepth: buf.SourceBitDepth,
	}
}

// Resample converts interleaved samples from srcRate to dstRate by linear
// interpolation between neighbouring frames. A trailing partial frame is
// dropped.
func Resample(samples []int, channels, srcRate, dstRate int) []int {
	if channels <= 0 || srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return samples
	}
	srcFrames := len(samples) / channels
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	out := make([]int, dstFrames*channels)
	step := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		pos := float64(i) * step
		cur := int(pos)
		next := min(cur+1, srcFrames-1)
		frac := pos - float64(cur)
		for c := range channels {
			s0 := float64(samples[cur*channels+c])
			s1 := float64(samples[next*channels+c])
			out[i*channels+c] = int(math.Round(s0 + (s1-s0)*frac))
		}
	}
	return out
}

// Remix maps interleaved frames between channel counts. Down-mixing to mono
// averages all source channels; any other mapping repeats source channels in
// order.
func Remix(samples []int, from, to int) []int {
	if from <= 0 || to <= 0 || from == to {
		return samples
	}
	frames := len(samples) / from
	out := make([]int, frames*to)
	for f := range frames {
		frame := samples[f*from : (f+1)*from]
		if to == 1 {
			sum := 0
			for _, v := range frame {
				sum += v
			}
			out[f] = sum / from
			continue
		}
		for c := range to {
			out[f*to+c] = frame[c%from]
		}
	}
	return out
}
