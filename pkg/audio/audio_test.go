package audio_test

import (
	"crypto/sha256"
	"encoding/binary"
)

// buildTestWAV constructs a canonical 44-byte-header WAV around pcm.
func buildTestWAV(pcm []byte, rate, channels int) []byte {
	fmtSize := uint32(16)
	dataSize := uint32(len(pcm))
	fileSize := 4 + (8 + fmtSize) + (8 + dataSize)

	buf := make([]byte, 0, 44+len(pcm))
	le := binary.LittleEndian
	putU32 := func(v uint32) { buf = le.AppendUint32(buf, v) }
	putU16 := func(v uint16) { buf = le.AppendUint16(buf, v) }

	buf = append(buf, "RIFF"...)
	putU32(fileSize)
	buf = append(buf, "WAVE"...)

	buf = append(buf, "fmt "...)
	putU32(fmtSize)
	putU16(1)
	putU16(uint16(channels))
	putU32(uint32(rate))
	putU32(uint32(rate * channels * 2))
	putU16(uint16(channels * 2))
	putU16(16)

	buf = append(buf, "data"...)
	putU32(dataSize)
	buf = append(buf, pcm...)
	return buf
}

// sinePCM returns n samples of a low-amplitude square-ish tone as 16-bit PCM.
func sinePCM(n int) []byte {
	samples := make([]int16, n)
	for i := range samples {
		if (i/20)%2 == 0 {
			samples[i] = 3000
		} else {
			samples[i] = -3000
		}
	}
	return samplesToBytes(samples)
}

// samplesToBytes encodes samples as 16-bit little-endian PCM.
func samplesToBytes(samples []int16) []byte {
	out := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out
}

// nearMidpoint returns n bytes clustered just above 128, as unsigned 8-bit
// PCM near silence would be. None of the bytes are printable ASCII.
func nearMidpoint(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(128 + i%32)
	}
	return out
}

// opaqueBytes returns n pseudo-random bytes from a SHA-256 chain. The first
// byte is forced to zero so no container signature can match.
func opaqueBytes(n int) []byte {
	out := make([]byte, 0, n+sha256.Size)
	sum := sha256.Sum256([]byte("avatarvox"))
	for len(out) < n {
		out = append(out, sum[:]...)
		sum = sha256.Sum256(sum[:])
	}
	out = out[:n]
	out[0] = 0
	return out
}

// mp3Frames returns count silent MPEG-1 Layer III mono frames at 128 kbit/s,
// 44.1 kHz. Each frame is 417 bytes: a 4-byte header followed by zeroed side
// information and main data.
func mp3Frames(count int) []byte {
	const frameLen = 417
	out := make([]byte, 0, count*frameLen)
	for range count {
		frame := make([]byte, frameLen)
		copy(frame, []byte{0xFF, 0xFB, 0x90, 0xC0})
		out = append(out, frame...)
	}
	return out
}
