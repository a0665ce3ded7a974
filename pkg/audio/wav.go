package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVHeaderSize is the size of the canonical header written by [WrapPCM]:
// a 12-byte RIFF/WAVE descriptor, a 24-byte fmt chunk and an 8-byte data
// chunk header.
const WAVHeaderSize = 44

const wavFormatPCM = 1

// WrapPCM prepends a canonical 44-byte WAV header describing f to pcm. The
// payload is copied; pcm is not retained. An odd-length payload is padded
// with one zero byte so the data chunk stays word aligned.
func WrapPCM(pcm []byte, f PCMFormat) []byte {
	dataLen := len(pcm)
	padded := dataLen
	if padded%2 != 0 {
		padded++
	}

	buf := make([]byte, WAVHeaderSize+padded)
	le := binary.LittleEndian

	// RIFF chunk descriptor.
	copy(buf[0:4], "RIFF")
	le.PutUint32(buf[4:8], uint32(4+(8+16)+(8+padded)))
	copy(buf[8:12], "WAVE")

	// fmt sub-chunk.
	copy(buf[12:16], "fmt ")
	le.PutUint32(buf[16:20], 16)
	le.PutUint16(buf[20:22], wavFormatPCM)
	le.PutUint16(buf[22:24], uint16(f.Channels))
	le.PutUint32(buf[24:28], uint32(f.SampleRate))
	le.PutUint32(buf[28:32], uint32(f.ByteRate()))
	le.PutUint16(buf[32:34], uint16(f.BlockAlign()))
	le.PutUint16(buf[34:36], uint16(f.BitsPerSample))

	// data sub-chunk.
	copy(buf[36:40], "data")
	le.PutUint32(buf[40:44], uint32(padded))
	copy(buf[WAVHeaderSize:], pcm)
	return buf
}

// wavInfo holds the parameters read from a WAV fmt chunk and the location of
// the data chunk.
type wavInfo struct {
	AudioFormat   int
	Channels      int
	SampleRate    int
	ByteRate      int
	BlockAlign    int
	BitsPerSample int
	DataOffset    int
	DataLen       int
}

// parseWAV walks the RIFF chunks of wav and returns the fmt parameters and the
// data chunk bounds. A data chunk that claims more bytes than are present is
// truncated to what is available.
func parseWAV(wav []byte) (wavInfo, error) {
	if !isWAV(wav) {
		return wavInfo{}, errors.New("audio: missing RIFF/WAVE header")
	}

	var info wavInfo
	foundFmt := false

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || offset+8+16 > len(wav) {
				return wavInfo{}, errors.New("audio: truncated fmt chunk")
			}
			fmtData := wav[offset+8:]
			info.AudioFormat = int(binary.LittleEndian.Uint16(fmtData[0:2]))
			info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			info.ByteRate = int(binary.LittleEndian.Uint32(fmtData[8:12]))
			info.BlockAlign = int(binary.LittleEndian.Uint16(fmtData[12:14]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(fmtData[14:16]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return wavInfo{}, errors.New("audio: data chunk before fmt chunk")
			}
			info.DataOffset = offset + 8
			info.DataLen = min(chunkSize, len(wav)-info.DataOffset)
			return info, nil
		}

		// Chunks are word aligned: pad by one if the size is odd.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return wavInfo{}, errors.New("audio: missing data chunk")
}

// checkWAVParams reports whether the fmt parameters describe a stream a
// standard player can open.
func checkWAVParams(info wavInfo) error {
	switch info.AudioFormat {
	case wavFormatPCM, 3, 0xFFFE: // PCM, IEEE float, extensible
	default:
		return fmt.Errorf("audio: unsupported WAV format tag %#x", info.AudioFormat)
	}
	f := PCMFormat{SampleRate: info.SampleRate, Channels: info.Channels, BitsPerSample: info.BitsPerSample}
	if err := f.Validate(); err != nil {
		return err
	}
	if info.BlockAlign != f.BlockAlign() {
		return fmt.Errorf("audio: block align %d does not match %d", info.BlockAlign, f.BlockAlign())
	}
	if info.ByteRate != f.ByteRate() {
		return fmt.Errorf("audio: byte rate %d does not match %d", info.ByteRate, f.ByteRate())
	}
	return nil
}
