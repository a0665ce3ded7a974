package audio_test

import (
	"testing"

	"github.com/MrWong99/avatarvox/pkg/audio"
	"github.com/MrWong99/avatarvox/pkg/types"
)

func TestSniff(t *testing.T) {
	flac := append([]byte("fLaC"), make([]byte, 40)...)
	mp4 := append([]byte{0, 0, 0, 0x18}, []byte("ftypM4A ")...)
	mp4 = append(mp4, make([]byte, 16)...)

	tests := []struct {
		name   string
		data   []byte
		want   types.ContentFormat
		wantOK bool
	}{
		{name: "wav", data: buildTestWAV(sinePCM(8), 24000, 1), want: types.FormatWAV, wantOK: true},
		{name: "riff without wave", data: []byte("RIFF\x00\x00\x00\x00AVI LIST"), wantOK: false},
		{name: "ogg", data: []byte("OggS\x00\x02\x00\x00"), want: types.FormatOGG, wantOK: true},
		{name: "flac", data: flac, want: types.FormatFLAC, wantOK: true},
		{name: "mp4", data: mp4, want: types.FormatMP4, wantOK: true},
		{name: "id3 tagged mp3", data: []byte("ID3\x04\x00\x00\x00\x00\x00\x00"), want: types.FormatMP3, wantOK: true},
		{name: "mp3 frame sync", data: mp3Frames(2), want: types.FormatMP3, wantOK: true},
		{name: "frame sync with invalid bitrate", data: []byte{0xFF, 0xFB, 0xF0, 0xC0, 0, 0}, wantOK: false},
		{name: "frame sync with reserved sample rate", data: []byte{0xFF, 0xFB, 0x9C, 0xC0, 0, 0}, wantOK: false},
		{name: "frame sync without a following frame", data: append(mp3Frames(1), 0x00, 0x01, 0x02, 0x03), wantOK: false},
		{name: "text", data: []byte(`{"error":"quota"}`), wantOK: false},
		{name: "empty", data: nil, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := audio.Sniff(tt.data)
			if ok != tt.wantOK {
				t.Fatalf("Sniff ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Sniff = %q, want %q", got, tt.want)
			}
		})
	}
}
