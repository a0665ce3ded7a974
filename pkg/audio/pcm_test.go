package audio_test

import (
	"testing"

	"github.com/MrWong99/avatarvox/pkg/audio"
)

func TestPCMPredicates(t *testing.T) {
	t.Run("parity", func(t *testing.T) {
		if got := audio.ParityScore(make([]byte, 64)); got != 1 {
			t.Errorf("even length score = %v, want 1", got)
		}
		if got := audio.ParityScore(make([]byte, 65)); got != 0 {
			t.Errorf("odd length score = %v, want 0", got)
		}
	})

	t.Run("clustering", func(t *testing.T) {
		if got := audio.ClusteringScore(nearMidpoint(1024)); got != 1 {
			t.Errorf("unsigned 8-bit near midpoint = %v, want 1", got)
		}
		if got := audio.ClusteringScore(sinePCM(512)); got != 1 {
			t.Errorf("quiet signed 16-bit = %v, want 1", got)
		}
		if got := audio.ClusteringScore(opaqueBytes(4096)); got > 0.5 {
			t.Errorf("uniform bytes = %v, want <= 0.5", got)
		}
	})

	t.Run("non-text", func(t *testing.T) {
		if got := audio.NonTextScore([]byte(`{"error":{"code":429,"status":"RESOURCE_EXHAUSTED"}}`)); got != 0 {
			t.Errorf("json body = %v, want 0", got)
		}
		if got := audio.NonTextScore(nearMidpoint(32)); got != 1 {
			t.Errorf("high bytes = %v, want 1", got)
		}
	})
}

func TestPCMScore(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantMin float64
		wantMax float64
	}{
		{name: "too short", data: nearMidpoint(63), wantMin: 0, wantMax: 0},
		{name: "quiet 16-bit pcm", data: sinePCM(1000), wantMin: 0.99, wantMax: 1},
		{name: "near midpoint", data: nearMidpoint(2000), wantMin: 0.99, wantMax: 1},
		{name: "opaque odd length", data: opaqueBytes(1001), wantMin: 0, wantMax: audio.DefaultPCMThreshold},
		{name: "text", data: []byte("The quick brown fox jumps over the lazy dog again and again and again."), wantMin: 0, wantMax: 0.65},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := audio.PCMScore(tt.data, audio.PCMPredicates)
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("PCMScore = %v, want in [%v, %v]", got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestPCMFormatFromMIME(t *testing.T) {
	def := audio.DefaultPCMFormat
	tests := []struct {
		mime string
		want audio.PCMFormat
	}{
		{"", def},
		{"audio/mpeg", def},
		{"audio/L16;codec=pcm;rate=16000", audio.PCMFormat{SampleRate: 16000, Channels: 1, BitsPerSample: 16}},
		{"audio/L16;rate=48000;channels=2", audio.PCMFormat{SampleRate: 48000, Channels: 2, BitsPerSample: 16}},
		{"audio/pcm;rate=abc", def},
		{"audio/L16;rate=12", def},
		{"not a mime type;;", def},
	}
	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			if got := audio.PCMFormatFromMIME(tt.mime, def); got != tt.want {
				t.Errorf("PCMFormatFromMIME(%q) = %+v, want %+v", tt.mime, got, tt.want)
			}
		})
	}
}
