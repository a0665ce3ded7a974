package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/avatarvox/pkg/provider/tts"
	"github.com/MrWong99/avatarvox/pkg/types"
)

func testRequest() types.SynthesisRequest {
	return types.SynthesisRequest{
		Text:     "Mind the gap.",
		AvatarID: "conductor",
		VoiceProfile: types.VoiceProfile{
			AvatarID:          "conductor",
			VoiceIdentifier:   "onyx",
			LanguageCode:      "en-GB",
			SpeakingRate:      1.25,
			EmotionalTone:     types.ToneSerious,
			StyleInstructions: "Announce it over a station tannoy.",
			Accent:            "London",
		},
	}
}

func newServer(t *testing.T, h http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL + "/v1/"
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := New("k", "", WithResponseFormat("ogg")); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestSynthesize_Success(t *testing.T) {
	var body map[string]any
	base := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3fake-mp3"))
	})

	p, err := New("sk-test", "", WithBaseURL(base), WithResponseFormat("mp3"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	raw, err := p.Synthesize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(raw.Data) != "ID3fake-mp3" || raw.MIMEType != "audio/mpeg" {
		t.Errorf("raw = %q (%s)", raw.Data, raw.MIMEType)
	}

	checks := map[string]any{
		"input":           "Mind the gap.",
		"model":           DefaultModel,
		"voice":           "onyx",
		"response_format": "mp3",
		"speed":           1.25,
		"instructions":    "Announce it over a station tannoy. Tone: serious. Accent: London.",
	}
	for k, want := range checks {
		if body[k] != want {
			t.Errorf("body[%q] = %v, want %v", k, body[k], want)
		}
	}
}

func TestSynthesize_PCMHint(t *testing.T) {
	base := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(make([]byte, 480))
	})
	p, _ := New("k", "", WithBaseURL(base), WithResponseFormat("pcm"))
	raw, err := p.Synthesize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if raw.MIMEType != pcmMIME {
		t.Errorf("mime = %q, want %q", raw.MIMEType, pcmMIME)
	}
}

func TestSynthesize_LegacyModelOmitsInstructions(t *testing.T) {
	var body map[string]any
	base := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte("RIFF"))
	})
	p, _ := New("k", "tts-1", WithBaseURL(base))
	if _, err := p.Synthesize(context.Background(), testRequest()); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if _, ok := body["instructions"]; ok {
		t.Error("tts-1 must not receive instructions")
	}
}

func TestSynthesize_Classification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantQuota bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`, true},
		{"insufficient quota", http.StatusTooManyRequests, `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`, true},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`, false},
		{"bad request", http.StatusBadRequest, `{"error":{"message":"voice unknown","type":"invalid_request_error"}}`, false},
		{"server error", http.StatusBadGateway, `upstream`, false},
		{"empty audio", http.StatusOK, ``, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			p, _ := New("k", "", WithBaseURL(base))
			_, err := p.Synthesize(context.Background(), testRequest())
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, tts.ErrQuotaExceeded); got != tt.wantQuota {
				t.Errorf("quota = %v, want %v (err %v)", got, tt.wantQuota, err)
			}
			if !tt.wantQuota && !errors.Is(err, tts.ErrTransport) {
				t.Errorf("err = %v, want ErrTransport", err)
			}
		})
	}
}

func TestInstructions_Neutral(t *testing.T) {
	if got := instructions(types.VoiceProfile{}); got != "" {
		t.Errorf("instructions = %q, want empty", got)
	}
}
