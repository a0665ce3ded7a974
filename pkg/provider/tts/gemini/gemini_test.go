package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/avatarvox/pkg/provider/tts"
	"github.com/MrWong99/avatarvox/pkg/types"
)

func request(text string) types.SynthesisRequest {
	return types.SynthesisRequest{
		Text:     text,
		AvatarID: "sage",
		VoiceProfile: types.VoiceProfile{
			AvatarID:          "sage",
			VoiceIdentifier:   "Puck",
			LanguageCode:      "en-US",
			SpeakingRate:      1,
			EmotionalTone:     types.ToneCalm,
			StyleInstructions: "Whisper like an old librarian.",
		},
	}
}

func newTestProvider(t *testing.T, h http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	p, err := New("test-key", WithBaseURL(srv.URL), WithModel("tts-test"), WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestSynthesize_Success(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6}
	var got generateRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/tts-test:generateContent" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if k := r.Header.Get("x-goog-api-key"); k != "test-key" {
			t.Errorf("api key header = %q", k)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(generateResponse{Candidates: []candidate{{
			Content: content{Parts: []part{{InlineData: &inlineData{
				MIMEType: "audio/L16;codec=pcm;rate=24000",
				Data:     base64.StdEncoding.EncodeToString(pcm),
			}}}},
		}}})
	})

	raw, err := p.Synthesize(context.Background(), request("The archive is closed."))
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(raw.Data) != string(pcm) {
		t.Errorf("data = %v, want %v", raw.Data, pcm)
	}
	if raw.MIMEType != "audio/L16;codec=pcm;rate=24000" {
		t.Errorf("mime = %q", raw.MIMEType)
	}

	cfg := got.GenerationConfig
	if len(cfg.ResponseModalities) != 1 || cfg.ResponseModalities[0] != "AUDIO" {
		t.Errorf("modalities = %v", cfg.ResponseModalities)
	}
	if v := cfg.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; v != "Puck" {
		t.Errorf("voice = %q, want Puck", v)
	}
	if cfg.SpeechConfig.LanguageCode != "en-US" {
		t.Errorf("language = %q", cfg.SpeechConfig.LanguageCode)
	}
	prompt := got.Contents[0].Parts[0].Text
	for _, want := range []string{"Whisper like an old librarian", "sound calm", "The archive is closed."} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt %q missing %q", prompt, want)
		}
	}
}

func TestSynthesize_Classification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantQuota bool
	}{
		{
			name:      "http 429",
			status:    http.StatusTooManyRequests,
			body:      `slow down`,
			wantQuota: true,
		},
		{
			name:      "resource exhausted status",
			status:    http.StatusBadRequest,
			body:      `{"error":{"code":400,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`,
			wantQuota: true,
		},
		{
			name:   "permission denied",
			status: http.StatusForbidden,
			body:   `{"error":{"code":403,"message":"bad key","status":"PERMISSION_DENIED"}}`,
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   `boom`,
		},
		{
			name:   "no audio in response",
			status: http.StatusOK,
			body:   `{"candidates":[{"content":{"parts":[{"text":"I cannot"}]},"finishReason":"SAFETY"}]}`,
		},
		{
			name:   "malformed json",
			status: http.StatusOK,
			body:   `{"candidates":`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := p.Synthesize(context.Background(), request("hi"))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, tts.ErrQuotaExceeded); got != tt.wantQuota {
				t.Errorf("quota = %v, want %v (err %v)", got, tt.wantQuota, err)
			}
			if got := errors.Is(err, tts.ErrTransport); got == tt.wantQuota {
				t.Errorf("transport = %v, want %v (err %v)", got, !tt.wantQuota, err)
			}
		})
	}
}

func TestSynthesize_NetworkFailureIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, _ := New("k", WithBaseURL(url))
	_, err := p.Synthesize(context.Background(), request("hi"))
	if !errors.Is(err, tts.ErrTransport) {
		t.Errorf("err = %v, want ErrTransport", err)
	}
}

func TestBuildPrompt(t *testing.T) {
	plain := types.VoiceProfile{SpeakingRate: 1}
	if got := buildPrompt("Hello.", plain); got != "Hello." {
		t.Errorf("neutral prompt = %q, want bare text", got)
	}
	fast := types.VoiceProfile{SpeakingRate: 1.5, Accent: "Scottish", EmotionalTone: types.ToneExcited}
	got := buildPrompt("Hello.", fast)
	want := "sound excited; use a Scottish accent; speak quickly:\nHello."
	if got != want {
		t.Errorf("prompt = %q, want %q", got, want)
	}
}

func TestDefaultVoice(t *testing.T) {
	p, _ := New("k")
	req := request("x")
	req.VoiceProfile.VoiceIdentifier = ""
	if v := p.buildRequest(req).GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; v != DefaultVoice {
		t.Errorf("voice = %q, want %q", v, DefaultVoice)
	}
}
