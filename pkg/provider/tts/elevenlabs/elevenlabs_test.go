package elevenlabs

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

	"github.com/coder/websocket"

	"github.com/MrWong99/avatarvox/pkg/provider/tts"
	"github.com/MrWong99/avatarvox/pkg/types"
)

// ---- fake streaming server ----

type fakeServer struct {
	t        *testing.T
	received chan []textMessage
	// respond is called after the flush message arrives.
	respond func(ctx context.Context, c *websocket.Conn)
	query    chan string
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.query <- r.URL.Path + "?" + r.URL.RawQuery
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		f.t.Errorf("accept: %v", err)
		return
	}
	defer c.CloseNow()

	ctx := r.Context()
	var msgs []textMessage
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		var m textMessage
		if err := json.Unmarshal(data, &m); err != nil {
			f.t.Errorf("unmarshal: %v", err)
			return
		}
		msgs = append(msgs, m)
		if m.Text == "" {
			break
		}
	}
	f.received <- msgs
	f.respond(ctx, c)
}

func startServer(t *testing.T, respond func(ctx context.Context, c *websocket.Conn)) (*Provider, *fakeServer) {
	t.Helper()
	f := &fakeServer{
		t:        t,
		received: make(chan []textMessage, 1),
		respond:  respond,
		query:    make(chan string, 1),
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	p, err := New("xi-test", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, f
}

func send(ctx context.Context, c *websocket.Conn, v audioResponse) {
	b, _ := json.Marshal(v)
	c.Write(ctx, websocket.MessageText, b)
}

func chunk(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func testRequest() types.SynthesisRequest {
	return types.SynthesisRequest{
		Text:     "  The dragon stirs.  ",
		AvatarID: "bard",
		VoiceProfile: types.VoiceProfile{
			AvatarID:        "bard",
			VoiceIdentifier: "voice-abc123",
			LanguageCode:    "en-US",
			SpeakingRate:    1.5,
			EmotionalTone:   types.ToneExcited,
		},
	}
}

func ctxTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ---- tests ----

func TestNew_RequiresKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestSynthesize_CollectsChunks(t *testing.T) {
	p, f := startServer(t, func(ctx context.Context, c *websocket.Conn) {
		send(ctx, c, audioResponse{Audio: chunk([]byte{1, 2, 3})})
		send(ctx, c, audioResponse{Audio: ""})
		send(ctx, c, audioResponse{Audio: chunk([]byte{4, 5})})
		send(ctx, c, audioResponse{IsFinal: true})
		c.Close(websocket.StatusNormalClosure, "")
	})

	raw, err := p.Synthesize(ctxTimeout(t), testRequest())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(raw.Data) != string([]byte{1, 2, 3, 4, 5}) {
		t.Errorf("data = %v", raw.Data)
	}
	if raw.MIMEType != "audio/L16;rate=24000;channels=1" {
		t.Errorf("mime = %q", raw.MIMEType)
	}

	q := <-f.query
	for _, want := range []string{"/v1/text-to-speech/voice-abc123/stream-input", "model_id=eleven_flash_v2_5", "output_format=pcm_24000", "language_code=en"} {
		if !strings.Contains(q, want) {
			t.Errorf("request %q missing %q", q, want)
		}
	}

	msgs := <-f.received
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].XiAPIKey != "xi-test" || msgs[0].VoiceSettings == nil {
		t.Errorf("first message = %+v, want api key and voice settings", msgs[0])
	}
	if got := msgs[0].VoiceSettings.Speed; got != 1.2 {
		t.Errorf("speed = %v, want clamped 1.2", got)
	}
	if msgs[1].Text != "The dragon stirs. " || msgs[1].XiAPIKey != "" {
		t.Errorf("text message = %+v", msgs[1])
	}
}

func TestSynthesize_NormalCloseWithoutFinal(t *testing.T) {
	p, _ := startServer(t, func(ctx context.Context, c *websocket.Conn) {
		send(ctx, c, audioResponse{Audio: chunk([]byte{9, 9})})
		c.Close(websocket.StatusNormalClosure, "")
	})
	raw, err := p.Synthesize(ctxTimeout(t), testRequest())
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(raw.Data) != 2 {
		t.Errorf("len = %d, want 2", len(raw.Data))
	}
}

func TestSynthesize_Classification(t *testing.T) {
	tests := []struct {
		name      string
		respond   func(ctx context.Context, c *websocket.Conn)
		wantQuota bool
	}{
		{
			name: "quota error message",
			respond: func(ctx context.Context, c *websocket.Conn) {
				send(ctx, c, audioResponse{Error: "quota_exceeded", Message: "This request exceeds your quota", Code: 1008})
			},
			wantQuota: true,
		},
		{
			name: "concurrency limit",
			respond: func(ctx context.Context, c *websocket.Conn) {
				send(ctx, c, audioResponse{Error: "too_many_concurrent_requests", Message: "slow down"})
			},
			wantQuota: true,
		},
		{
			name: "policy close with quota reason",
			respond: func(ctx context.Context, c *websocket.Conn) {
				c.Close(websocket.StatusPolicyViolation, "quota_exceeded")
			},
			wantQuota: true,
		},
		{
			name: "invalid voice",
			respond: func(ctx context.Context, c *websocket.Conn) {
				send(ctx, c, audioResponse{Error: "voice_not_found", Message: "unknown voice"})
			},
		},
		{
			name: "final without audio",
			respond: func(ctx context.Context, c *websocket.Conn) {
				send(ctx, c, audioResponse{IsFinal: true})
			},
		},
		{
			name: "abrupt close",
			respond: func(ctx context.Context, c *websocket.Conn) {
				c.Close(websocket.StatusInternalError, "oops")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := startServer(t, tt.respond)
			_, err := p.Synthesize(ctxTimeout(t), testRequest())
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

func TestSynthesize_HandshakeRejected(t *testing.T) {
	tests := []struct {
		status    int
		wantQuota bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusUnauthorized, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		p, _ := New("k", WithBaseURL(srv.URL))
		_, err := p.Synthesize(ctxTimeout(t), testRequest())
		srv.Close()

		if got := errors.Is(err, tts.ErrQuotaExceeded); got != tt.wantQuota {
			t.Errorf("status %d: quota = %v, want %v (err %v)", tt.status, got, tt.wantQuota, err)
		}
		var pe *tts.Error
		if !errors.As(err, &pe) || pe.StatusCode != tt.status {
			t.Errorf("status %d: err = %v, want StatusCode recorded", tt.status, err)
		}
	}
}

func TestSynthesize_EmptyVoice(t *testing.T) {
	p, _ := New("k")
	req := testRequest()
	req.VoiceProfile.VoiceIdentifier = ""
	if _, err := p.Synthesize(context.Background(), req); !errors.Is(err, tts.ErrTransport) {
		t.Errorf("err = %v, want ErrTransport", err)
	}
}

func TestMimeFor(t *testing.T) {
	tests := map[string]string{
		"pcm_16000":     "audio/L16;rate=16000;channels=1",
		"pcm_44100":     "audio/L16;rate=44100;channels=1",
		"mp3_44100_128": "audio/mpeg",
		"opus_48000_64": "audio/ogg",
		"weird":         "",
	}
	for in, want := range tests {
		if got := mimeFor(in); got != want {
			t.Errorf("mimeFor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSettingsFor(t *testing.T) {
	calm := settingsFor(types.VoiceProfile{EmotionalTone: types.ToneCalm, SpeakingRate: 0.5})
	if calm.Stability != 0.7 || calm.Speed != 0.7 {
		t.Errorf("calm = %+v", calm)
	}
	neutral := settingsFor(types.VoiceProfile{})
	if neutral.Stability != 0.5 || neutral.SimilarityBoost != 0.75 || neutral.Speed != 0 {
		t.Errorf("neutral = %+v", neutral)
	}
}
