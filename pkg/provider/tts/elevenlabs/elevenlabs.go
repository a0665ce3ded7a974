// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements the tts.Provider interface.
//
// One WebSocket session is opened per request. The text is sent whole, then
// flushed, and the base64 audio chunks are collected until ElevenLabs marks the
// stream final.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/avatarvox/pkg/provider/tts"
	"github.com/MrWong99/avatarvox/pkg/types"
)

const (
	defaultBaseURL   = "wss://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_24000"
	providerName     = "elevenlabs"

	// maxMessageSize bounds a single audio chunk message.
	maxMessageSize = 4 << 20
)

// quotaCodes are the ElevenLabs error identifiers that signal exhausted
// credit or rate limiting.
var quotaCodes = []string{"quota_exceeded", "rate_limited", "too_many_concurrent_requests"}

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000",
// "mp3_44100_128").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithBaseURL overrides the WebSocket API root. ws, wss, http and https
// schemes are accepted.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	baseURL      string
}

var _ tts.Provider = (*Provider)(nil)

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		baseURL:      defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return providerName }

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text                 string         `json:"text"`
	VoiceSettings        *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey             string         `json:"xi_api_key,omitempty"`
	TryTriggerGeneration bool           `json:"try_trigger_generation,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req types.SynthesisRequest) (tts.RawAudio, error) {
	voiceID := req.VoiceProfile.VoiceIdentifier
	if voiceID == "" {
		return tts.RawAudio{}, tts.Transport(providerName, 0, errors.New("voice identifier must not be empty"))
	}

	conn, resp, err := websocket.Dial(ctx, p.streamURL(voiceID, req.VoiceProfile.LanguageCode), nil)
	if err != nil {
		return tts.RawAudio{}, classifyDial(resp, err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxMessageSize)

	messages := []textMessage{
		// ElevenLabs requires a non-empty first text value.
		{Text: " ", VoiceSettings: settingsFor(req.VoiceProfile), XiAPIKey: p.apiKey},
		{Text: strings.TrimSpace(req.Text) + " ", TryTriggerGeneration: true},
		{Text: ""},
	}
	for _, m := range messages {
		if err := writeJSON(ctx, conn, m); err != nil {
			return tts.RawAudio{}, tts.Transport(providerName, 0, fmt.Errorf("send: %w", err))
		}
	}

	data, err := collect(ctx, conn)
	if err != nil {
		return tts.RawAudio{}, err
	}
	conn.Close(websocket.StatusNormalClosure, "done")
	return tts.RawAudio{Data: data, MIMEType: mimeFor(p.outputFormat)}, nil
}

// collect reads audio chunks until the final marker or the server closes the
// stream normally.
func collect(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var buf bytes.Buffer
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && buf.Len() > 0 {
				return buf.Bytes(), nil
			}
			return nil, classifyClose(err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return nil, classifyCode(resp.Error, fmt.Errorf("%s: %s", resp.Error, resp.Message))
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, tts.Transport(providerName, 0, fmt.Errorf("decode audio chunk: %w", err))
			}
			buf.Write(chunk)
		}
		if resp.IsFinal {
			if buf.Len() == 0 {
				return nil, tts.Transport(providerName, 0, errors.New("stream finished without audio"))
			}
			return buf.Bytes(), nil
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- helpers ----

// streamURL constructs the WebSocket URL for a voice.
func (p *Provider) streamURL(voiceID, language string) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	if lang, _, _ := strings.Cut(language, "-"); lang != "" {
		q.Set("language_code", strings.ToLower(lang))
	}
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", p.baseURL, url.PathEscape(voiceID), q.Encode())
}

// settingsFor maps a profile onto voice_settings. Restrained tones get more
// stability, animated tones less; speed is limited to the 0.7-1.2 range
// ElevenLabs accepts.
func settingsFor(vp types.VoiceProfile) *voiceSettings {
	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	switch vp.EmotionalTone.Normalized() {
	case types.ToneCalm, types.ToneSerious, types.ToneSad:
		vs.Stability = 0.7
	case types.ToneExcited, types.ToneCheerful:
		vs.Stability = 0.3
		vs.Style = 0.4
	case types.ToneMysterious, types.ToneWarm:
		vs.Style = 0.2
	}
	if vp.SpeakingRate > 0 {
		vs.Speed = min(max(vp.SpeakingRate, 0.7), 1.2)
	}
	return vs
}

// mimeFor maps an ElevenLabs output format onto a MIME hint. PCM formats are
// headerless 16-bit mono.
func mimeFor(format string) string {
	codec, rest, _ := strings.Cut(format, "_")
	switch codec {
	case "pcm":
		rate, _, _ := strings.Cut(rest, "_")
		if _, err := strconv.Atoi(rate); err == nil {
			return "audio/L16;rate=" + rate + ";channels=1"
		}
		return "audio/L16"
	case "mp3":
		return "audio/mpeg"
	case "ulaw":
		return "audio/basic"
	case "opus":
		return "audio/ogg"
	}
	return ""
}

func isQuotaCode(code string) bool {
	for _, c := range quotaCodes {
		if strings.Contains(code, c) {
			return true
		}
	}
	return false
}

func classifyCode(code string, err error) error {
	if isQuotaCode(code) {
		return tts.Quota(providerName, 0, err)
	}
	return tts.Transport(providerName, 0, err)
}

// classifyClose inspects a close frame's reason for quota codes.
func classifyClose(err error) error {
	var ce websocket.CloseError
	if errors.As(err, &ce) && isQuotaCode(ce.Reason) {
		return tts.Quota(providerName, 0, err)
	}
	return tts.Transport(providerName, 0, err)
}

// classifyDial maps a failed handshake. ElevenLabs rejects exhausted keys with
// HTTP 429 before upgrading.
func classifyDial(resp *http.Response, err error) error {
	if resp == nil {
		return tts.Transport(providerName, 0, fmt.Errorf("dial: %w", err))
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return tts.Quota(providerName, resp.StatusCode, fmt.Errorf("dial: %w", err))
	}
	return tts.Transport(providerName, resp.StatusCode, fmt.Errorf("dial: %w", err))
}
