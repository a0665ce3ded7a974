// Package gemini provides a Google Gemini-backed TTS provider using the REST
// generateContent endpoint with the AUDIO response modality. It implements the
// tts.Provider interface.
//
// Gemini returns inline audio whose MIME type is typically
// "audio/L16;codec=pcm;rate=24000": headerless PCM that must be wrapped before
// playback. The provider passes the bytes and the MIME hint through unchanged.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/avatarvox/pkg/provider/tts"
	"github.com/MrWong99/avatarvox/pkg/types"
)

const (
	// DefaultModel is the default Gemini speech model.
	DefaultModel = "gemini-2.5-flash-preview-tts"

	// DefaultBaseURL is the Generative Language API root.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	// DefaultVoice is used when the profile names no voice.
	DefaultVoice = "Kore"

	providerName = "gemini"

	// statusResourceExhausted is the RPC status Gemini reports for quota and
	// rate limit errors.
	statusResourceExhausted = "RESOURCE_EXHAUSTED"

	maxErrorBody = 64 << 10
)

// Option is a functional option for configuring the Gemini Provider.
type Option func(*Provider)

// WithModel sets the Gemini model (e.g. "gemini-2.5-pro-preview-tts").
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the API root. Used by tests and regional endpoints.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by Gemini speech generation.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New creates a new Gemini Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      DefaultModel,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return providerName }

// ── Wire types ───────────────────────────────────────────────────────────────

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities"`
	SpeechConfig       speechConfig `json:"speechConfig"`
}

type speechConfig struct {
	VoiceConfig  voiceConfig `json:"voiceConfig"`
	LanguageCode string      `json:"languageCode,omitempty"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type generateResponse struct {
	Candidates []candidate   `json:"candidates"`
	Error      *geminiError `json:"error,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// ── Synthesis ────────────────────────────────────────────────────────────────

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req types.SynthesisRequest) (tts.RawAudio, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return tts.RawAudio{}, tts.Transport(providerName, 0, fmt.Errorf("encode request: %w", err))
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", p.baseURL, url.PathEscape(p.model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return tts.RawAudio{}, tts.Transport(providerName, 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return tts.RawAudio{}, tts.Transport(providerName, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tts.RawAudio{}, classifyStatus(resp)
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return tts.RawAudio{}, tts.Transport(providerName, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	if gr.Error != nil {
		return tts.RawAudio{}, classifyError(resp.StatusCode, gr.Error)
	}
	return extractAudio(gr)
}

// buildRequest composes the prompt from the profile's style and tone and
// selects the prebuilt voice.
func (p *Provider) buildRequest(req types.SynthesisRequest) generateRequest {
	voice := req.VoiceProfile.VoiceIdentifier
	if voice == "" {
		voice = DefaultVoice
	}
	return generateRequest{
		Contents: []content{{
			Role:  "user",
			Parts: []part{{Text: buildPrompt(req.Text, req.VoiceProfile)}},
		}},
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: speechConfig{
				VoiceConfig:  voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice}},
				LanguageCode: req.VoiceProfile.LanguageCode,
			},
		},
	}
}

// buildPrompt prefixes text with natural-language delivery instructions.
// Gemini speech models steer prosody from the prompt rather than from numeric
// parameters.
func buildPrompt(text string, vp types.VoiceProfile) string {
	var directions []string
	if vp.StyleInstructions != "" {
		directions = append(directions, strings.TrimRight(vp.StyleInstructions, ". "))
	}
	if tone := vp.EmotionalTone.Normalized(); tone != types.ToneNeutral {
		directions = append(directions, "sound "+string(tone))
	}
	if vp.Accent != "" {
		directions = append(directions, "use a "+vp.Accent+" accent")
	}
	switch {
	case vp.SpeakingRate > 0 && vp.SpeakingRate < 0.9:
		directions = append(directions, "speak slowly")
	case vp.SpeakingRate > 1.1:
		directions = append(directions, "speak quickly")
	}
	if len(directions) == 0 {
		return text
	}
	return strings.Join(directions, "; ") + ":\n" + text
}

func extractAudio(gr generateResponse) (tts.RawAudio, error) {
	for _, c := range gr.Candidates {
		for _, pt := range c.Content.Parts {
			if pt.InlineData == nil || pt.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(pt.InlineData.Data)
			if err != nil {
				return tts.RawAudio{}, tts.Transport(providerName, http.StatusOK, fmt.Errorf("decode inline audio: %w", err))
			}
			return tts.RawAudio{Data: data, MIMEType: pt.InlineData.MIMEType}, nil
		}
	}
	reason := ""
	if len(gr.Candidates) > 0 {
		reason = gr.Candidates[0].FinishReason
	}
	return tts.RawAudio{}, tts.Transport(providerName, http.StatusOK, fmt.Errorf("response carries no inline audio (finish reason %q)", reason))
}

// classifyStatus reads a non-200 response. HTTP 429 and a RESOURCE_EXHAUSTED
// status are quota errors; everything else is transport.
func classifyStatus(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err == nil && gr.Error != nil {
		return classifyError(resp.StatusCode, gr.Error)
	}
	err := fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(raw)))
	if resp.StatusCode == http.StatusTooManyRequests {
		return tts.Quota(providerName, resp.StatusCode, err)
	}
	return tts.Transport(providerName, resp.StatusCode, err)
}

func classifyError(status int, ge *geminiError) error {
	if ge.Code != 0 {
		status = ge.Code
	}
	err := fmt.Errorf("%s: %s", ge.Status, ge.Message)
	if status == http.StatusTooManyRequests || ge.Status == statusResourceExhausted {
		return tts.Quota(providerName, status, err)
	}
	return tts.Transport(providerName, status, err)
}
