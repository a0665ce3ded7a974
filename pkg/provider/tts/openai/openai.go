// Package openai provides a TTS provider backed by the OpenAI speech API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/avatarvox/pkg/provider/tts"
	"github.com/MrWong99/avatarvox/pkg/types"
)

// DefaultModel is the default OpenAI speech model. It is the only model that
// honours free-form instructions.
const DefaultModel = oai.SpeechModelGPT4oMiniTTS

// DefaultVoice is used when the profile names no voice.
const DefaultVoice = "alloy"

// DefaultResponseFormat is requested unless overridden.
const DefaultResponseFormat = "wav"

// pcmMIME describes OpenAI's raw "pcm" output: 24 kHz 16-bit mono
// little-endian without a header.
const pcmMIME = "audio/L16;rate=24000;channels=1"

const providerName = "openai"

var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	format string
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	format       string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithResponseFormat selects the container OpenAI returns: "mp3", "opus",
// "aac", "flac", "wav" or "pcm".
func WithResponseFormat(format string) Option {
	return func(c *config) {
		c.format = format
	}
}

// New constructs a new OpenAI TTS Provider.
// If model is empty, DefaultModel (gpt-4o-mini-tts) is used.
//
// SDK retries are disabled: the orchestrator owns the retry and fallback
// policy, and a retried 429 would hide quota exhaustion from it.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{format: DefaultResponseFormat}
	for _, o := range opts {
		o(cfg)
	}
	switch cfg.format {
	case "mp3", "opus", "aac", "flac", "wav", "pcm":
	default:
		return nil, fmt.Errorf("openai tts: unsupported response format %q", cfg.format)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model, format: cfg.format}, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return providerName }

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req types.SynthesisRequest) (tts.RawAudio, error) {
	resp, err := p.client.Audio.Speech.New(ctx, p.params(req))
	if err != nil {
		return tts.RawAudio{}, classify(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.RawAudio{}, tts.Transport(providerName, resp.StatusCode, fmt.Errorf("read body: %w", err))
	}
	if len(data) == 0 {
		return tts.RawAudio{}, tts.Transport(providerName, resp.StatusCode, errors.New("empty audio response"))
	}

	mime := resp.Header.Get("Content-Type")
	if p.format == "pcm" {
		mime = pcmMIME
	}
	return tts.RawAudio{Data: data, MIMEType: mime}, nil
}

func (p *Provider) params(req types.SynthesisRequest) oai.AudioSpeechNewParams {
	vp := req.VoiceProfile
	voice := vp.VoiceIdentifier
	if voice == "" {
		voice = DefaultVoice
	}
	params := oai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          p.model,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormat(p.format),
	}
	if vp.SpeakingRate > 0 {
		params.Speed = param.NewOpt(vp.SpeakingRate)
	}
	if instr := instructions(vp); instr != "" && p.model == DefaultModel {
		params.Instructions = param.NewOpt(instr)
	}
	return params
}

// instructions renders the profile's delivery hints as free-form guidance.
func instructions(vp types.VoiceProfile) string {
	var parts []string
	if s := strings.TrimSpace(vp.StyleInstructions); s != "" {
		parts = append(parts, strings.TrimRight(s, "."))
	}
	if tone := vp.EmotionalTone.Normalized(); tone != types.ToneNeutral {
		parts = append(parts, "Tone: "+string(tone))
	}
	if vp.Accent != "" {
		parts = append(parts, "Accent: "+vp.Accent)
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ". ") + "."
}

// classify maps SDK errors onto the provider taxonomy. Only HTTP 429 counts
// as quota; OpenAI reports both rate limits and exhausted credit that way.
func classify(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return tts.Quota(providerName, apiErr.StatusCode, err)
		}
		return tts.Transport(providerName, apiErr.StatusCode, err)
	}
	return tts.Transport(providerName, 0, err)
}
