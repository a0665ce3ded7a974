// Package server exposes the speech pipeline over HTTP.
//
// Routes:
//
//	GET  /v1/avatars          list configured avatars
//	POST /v1/speech           voice one line, respond with audio bytes
//	POST /v1/dialogue         voice a conversation, respond with JSON
//	GET  /v1/dialogue/stream  websocket; turns are pushed as they are voiced
//	GET  /healthz, /readyz    probes
//	GET  /metrics             Prometheus scrape endpoint
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/avatarvox/internal/dialogue"
	"github.com/MrWong99/avatarvox/internal/health"
	"github.com/MrWong99/avatarvox/internal/observe"
	"github.com/MrWong99/avatarvox/internal/speech"
	"github.com/MrWong99/avatarvox/pkg/types"
)

const (
	defaultMaxBodyBytes = 1 << 20
	shutdownTimeout     = 10 * time.Second
)

// Response headers describing a voiced line.
const (
	HeaderDuration     = "X-Audio-Duration-Ms"
	HeaderFormat       = "X-Audio-Format"
	HeaderUsedFallback = "X-Used-Fallback"
	HeaderFromCache    = "X-From-Cache"
	HeaderConversation = observe.ConversationHeader
)

// Speaker voices a line for an avatar.
type Speaker interface {
	SpeakAs(ctx context.Context, avatarID, text, conversationID string) (*speech.Result, error)
}

// Dialogue voices multi-turn conversations.
type Dialogue interface {
	Generate(ctx context.Context, conversationID string, turns []types.DialogueTurnRequest) ([]dialogue.TurnResult, error)
	Stream(ctx context.Context, conversationID string, turns []types.DialogueTurnRequest, emit func(dialogue.TurnResult) error) error
}

// Avatars lists the configured voice profiles.
type Avatars interface {
	IDs() []string
	Lookup(avatarID string) (types.VoiceProfile, error)
}

// Config assembles the server's collaborators. Speaker, Dialogue and Avatars
// are required.
type Config struct {
	Speaker  Speaker
	Dialogue Dialogue
	Avatars  Avatars

	// Health serves the probe routes. Nil registers a handler without checks.
	Health *health.Handler

	// Metrics records HTTP request durations. Nil uses the global provider.
	Metrics *observe.Metrics

	// MetricsHandler serves /metrics. Nil omits the route.
	MetricsHandler http.Handler

	// MaxBodyBytes caps request bodies. Default 1 MiB.
	MaxBodyBytes int64

	// OriginPatterns are the websocket origins accepted besides the
	// request's own host.
	OriginPatterns []string
}

// Server routes HTTP requests into the speech pipeline.
type Server struct {
	cfg     Config
	handler http.Handler
}

// New builds the route table.
func New(cfg Config) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	s := &Server{cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/avatars", s.handleAvatars)
	mux.HandleFunc("POST /v1/speech", s.handleSpeech)
	mux.HandleFunc("POST /v1/dialogue", s.handleDialogue)
	mux.HandleFunc("GET /v1/dialogue/stream", s.handleDialogueStream)
	cfg.Health.Register(mux)
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}
	s.handler = observe.Middleware(cfg.Metrics)(mux)
	return s
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is like [Server.ListenAndServe] on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	slog.Info("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

type avatarView struct {
	ID       string `json:"id"`
	Voice    string `json:"voice_id"`
	Language string `json:"language"`
	Tone     string `json:"tone"`
}

func (s *Server) handleAvatars(w http.ResponseWriter, _ *http.Request) {
	ids := s.cfg.Avatars.IDs()
	out := make([]avatarView, 0, len(ids))
	for _, id := range ids {
		p, err := s.cfg.Avatars.Lookup(id)
		if err != nil {
			continue
		}
		out = append(out, avatarView{ID: id, Voice: p.VoiceIdentifier, Language: p.LanguageCode, Tone: string(p.EmotionalTone)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"avatars": out})
}

type speechRequest struct {
	AvatarID       string `json:"avatar_id"`
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id"`
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.AvatarID == "" {
		writeError(w, r, badRequest("avatar_id is required"))
		return
	}
	res, err := s.cfg.Speaker.SpeakAs(r.Context(), req.AvatarID, req.Text, conversationOf(r, req.ConversationID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer res.Release()

	h := w.Header()
	h.Set(HeaderDuration, strconv.FormatInt(res.Duration.Milliseconds(), 10))
	h.Set(HeaderFormat, string(res.Format))
	h.Set(HeaderUsedFallback, strconv.FormatBool(res.UsedFallback))
	h.Set(HeaderFromCache, strconv.FormatBool(res.FromCache))
	if res.Spoken() {
		// Already voiced on the server's device.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	data, err := res.Handle.Bytes()
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.Set("Content-Type", res.Format.ContentType())
	h.Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type dialogueRequest struct {
	ConversationID string                      `json:"conversation_id"`
	Turns          []types.DialogueTurnRequest `json:"turns"`
}

// turnView is the wire form of one voiced turn. Audio is base64 in JSON.
type turnView struct {
	SequenceIndex int    `json:"sequence_index"`
	AvatarID      string `json:"avatar_id"`
	Format        string `json:"format,omitempty"`
	DurationMs    int64  `json:"duration_ms,omitempty"`
	UsedFallback  bool   `json:"used_fallback,omitempty"`
	FromCache     bool   `json:"from_cache,omitempty"`
	Audio         []byte `json:"audio,omitempty"`
	Error         string `json:"error,omitempty"`
	Retryable     bool   `json:"retryable,omitempty"`
}

func (s *Server) handleDialogue(w http.ResponseWriter, r *http.Request) {
	var req dialogueRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.ConversationID = conversationOf(r, req.ConversationID)
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	results, err := s.cfg.Dialogue.Generate(r.Context(), req.ConversationID, req.Turns)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer dialogue.Release(results)

	turns := make([]turnView, 0, len(results))
	for _, tr := range results {
		turns = append(turns, viewOf(tr, true))
	}
	w.Header().Set(HeaderConversation, req.ConversationID)
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": req.ConversationID,
		"turns":           turns,
	})
}

// conversationOf prefers the body's conversation ID over the request header.
func conversationOf(r *http.Request, body string) string {
	if body != "" {
		return body
	}
	return r.Header.Get(HeaderConversation)
}

// viewOf converts tr for the wire. withAudio inlines the bytes.
func viewOf(tr dialogue.TurnResult, withAudio bool) turnView {
	v := turnView{SequenceIndex: tr.Turn.SequenceIndex, AvatarID: tr.Turn.AvatarID}
	if tr.Err != nil {
		_, body := classify(tr.Err)
		v.Error, v.Retryable = body.Error, body.Retryable
		return v
	}
	res := tr.Result
	v.Format = string(res.Format)
	v.DurationMs = res.Duration.Milliseconds()
	v.UsedFallback = res.UsedFallback
	v.FromCache = res.FromCache
	if withAudio && !res.Spoken() {
		v.Audio, _ = res.Handle.Bytes()
	}
	return v
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, r, badRequest("invalid request body: "+err.Error()))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("server: encode response", "err", err)
	}
}
