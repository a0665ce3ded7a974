package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/MrWong99/avatarvox/internal/dialogue"
	"github.com/MrWong99/avatarvox/internal/observe"
	"github.com/MrWong99/avatarvox/internal/speech"
	"github.com/MrWong99/avatarvox/internal/voice"
	"github.com/MrWong99/avatarvox/pkg/audio"
	"github.com/MrWong99/avatarvox/pkg/provider/tts"
	"github.com/MrWong99/avatarvox/pkg/types"
)

type badRequest string

func (e badRequest) Error() string { return string(e) }

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

// classify maps a pipeline error onto an HTTP status and response body.
// Order matters: a total failure also wraps the remote tier's quota error.
func classify(err error) (int, errorBody) {
	var br badRequest
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Code: "bad_request"}
	case errors.Is(err, voice.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: err.Error(), Code: "unknown_avatar"}
	case errors.Is(err, speech.ErrEmptyText), errors.Is(err, types.ErrInvalidProfile),
		errors.Is(err, dialogue.ErrNoTurns), errors.Is(err, dialogue.ErrDuplicateIndex):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Code: "invalid_request"}
	case errors.Is(err, speech.ErrTotalFailure):
		return http.StatusServiceUnavailable, errorBody{Error: err.Error(), Code: "total_failure", Retryable: true}
	case errors.Is(err, audio.ErrFormatUnresolvable):
		return http.StatusUnprocessableEntity, errorBody{Error: err.Error(), Code: "format_unresolvable"}
	case errors.Is(err, tts.ErrTransport):
		return http.StatusBadGateway, errorBody{Error: err.Error(), Code: "transport_error", Retryable: true}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorBody{Error: err.Error(), Code: "timeout", Retryable: true}
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, errorBody{Error: err.Error(), Code: "cancelled"}
	default:
		return http.StatusInternalServerError, errorBody{Error: err.Error(), Code: "internal"}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	log := observe.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "route", r.Pattern, "status", status, "err", err)
	} else {
		log.Info("request rejected", "route", r.Pattern, "status", status, "err", err)
	}
	writeJSON(w, status, body)
}
