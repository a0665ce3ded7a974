package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/MrWong99/avatarvox/internal/dialogue"
	"github.com/MrWong99/avatarvox/internal/observe"
)

const (
	streamReadTimeout  = 30 * time.Second
	streamWriteTimeout = 30 * time.Second
)

// streamFrame is the JSON text message sent per turn. When Binary is set,
// the audio follows as a single binary message.
type streamFrame struct {
	Type string `json:"type"`
	turnView
	Binary bool `json:"binary,omitempty"`
}

// handleDialogueStream upgrades to a websocket, reads one dialogueRequest,
// and pushes each turn as soon as it is voiced:
//
//	-> {"conversation_id": "...", "turns": [...]}
//	<- {"type":"turn", ...metadata, "binary":true}
//	<- <audio bytes>
//	<- {"type":"done"}
//
// The socket is closed normally after "done". Request errors close it with
// a policy-violation status.
func (s *Server) handleDialogueStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		// Accept has already written the HTTP error.
		observe.Logger(r.Context()).Info("websocket upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.cfg.MaxBodyBytes)

	ctx := r.Context()
	log := observe.Logger(ctx)

	var req dialogueRequest
	readCtx, cancel := context.WithTimeout(ctx, streamReadTimeout)
	err = wsjson.Read(readCtx, conn, &req)
	cancel()
	if err != nil {
		log.Info("dialogue stream: read request", "err", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "invalid request")
		return
	}
	req.ConversationID = conversationOf(r, req.ConversationID)
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	// Readers must keep draining so control frames (close, ping) are handled.
	ctx = conn.CloseRead(ctx)

	err = s.cfg.Dialogue.Stream(ctx, req.ConversationID, req.Turns, func(tr dialogue.TurnResult) error {
		defer tr.Result.Release()
		return writeTurn(ctx, conn, tr)
	})
	if err != nil {
		_, body := classify(err)
		if ctx.Err() == nil {
			_ = writeFrame(ctx, conn, streamFrame{Type: "error", turnView: turnView{Error: body.Error}})
		}
		code := websocket.StatusInternalError
		if errors.Is(err, dialogue.ErrNoTurns) || errors.Is(err, dialogue.ErrDuplicateIndex) {
			code = websocket.StatusPolicyViolation
		}
		log.Info("dialogue stream aborted", "conversation_id", req.ConversationID, "err", err)
		_ = conn.Close(code, body.Code)
		return
	}
	_ = writeFrame(ctx, conn, streamFrame{Type: "done"})
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}

func writeTurn(ctx context.Context, conn *websocket.Conn, tr dialogue.TurnResult) error {
	frame := streamFrame{Type: "turn", turnView: viewOf(tr, false)}
	var data []byte
	if tr.Err == nil && !tr.Result.Spoken() {
		b, err := tr.Result.Handle.Bytes()
		if err != nil {
			return err
		}
		data, frame.Binary = b, len(b) > 0
	}
	if err := writeFrame(ctx, conn, frame); err != nil {
		return err
	}
	if !frame.Binary {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageBinary, data)
}

func writeFrame(ctx context.Context, conn *websocket.Conn, f streamFrame) error {
	wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, f)
}
