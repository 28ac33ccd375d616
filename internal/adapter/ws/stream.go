// Package ws implements the WebSocket adapter for streaming query
// responses to clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/calier/moxie/internal/service"
)

// streamTimeout bounds a single streamed request end to end.
const streamTimeout = 2 * time.Minute

// Handler upgrades connections and streams one orchestration per
// connection: the client sends a single query envelope, the server streams
// partial chunks as specialists finish and closes after the final chunk.
type Handler struct {
	orchestrator *service.OrchestratorService
}

// NewHandler creates a streaming Handler.
func NewHandler(orchestrator *service.OrchestratorService) *Handler {
	return &Handler{orchestrator: orchestrator}
}

// HandleStream is the http.HandlerFunc for the streaming endpoint.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}
	defer ws.Close(websocket.StatusInternalError, "stream aborted")

	ctx, cancel := context.WithTimeout(r.Context(), streamTimeout)
	defer cancel()

	slog.Info("websocket stream connected", "remote", r.RemoteAddr)

	_, data, err := ws.Read(ctx)
	if err != nil {
		slog.Debug("websocket read failed", "error", err)
		return
	}
	var req service.Request
	if err := json.Unmarshal(data, &req); err != nil {
		_ = ws.Close(websocket.StatusInvalidFramePayloadData, "invalid request envelope")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		_ = ws.Close(websocket.StatusInvalidFramePayloadData, "query is required")
		return
	}

	for chunk := range h.orchestrator.ProcessStream(ctx, req) {
		payload, err := json.Marshal(chunk)
		if err != nil {
			slog.Error("websocket marshal failed", "error", err)
			return
		}
		if err := ws.Write(ctx, websocket.MessageText, payload); err != nil {
			slog.Debug("websocket write failed, client gone", "error", err)
			return
		}
	}

	_ = ws.Close(websocket.StatusNormalClosure, "")
}
