package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joao-fontenele/bargainflow/internal/negotiation"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Engine is the part of the negotiation engine a live view needs.
type Engine interface {
	Get(ctx context.Context, id string, caller negotiation.Caller) (negotiation.View, error)
	Handle(ctx context.Context, p negotiation.Proposal) negotiation.Response
}

type Handler struct {
	hub      *Hub
	engine   Engine
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler serves GET /ws/negotiations/{id}. An empty allowedOrigins keeps
// the same-origin check of the websocket upgrader.
func NewHandler(hub *Hub, engine Engine, allowedOrigins []string, logger *slog.Logger) *Handler {
	h := &Handler{
		hub:    hub,
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
	if len(allowedOrigins) > 0 {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			return slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, r.Header.Get("Origin"))
		}
	}
	return h
}

type inboundMessage struct {
	Text          string `json:"text"`
	ProposedPrice *int64 `json:"proposed_price"`
}

func (h *Handler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	caller, ok := negotiation.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}

	id := r.PathValue("id")
	view, err := h.engine.Get(r.Context(), id, caller)
	if err != nil {
		code := negotiation.ErrorCode(err)
		writeError(w, negotiation.HTTPStatus(code), err.Error(), code)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err, "session_id", id)
		return
	}

	sub := h.hub.subscribe(id)
	h.logger.Info("live view connected", "session_id", id, "caller_id", caller.ID)

	go h.writePump(conn, sub)
	h.hub.deliver(sub, Frame{Type: FrameSession, Session: &view})
	h.readPump(r.Context(), conn, sub, caller)

	h.logger.Info("live view disconnected", "session_id", id, "caller_id", caller.ID)
}

// readPump turns inbound frames into proposals until the connection closes.
func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, sub *subscriber, caller negotiation.Caller) {
	defer func() {
		h.hub.unsubscribe(sub)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("live view closed unexpectedly", "error", err, "session_id", sub.sessionID)
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.hub.deliver(sub, Frame{Type: FrameError, Error: &negotiation.ResponseError{
				Code:    negotiation.ErrorCode(negotiation.ErrInvalidRequest),
				Message: "invalid message",
			}})
			continue
		}

		resp := h.engine.Handle(ctx, negotiation.Proposal{
			SessionID:     sub.sessionID,
			Text:          msg.Text,
			ProposedPrice: msg.ProposedPrice,
			Caller:        caller,
		})
		h.hub.deliver(sub, Frame{Type: FrameResponse, Response: &resp})
	}
}

func (h *Handler) writePump(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case payload, ok := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
