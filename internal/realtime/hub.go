package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/joao-fontenele/bargainflow/internal/domain"
	"github.com/joao-fontenele/bargainflow/internal/negotiation"
)

const sendBuffer = 16

// Frame is the envelope of every message written to a live view.
type Frame struct {
	Type     string                     `json:"type"`
	Session  *negotiation.View          `json:"session,omitempty"`
	Event    *domain.NegotiationEvent   `json:"event,omitempty"`
	Response *negotiation.Response      `json:"response,omitempty"`
	Error    *negotiation.ResponseError `json:"error,omitempty"`
}

const (
	FrameSession  = "session"
	FrameEvent    = "event"
	FrameResponse = "response"
	FrameError    = "error"
)

type subscriber struct {
	sessionID string
	send      chan []byte
}

// Hub fans negotiation events out to the live views subscribed to a session.
// Delivery is at most once: a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*subscriber]struct{}
	logger *slog.Logger
}

var _ negotiation.EventPublisher = (*Hub)(nil)

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*subscriber]struct{}),
		logger: logger,
	}
}

func (h *Hub) subscribe(sessionID string) *subscriber {
	sub := &subscriber{sessionID: sessionID, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[*subscriber]struct{})
		h.rooms[sessionID] = room
	}
	room[sub] = struct{}{}
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sub.sessionID]
	if !ok {
		return
	}
	if _, ok := room[sub]; !ok {
		return
	}
	delete(room, sub)
	close(sub.send)
	if len(room) == 0 {
		delete(h.rooms, sub.sessionID)
	}
}

// Subscribers returns the number of live views attached to sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

func (h *Hub) PublishNegotiationEvent(ctx context.Context, event domain.NegotiationEvent) error {
	payload, err := json.Marshal(Frame{Type: FrameEvent, Event: &event})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.rooms[event.SessionID] {
		select {
		case sub.send <- payload:
		default:
			h.logger.Warn("dropping event for slow subscriber", "session_id", event.SessionID, "type", event.Type)
		}
	}
	return nil
}

// deliver queues a frame for a single subscriber.
func (h *Hub) deliver(sub *subscriber, frame Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("failed to encode frame", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.rooms[sub.sessionID][sub]; !ok {
		return
	}
	select {
	case sub.send <- payload:
	default:
		h.logger.Warn("dropping frame for slow subscriber", "session_id", sub.sessionID, "type", frame.Type)
	}
}
