package email

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"net/mail"
	"strconv"
	"sync"
	"time"
)

const defaultOutboxSize = 100

// Message is one email accepted by the sink.
type Message struct {
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

type Handler struct {
	mu         sync.Mutex
	outbox     []Message
	outboxSize int
	minLatency time.Duration
	maxLatency time.Duration
	logger     *slog.Logger
}

type Option func(*Handler)

// WithLatency simulates delivery time; each send sleeps a random duration in
// [lo, hi].
func WithLatency(lo, hi time.Duration) Option {
	return func(h *Handler) {
		h.minLatency = lo
		h.maxLatency = hi
	}
}

func WithOutboxSize(n int) Option {
	return func(h *Handler) {
		h.outboxSize = n
	}
}

func NewHandler(logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		outboxSize: defaultOutboxSize,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /send", h.HandleSend)
	mux.HandleFunc("GET /emails", h.HandleList)
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type sendResponse struct {
	Status string `json:"status"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := mail.ParseAddress(req.To); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid recipient address")
		return
	}
	if req.Subject == "" {
		h.writeError(w, http.StatusBadRequest, "subject is required")
		return
	}

	h.simulateLatency()

	h.record(Message{To: req.To, Subject: req.Subject, Body: req.Body, SentAt: time.Now().UTC()})
	h.logger.Info("email sent", "to", req.To, "subject", req.Subject)

	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent"})
}

// HandleList returns the most recent emails, newest first, optionally
// filtered by recipient.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	to := r.URL.Query().Get("to")
	limit := h.outboxSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	h.writeJSON(w, http.StatusOK, h.recent(to, limit))
}

func (h *Handler) simulateLatency() {
	if h.maxLatency <= 0 {
		return
	}
	delay := h.minLatency
	if spread := h.maxLatency - h.minLatency; spread > 0 {
		delay += time.Duration(rand.Int63n(int64(spread) + 1))
	}
	time.Sleep(delay)
}

func (h *Handler) record(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outbox = append(h.outbox, m)
	if over := len(h.outbox) - h.outboxSize; over > 0 {
		h.outbox = append([]Message(nil), h.outbox[over:]...)
	}
}

func (h *Handler) recent(to string, limit int) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := []Message{}
	for i := len(h.outbox) - 1; i >= 0 && len(out) < limit; i-- {
		if to != "" && h.outbox[i].To != to {
			continue
		}
		out = append(out, h.outbox[i])
	}
	return out
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
