package negotiation

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/joao-fontenele/bargainflow/internal/telemetry"
)

type Handler struct {
	engine *Engine
	logger *slog.Logger
}

func NewHandler(engine *Engine, logger *slog.Logger) *Handler {
	return &Handler{
		engine: engine,
		logger: logger,
	}
}

// Register mounts the negotiation routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /negotiations", telemetry.WithHTTPRoute(h.HandleStart))
	mux.HandleFunc("GET /negotiations", telemetry.WithHTTPRoute(h.HandleList))
	mux.HandleFunc("GET /negotiations/stats", telemetry.WithHTTPRoute(h.HandleStats))
	mux.HandleFunc("POST /negotiations/cleanup", telemetry.WithHTTPRoute(h.HandleCleanup))
	mux.HandleFunc("DELETE /negotiations/expired", telemetry.WithHTTPRoute(h.HandlePurge))
	mux.HandleFunc("GET /negotiations/{id}", telemetry.WithHTTPRoute(h.HandleGet))
	mux.HandleFunc("POST /negotiations/{id}/messages", telemetry.WithHTTPRoute(h.HandleMessage))
	mux.HandleFunc("POST /negotiations/{id}/accept", telemetry.WithHTTPRoute(h.HandleAccept))
	mux.HandleFunc("POST /negotiations/{id}/reject", telemetry.WithHTTPRoute(h.HandleReject))
	mux.HandleFunc("POST /negotiations/{id}/cancel", telemetry.WithHTTPRoute(h.HandleCancel))
	mux.HandleFunc("POST /negotiations/{id}/cart", telemetry.WithHTTPRoute(h.HandleAddToCart))
}

type startRequest struct {
	ProductID  string `json:"product_id"`
	CustomerID string `json:"customer_id"`
	ChannelID  string `json:"channel_session_id"`
}

func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, ErrInvalidRequest, "invalid request body")
		return
	}
	if req.CustomerID == "" {
		req.CustomerID = caller.ID
	}
	if req.CustomerID != caller.ID && !caller.Admin {
		h.writeError(w, ErrForbidden, "")
		return
	}
	if req.ProductID == "" {
		h.writeError(w, ErrInvalidRequest, "missing product_id")
		return
	}

	res, err := h.engine.Start(r.Context(), StartRequest{
		ProductID:  req.ProductID,
		CustomerID: req.CustomerID,
		ChannelID:  req.ChannelID,
	})
	if err != nil {
		h.writeError(w, err, "")
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, res)
}

type messageRequest struct {
	Text          string `json:"text"`
	ProposedPrice *int64 `json:"proposed_price"`
}

func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req messageRequest
	if err := decodeOptional(r, &req); err != nil {
		h.writeError(w, ErrInvalidRequest, "invalid request body")
		return
	}

	resp := h.engine.Handle(r.Context(), Proposal{
		SessionID:     r.PathValue("id"),
		Text:          req.Text,
		ProposedPrice: req.ProposedPrice,
		Caller:        caller,
	})
	if resp.Error != nil {
		h.writeJSON(w, HTTPStatus(resp.Error.Code), resp)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type acceptRequest struct {
	FinalPrice *int64 `json:"final_price"`
}

func (h *Handler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req acceptRequest
	if err := decodeOptional(r, &req); err != nil {
		h.writeError(w, ErrInvalidRequest, "invalid request body")
		return
	}

	view, err := h.engine.Accept(r.Context(), r.PathValue("id"), req.FinalPrice, caller)
	if err != nil {
		h.writeError(w, err, "")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req reasonRequest
	if err := decodeOptional(r, &req); err != nil {
		h.writeError(w, ErrInvalidRequest, "invalid request body")
		return
	}

	view, err := h.engine.Reject(r.Context(), r.PathValue("id"), req.Reason, caller)
	if err != nil {
		h.writeError(w, err, "")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req reasonRequest
	if err := decodeOptional(r, &req); err != nil {
		h.writeError(w, ErrInvalidRequest, "invalid request body")
		return
	}

	view, err := h.engine.Cancel(r.Context(), r.PathValue("id"), req.Reason, caller)
	if err != nil {
		h.writeError(w, err, "")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) HandleAddToCart(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	res, err := h.engine.AddToCart(r.Context(), r.PathValue("id"), caller)
	if err != nil {
		h.writeError(w, err, "")
		return
	}
	h.writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	view, err := h.engine.Get(r.Context(), r.PathValue("id"), caller)
	if err != nil {
		h.writeError(w, err, "")
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := ListFilter{
		CustomerID: q.Get("customer_id"),
		VendorID:   q.Get("vendor_id"),
		ProductID:  q.Get("product_id"),
		ActiveOnly: q.Get("active") == "true",
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			h.writeError(w, ErrInvalidRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	views, err := h.engine.List(r.Context(), filter, caller)
	if err != nil {
		h.writeError(w, err, "")
		return
	}

	h.logger.Info("negotiations listed", "count", len(views))
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	stats, err := h.engine.Stats(r.Context(), StatsFilter{
		VendorID:  q.Get("vendor_id"),
		ProductID: q.Get("product_id"),
	}, caller)
	if err != nil {
		h.writeError(w, err, "")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	if !caller.Admin {
		h.writeError(w, ErrForbidden, "")
		return
	}

	n, err := h.engine.CleanupExpired(r.Context())
	if err != nil {
		// Partial sweeps still report how many sessions were closed.
		h.logger.Error("expiry sweep finished with errors", "error", err, "expired", n)
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"expired": n})
}

func (h *Handler) HandlePurge(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var age time.Duration
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			h.writeError(w, ErrInvalidRequest, "invalid older_than duration")
			return
		}
		age = d
	}

	n, err := h.engine.PurgeExpired(r.Context(), time.Now().UTC().Add(-age), caller)
	if err != nil {
		h.writeError(w, err, "")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (Caller, bool) {
	c, ok := CallerFromContext(r.Context())
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized", "code": "unauthorized"})
	}
	return c, ok
}

// decodeOptional decodes a JSON body into v, treating an empty body as {}.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// HTTPStatus maps an error code from ErrorCode onto an HTTP status.
func HTTPStatus(code string) int {
	switch code {
	case "invalid_price", "invalid_session_id", "invalid_request":
		return http.StatusBadRequest
	case "forbidden":
		return http.StatusForbidden
	case "session_not_found":
		return http.StatusNotFound
	case "session_inactive", "attempts_exhausted", "already_added", "not_accepted":
		return http.StatusConflict
	case "not_negotiable":
		return http.StatusUnprocessableEntity
	case "dependency_failure":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError maps err onto a status and error code. An empty message uses
// err's own text; internal errors are never echoed.
func (h *Handler) writeError(w http.ResponseWriter, err error, message string) {
	code := ErrorCode(err)
	status := HTTPStatus(code)
	if status == http.StatusInternalServerError {
		h.logger.Error("negotiation request failed", "error", err)
		message = "internal server error"
	}
	if message == "" {
		message = err.Error()
	}
	h.writeJSON(w, status, map[string]string{"error": message, "code": code})
}
