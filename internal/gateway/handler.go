package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

type Handler struct {
	negotiationsProxy *ServiceProxy
	catalogProxy      *ServiceProxy
	cartProxy         *ServiceProxy
	logger            *slog.Logger
}

func NewHandler(negotiationsProxy, catalogProxy, cartProxy *ServiceProxy, logger *slog.Logger) *Handler {
	return &Handler{
		negotiationsProxy: negotiationsProxy,
		catalogProxy:      catalogProxy,
		cartProxy:         cartProxy,
		logger:            logger,
	}
}

// Register exposes the public routes. Cart insertion stays internal to the
// negotiation service and websocket upgrades go to it directly.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/negotiations", h.HandleNegotiations)
	mux.HandleFunc("/negotiations/", h.HandleNegotiations)
	mux.HandleFunc("GET /products", h.HandleCatalog)
	mux.HandleFunc("GET /products/{id}", h.HandleCatalog)
	mux.HandleFunc("PATCH /products/{id}/negotiation", h.HandleCatalog)
	mux.HandleFunc("GET /carts/{customerId}", h.HandleCart)
	mux.HandleFunc("DELETE /carts/{customerId}/items/{itemId}", h.HandleCart)
}

func (h *Handler) HandleNegotiations(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.negotiationsProxy, r.URL.Path)
}

func (h *Handler) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.catalogProxy, r.URL.Path)
}

func (h *Handler) HandleCart(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.cartProxy, r.URL.Path)
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy, path string) {
	resp, err := proxy.ForwardRequest(r.Context(), r, path)
	if err != nil {
		h.logger.Error("failed to forward request", "error", err, "path", path)
		h.writeError(w, http.StatusBadGateway, "service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.Info("request proxied", "method", r.Method, "path", path, "status", resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("failed to copy response body", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
