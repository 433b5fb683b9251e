package cart

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/joao-fontenele/bargainflow/internal/auth"
	"github.com/joao-fontenele/bargainflow/internal/domain"
)

type Repository interface {
	AddItem(ctx context.Context, item *domain.CartItem) (bool, error)
	GetCart(ctx context.Context, customerID string) (*domain.Cart, error)
	RemoveItem(ctx context.Context, customerID, itemID string) (bool, error)
}

type Handler struct {
	repo   Repository
	logger *slog.Logger
}

func NewHandler(repo Repository, logger *slog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		logger: logger,
	}
}

type addItemRequest struct {
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	Price         int64  `json:"price"`
	NegotiationID string `json:"negotiation_id"`
}

// HandleAddItem is called service-to-service by the negotiation service and
// is not exposed through the gateway. When a principal is present it must
// own the cart.
func (h *Handler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	customerID := r.PathValue("customerId")
	if p, ok := auth.FromContext(r.Context()); ok && p.ID != customerID && !p.IsAdmin() {
		h.writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" || req.Quantity <= 0 || req.Price <= 0 {
		h.writeError(w, http.StatusBadRequest, "product_id, positive quantity and positive price are required")
		return
	}

	item := &domain.CartItem{
		CustomerID:    customerID,
		ProductID:     req.ProductID,
		Quantity:      req.Quantity,
		Price:         req.Price,
		NegotiationID: req.NegotiationID,
		CreatedAt:     time.Now().UTC(),
	}

	created, err := h.repo.AddItem(r.Context(), item)
	if err != nil {
		h.logger.Error("failed to add cart item", "error", err, "customer_id", customerID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if !created {
		h.logger.Info("negotiated cart item already present", "item_id", item.ID, "negotiation_id", item.NegotiationID)
		h.writeJSON(w, http.StatusOK, item)
		return
	}

	h.logger.Info("cart item added", "item_id", item.ID, "customer_id", customerID, "negotiation_id", item.NegotiationID)
	h.writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	customerID := r.PathValue("customerId")
	if !h.authorize(w, r, customerID) {
		return
	}

	cart, err := h.repo.GetCart(r.Context(), customerID)
	if err != nil {
		h.logger.Error("failed to get cart", "error", err, "customer_id", customerID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("cart retrieved", "customer_id", customerID, "items", len(cart.Items))
	h.writeJSON(w, http.StatusOK, cart)
}

func (h *Handler) HandleRemoveItem(w http.ResponseWriter, r *http.Request) {
	customerID := r.PathValue("customerId")
	if !h.authorize(w, r, customerID) {
		return
	}

	itemID := r.PathValue("itemId")
	removed, err := h.repo.RemoveItem(r.Context(), customerID, itemID)
	if err != nil {
		h.logger.Error("failed to remove cart item", "error", err, "item_id", itemID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if !removed {
		h.writeError(w, http.StatusNotFound, "item not found")
		return
	}

	h.logger.Info("cart item removed", "item_id", itemID, "customer_id", customerID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, customerID string) bool {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	if p.ID != customerID && !p.IsAdmin() {
		h.writeError(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
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
