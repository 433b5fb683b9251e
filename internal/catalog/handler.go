package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/bargainflow/internal/auth"
	"github.com/joao-fontenele/bargainflow/internal/domain"
)

// MaxDiscountPercent caps the discount a vendor may configure.
const MaxDiscountPercent = 50

type Repository interface {
	List(ctx context.Context, filter ListFilter) ([]domain.Product, error)
	Get(ctx context.Context, id string) (*domain.Product, error)
	UpdateNegotiation(ctx context.Context, id string, settings domain.NegotiationSettings) (*domain.Product, error)
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

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		VendorID:   q.Get("vendor_id"),
		Status:     domain.ProductStatus(q.Get("status")),
		Negotiable: q.Get("negotiable") == "true",
	}

	products, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list products", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("products listed", "count", len(products))
	h.writeJSON(w, http.StatusOK, products)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	product, err := h.repo.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get product", "error", err, "product_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if product == nil {
		h.writeError(w, http.StatusNotFound, "product not found")
		return
	}

	h.writeJSON(w, http.StatusOK, product)
}

type negotiationRequest struct {
	Enabled         *bool    `json:"enabled"`
	DiscountPercent *float64 `json:"discount_percent"`
}

// HandleUpdateNegotiation lets the owning vendor (or an admin) toggle
// negotiation and set the discount.
func (h *Handler) HandleUpdateNegotiation(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := r.PathValue("id")
	var req negotiationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	product, err := h.repo.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get product", "error", err, "product_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if product == nil {
		h.writeError(w, http.StatusNotFound, "product not found")
		return
	}
	if product.VendorID != principal.ID && !principal.IsAdmin() {
		h.writeError(w, http.StatusForbidden, "only the product's vendor may change negotiation settings")
		return
	}

	settings := product.Negotiation
	if req.Enabled != nil {
		settings.Enabled = *req.Enabled
	}
	if req.DiscountPercent != nil {
		settings.DiscountPercent = *req.DiscountPercent
	}
	if settings.DiscountPercent < 0 || settings.DiscountPercent > MaxDiscountPercent {
		h.writeError(w, http.StatusBadRequest, "discount_percent must be between 0 and 50")
		return
	}

	updated, err := h.repo.UpdateNegotiation(r.Context(), id, settings)
	if err != nil {
		h.logger.Error("failed to update negotiation settings", "error", err, "product_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if updated == nil {
		h.writeError(w, http.StatusNotFound, "product not found")
		return
	}

	h.logger.Info("negotiation settings updated", "product_id", id, "enabled", settings.Enabled, "discount_percent", settings.DiscountPercent)
	h.writeJSON(w, http.StatusOK, updated)
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
