package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joao-fontenele/bargainflow/internal/auth"
	"github.com/joao-fontenele/bargainflow/internal/domain"
)

type fakeRepository struct {
	products map[string]domain.Product
	err      error
}

func (f *fakeRepository) List(ctx context.Context, filter ListFilter) ([]domain.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Product
	for _, p := range f.products {
		if filter.VendorID != "" && p.VendorID != filter.VendorID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeRepository) Get(ctx context.Context, id string) (*domain.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeRepository) UpdateNegotiation(ctx context.Context, id string, s domain.NegotiationSettings) (*domain.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, nil
	}
	p.Negotiation = s
	f.products[id] = p
	return &p, nil
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{products: map[string]domain.Product{
		"PROD-001": {ID: "PROD-001", VendorID: "vendor-1", Name: "Teapot", Price: 450000, Status: domain.ProductStatusPublished,
			Negotiation: domain.NegotiationSettings{Enabled: true, DiscountPercent: 15}},
	}}
}

func newTestMux(repo Repository) *http.ServeMux {
	h := NewHandler(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /products", h.HandleList)
	mux.HandleFunc("GET /products/{id}", h.HandleGet)
	mux.HandleFunc("PATCH /products/{id}/negotiation", h.HandleUpdateNegotiation)
	return mux
}

func TestHandler_HandleGet(t *testing.T) {
	mux := newTestMux(newFakeRepository())

	t.Run("returns product", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/PROD-001", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		var p domain.Product
		if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if p.Price != 450000 || !p.Negotiation.Enabled {
			t.Errorf("unexpected product: %+v", p)
		}
	})

	t.Run("returns 404 for unknown product", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/NOPE", nil))

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})

	t.Run("returns 500 on repository error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestMux(&fakeRepository{err: errors.New("db down")}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/products/PROD-001", nil))

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rec.Code)
		}
	})
}

func TestHandler_HandleUpdateNegotiation(t *testing.T) {
	patch := func(mux http.Handler, body string, p *auth.Principal) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPatch, "/products/PROD-001/negotiation", strings.NewReader(body))
		if p != nil {
			req = req.WithContext(auth.WithPrincipal(req.Context(), *p))
		}
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}
	owner := &auth.Principal{ID: "vendor-1", Role: auth.RoleVendor}

	t.Run("owner updates discount", func(t *testing.T) {
		repo := newFakeRepository()
		rec := patch(newTestMux(repo), `{"discount_percent":20}`, owner)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}
		got := repo.products["PROD-001"].Negotiation
		if got.DiscountPercent != 20 || !got.Enabled {
			t.Errorf("unexpected settings: %+v", got)
		}
	})

	t.Run("rejects discount above cap", func(t *testing.T) {
		rec := patch(newTestMux(newFakeRepository()), `{"discount_percent":60}`, owner)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("other vendors are forbidden", func(t *testing.T) {
		rec := patch(newTestMux(newFakeRepository()), `{"enabled":false}`, &auth.Principal{ID: "vendor-2", Role: auth.RoleVendor})
		if rec.Code != http.StatusForbidden {
			t.Errorf("expected status 403, got %d", rec.Code)
		}
	})

	t.Run("admin may disable", func(t *testing.T) {
		repo := newFakeRepository()
		rec := patch(newTestMux(repo), `{"enabled":false}`, &auth.Principal{ID: "admin-1", Role: auth.RoleAdmin})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if repo.products["PROD-001"].Negotiation.Enabled {
			t.Error("expected negotiation disabled")
		}
	})

	t.Run("anonymous is unauthorized", func(t *testing.T) {
		rec := patch(newTestMux(newFakeRepository()), `{"enabled":false}`, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rec.Code)
		}
	})
}

func TestClient_GetProduct(t *testing.T) {
	server := httptest.NewServer(newTestMux(newFakeRepository()))
	defer server.Close()
	client := NewClient(server.URL, server.Client())

	t.Run("decodes product", func(t *testing.T) {
		p, err := client.GetProduct(context.Background(), "PROD-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p == nil || p.VendorID != "vendor-1" || p.Negotiation.DiscountPercent != 15 {
			t.Errorf("unexpected product: %+v", p)
		}
	})

	t.Run("missing product is nil without error", func(t *testing.T) {
		p, err := client.GetProduct(context.Background(), "NOPE")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p != nil {
			t.Errorf("expected nil, got %+v", p)
		}
	})

	t.Run("server errors are returned", func(t *testing.T) {
		failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer failing.Close()

		if _, err := NewClient(failing.URL, failing.Client()).GetProduct(context.Background(), "PROD-001"); err == nil {
			t.Error("expected error")
		}
	})
}
