package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/joao-fontenele/bargainflow/internal/domain"
)

const productColumns = `id, vendor_id, name, price, status, negotiation_enabled, discount_percent`

type ListFilter struct {
	VendorID   string
	Status     domain.ProductStatus
	Negotiable bool
}

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) List(ctx context.Context, filter ListFilter) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE ($1 = '' OR vendor_id = $1)
		  AND ($2 = '' OR status = $2)
		  AND (NOT $3 OR negotiation_enabled)
		ORDER BY id
	`, filter.VendorID, string(filter.Status), filter.Negotiable)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	products := []domain.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

// Get returns (nil, nil) when the product does not exist.
func (r *ProductRepository) Get(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// UpdateNegotiation stores new negotiation settings and returns the updated
// product, or (nil, nil) when it does not exist.
func (r *ProductRepository) UpdateNegotiation(ctx context.Context, id string, settings domain.NegotiationSettings) (*domain.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, `
		UPDATE products
		SET negotiation_enabled = $2, discount_percent = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING `+productColumns,
		id, settings.Enabled, settings.DiscountPercent))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.VendorID, &p.Name, &p.Price, &p.Status,
		&p.Negotiation.Enabled, &p.Negotiation.DiscountPercent)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
