package cart

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/joao-fontenele/bargainflow/internal/domain"
)

type CartRepository struct {
	db *sql.DB
}

func NewCartRepository(db *sql.DB) *CartRepository {
	return &CartRepository{db: db}
}

// AddItem inserts item and reports whether a new row was created. An item
// carrying a negotiation id is inserted at most once; a replay returns the
// stored row.
func (r *CartRepository) AddItem(ctx context.Context, item *domain.CartItem) (bool, error) {
	item.ID = uuid.New().String()

	negotiationID := sql.NullString{String: item.NegotiationID, Valid: item.NegotiationID != ""}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO items (id, customer_id, product_id, quantity, price, negotiation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (negotiation_id) WHERE negotiation_id IS NOT NULL DO NOTHING
		RETURNING id
	`, item.ID, item.CustomerID, item.ProductID, item.Quantity, item.Price, negotiationID, item.CreatedAt).Scan(&item.ID)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) || !negotiationID.Valid {
		return false, err
	}

	existing, err := r.getByNegotiation(ctx, item.NegotiationID)
	if err != nil {
		return false, err
	}
	*item = *existing
	return false, nil
}

func (r *CartRepository) getByNegotiation(ctx context.Context, negotiationID string) (*domain.CartItem, error) {
	var (
		item domain.CartItem
		nid  sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, customer_id, product_id, quantity, price, negotiation_id, created_at
		FROM items
		WHERE negotiation_id = $1
	`, negotiationID).Scan(&item.ID, &item.CustomerID, &item.ProductID, &item.Quantity, &item.Price, &nid, &item.CreatedAt)
	if err != nil {
		return nil, err
	}
	item.NegotiationID = nid.String
	return &item, nil
}

func (r *CartRepository) GetCart(ctx context.Context, customerID string) (*domain.Cart, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, customer_id, product_id, quantity, price, negotiation_id, created_at
		FROM items
		WHERE customer_id = $1
		ORDER BY created_at
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cart := &domain.Cart{CustomerID: customerID, Items: []domain.CartItem{}}
	for rows.Next() {
		var (
			item domain.CartItem
			nid  sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.CustomerID, &item.ProductID, &item.Quantity, &item.Price, &nid, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.NegotiationID = nid.String
		cart.Items = append(cart.Items, item)
		cart.Total += int64(item.Quantity) * item.Price
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return cart, nil
}

// RemoveItem reports false when the customer has no such item.
func (r *CartRepository) RemoveItem(ctx context.Context, customerID, itemID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM items
		WHERE id = $1 AND customer_id = $2
	`, itemID, customerID)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rowsAffected > 0, nil
}
