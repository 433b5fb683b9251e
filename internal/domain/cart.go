package domain

import "time"

type CartItem struct {
	ID            string    `json:"id"`
	CustomerID    string    `json:"customer_id"`
	ProductID     string    `json:"product_id"`
	Quantity      int       `json:"quantity"`
	Price         int64     `json:"price"`
	NegotiationID string    `json:"negotiation_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type Cart struct {
	CustomerID string     `json:"customer_id"`
	Items      []CartItem `json:"items"`
	Total      int64      `json:"total"`
}
