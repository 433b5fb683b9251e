package domain

type ProductStatus string

const (
	ProductStatusDraft     ProductStatus = "draft"
	ProductStatusPublished ProductStatus = "published"
	ProductStatusArchived  ProductStatus = "archived"
)

// NegotiationSettings is the vendor-controlled bargaining configuration of a
// product. DiscountPercent is the largest discount off the list price the bot
// may agree to.
type NegotiationSettings struct {
	Enabled         bool    `json:"enabled"`
	DiscountPercent float64 `json:"discount_percent"`
}

type Product struct {
	ID          string              `json:"id"`
	VendorID    string              `json:"vendor_id"`
	Name        string              `json:"name"`
	Price       int64               `json:"price"`
	Status      ProductStatus       `json:"status"`
	Negotiation NegotiationSettings `json:"negotiation"`
}
