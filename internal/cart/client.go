package cart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/joao-fontenele/bargainflow/internal/domain"
)

// Client inserts negotiated items through the cart service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// AddNegotiatedItem returns the cart item id. Replays for the same
// negotiation return the id of the item created first.
func (c *Client) AddNegotiatedItem(ctx context.Context, item domain.CartItem) (string, error) {
	data, err := json.Marshal(addItemRequest{
		ProductID:     item.ProductID,
		Quantity:      item.Quantity,
		Price:         item.Price,
		NegotiationID: item.NegotiationID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal cart item: %w", err)
	}

	endpoint := fmt.Sprintf("%s/carts/%s/items", c.baseURL, url.PathEscape(item.CustomerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create cart request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("add cart item: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("cart service returned status %d", resp.StatusCode)
	}

	var created domain.CartItem
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode cart item: %w", err)
	}
	return created.ID, nil
}
