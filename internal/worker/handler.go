package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joao-fontenele/bargainflow/internal/domain"
	"github.com/joao-fontenele/bargainflow/internal/messaging"
)

// ProductLookup resolves product names for email bodies. A nil lookup, a
// lookup error or a missing product falls back to the product id.
type ProductLookup interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

type NotificationHandler struct {
	emailServiceURL string
	products        ProductLookup
	currency        string
	httpClient      *http.Client
	printer         *message.Printer
	logger          *slog.Logger
}

func NewNotificationHandler(emailServiceURL string, products ProductLookup, currency string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		emailServiceURL: emailServiceURL,
		products:        products,
		currency:        currency,
		httpClient:      client,
		printer:         message.NewPrinter(language.English),
		logger:          logger,
	}
}

type email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *NotificationHandler) Handle(ctx context.Context, d messaging.Delivery) error {
	var event domain.NegotiationEvent
	if err := json.Unmarshal(d.Payload, &event); err != nil {
		return fmt.Errorf("unmarshal negotiation event: %w: %w", messaging.ErrPermanent, err)
	}

	emails := h.emailsFor(ctx, event)
	if len(emails) == 0 {
		h.logger.Debug("ignoring negotiation event", "session_id", event.SessionID, "type", event.Type)
		return nil
	}

	h.logger.Info("processing negotiation event", "session_id", event.SessionID, "type", event.Type, "emails", len(emails))

	for _, e := range emails {
		if err := h.sendEmail(ctx, e); err != nil {
			h.logger.Error("failed to send email", "error", err, "session_id", event.SessionID, "to", e.To)
			return fmt.Errorf("send %s email: %w", event.Type, err)
		}
	}

	h.logger.Info("negotiation notifications sent", "session_id", event.SessionID, "type", event.Type)
	return nil
}

func (h *NotificationHandler) emailsFor(ctx context.Context, event domain.NegotiationEvent) []email {
	switch event.Type {
	case domain.NegotiationEventAccepted:
		name := h.productName(ctx, event.ProductID)
		price := h.formatPrice(event.FinalPrice)
		return []email{
			{
				To:      address(event.CustomerID),
				Subject: "Offer accepted: " + name,
				Body:    fmt.Sprintf("Your offer for %s was accepted at %s. Add it to your cart to keep the price.", name, price),
			},
			{
				To:      address(event.VendorID),
				Subject: "Negotiation closed: " + name,
				Body:    fmt.Sprintf("A customer agreed to buy %s at %s (session %s).", name, price, event.SessionID),
			},
		}
	case domain.NegotiationEventRejected:
		name := h.productName(ctx, event.ProductID)
		return []email{{
			To:      address(event.CustomerID),
			Subject: "Negotiation ended: " + name,
			Body:    fmt.Sprintf("Your negotiation for %s has ended without a deal. %s", name, event.Message),
		}}
	case domain.NegotiationEventExpired:
		name := h.productName(ctx, event.ProductID)
		return []email{{
			To:      address(event.CustomerID),
			Subject: "Negotiation expired: " + name,
			Body:    fmt.Sprintf("Your negotiation for %s expired. You can start a new one at any time.", name),
		}}
	case domain.NegotiationEventCancelled:
		name := h.productName(ctx, event.ProductID)
		return []email{{
			To:      address(event.VendorID),
			Subject: "Negotiation cancelled: " + name,
			Body:    fmt.Sprintf("The customer cancelled the negotiation for %s (session %s).", name, event.SessionID),
		}}
	default:
		return nil
	}
}

func (h *NotificationHandler) productName(ctx context.Context, productID string) string {
	if h.products == nil {
		return productID
	}
	p, err := h.products.GetProduct(ctx, productID)
	if err != nil {
		h.logger.Warn("failed to look up product", "error", err, "product_id", productID)
		return productID
	}
	if p == nil || p.Name == "" {
		return productID
	}
	return p.Name
}

func (h *NotificationHandler) formatPrice(price *int64) string {
	if price == nil {
		return "the agreed price"
	}
	return h.printer.Sprintf("%d %s", *price, h.currency)
}

func address(userID string) string {
	return userID + "@example.com"
}

func (h *NotificationHandler) sendEmail(ctx context.Context, e email) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
