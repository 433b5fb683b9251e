package domain

import "time"

type NegotiationEventType string

const (
	NegotiationEventStarted     NegotiationEventType = "started"
	NegotiationEventProposal    NegotiationEventType = "proposal"
	NegotiationEventAccepted    NegotiationEventType = "accepted"
	NegotiationEventRejected    NegotiationEventType = "rejected"
	NegotiationEventCancelled   NegotiationEventType = "cancelled"
	NegotiationEventExpired     NegotiationEventType = "expired"
	NegotiationEventAddedToCart NegotiationEventType = "added_to_cart"
)

// NegotiationEvent is broadcast to the live views of a session and published
// to the negotiation topic. It never carries the undisclosed price floor.
type NegotiationEvent struct {
	SessionID         string               `json:"session_id"`
	ChannelID         string               `json:"channel_id,omitempty"`
	Type              NegotiationEventType `json:"type"`
	ProductID         string               `json:"product_id"`
	CustomerID        string               `json:"customer_id"`
	VendorID          string               `json:"vendor_id"`
	Status            string               `json:"status"`
	DecisionKind      string               `json:"decision_kind,omitempty"`
	Message           string               `json:"message,omitempty"`
	ProposedPrice     *int64               `json:"proposed_price,omitempty"`
	FinalPrice        *int64               `json:"final_price,omitempty"`
	MinPriceHint      *int64               `json:"min_price_hint,omitempty"`
	AttemptsRemaining int                  `json:"attempts_remaining"`
	Timestamp         time.Time            `json:"timestamp"`
}
