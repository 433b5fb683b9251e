package negotiation

import (
	"math"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joao-fontenele/bargainflow/internal/domain"
)

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusAccepted   Status = "accepted"
	StatusRejected   Status = "rejected"
	StatusExpired    Status = "expired"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further proposals can be made in status s.
func (s Status) Terminal() bool {
	return s != StatusInProgress
}

func (s Status) Valid() bool {
	switch s {
	case StatusInProgress, StatusAccepted, StatusRejected, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderBot      Sender = "bot"
)

const (
	DefaultMaxAttempts = 5
	DefaultSessionTTL  = 24 * time.Hour

	reasonMaxAttempts = "max attempts reached"
	reasonExpired     = "negotiation session expired"
)

type Message struct {
	ID            string       `json:"id"`
	Sender        Sender       `json:"sender"`
	Text          string       `json:"text"`
	ProposedPrice *int64       `json:"proposed_price,omitempty"`
	Decision      DecisionKind `json:"decision,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

type Result struct {
	AcceptedAt            *time.Time `json:"accepted_at,omitempty"`
	RejectedAt            *time.Time `json:"rejected_at,omitempty"`
	Reason                string     `json:"reason,omitempty"`
	TimeToCompleteMinutes *int       `json:"time_to_complete_minutes,omitempty"`
}

// Session is one customer's bargaining over one product. All state changes
// go through its methods; the message log is append-only.
type Session struct {
	ID            string
	ProductID     string
	CustomerID    string
	VendorID      string
	ChannelID     string
	Status        Status
	OriginalPrice int64
	ProposedPrice *int64
	FinalPrice    *int64
	Attempts      int
	MaxAttempts   int
	ExpiresAt     time.Time
	Result        Result
	AddedToCart   bool
	CartItemID    string
	CreatedAt     time.Time
	UpdatedAt     time.Time

	messages []Message
	// persisted is the number of messages already written by the store.
	persisted int
	revision  int
}

func NewSession(id string, product domain.Product, customerID, channelID string, maxAttempts int, ttl time.Duration, now time.Time) *Session {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Session{
		ID:            id,
		ProductID:     product.ID,
		CustomerID:    customerID,
		VendorID:      product.VendorID,
		ChannelID:     channelID,
		Status:        StatusInProgress,
		OriginalPrice: product.Price,
		MaxAttempts:   maxAttempts,
		ExpiresAt:     now.Add(ttl),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsActive is the single predicate for "may still be negotiated". Listing
// queries and the expiry sweep use the same condition.
func (s *Session) IsActive(now time.Time) bool {
	return s.Status == StatusInProgress && now.Before(s.ExpiresAt)
}

func (s *Session) overdue(now time.Time) bool {
	return s.Status == StatusInProgress && !now.Before(s.ExpiresAt)
}

// EffectiveStatus reports expired for an in-progress session past its
// deadline even when the transition has not been recorded yet.
func (s *Session) EffectiveStatus(now time.Time) Status {
	if s.overdue(now) {
		return StatusExpired
	}
	return s.Status
}

func (s *Session) AttemptsRemaining() int {
	if s.Status.Terminal() {
		return 0
	}
	return max(s.MaxAttempts-s.Attempts, 0)
}

// Messages returns a copy of the conversation in insertion order.
func (s *Session) Messages() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) unsavedMessages() []Message {
	return s.messages[s.persisted:]
}

func (s *Session) markSaved() {
	s.persisted = len(s.messages)
}

// Savings is originalPrice - finalPrice; nil until the session is accepted.
func (s *Session) Savings() *int64 {
	if s.FinalPrice == nil {
		return nil
	}
	v := s.OriginalPrice - *s.FinalPrice
	return &v
}

func (s *Session) SavingsPercent() *float64 {
	savings := s.Savings()
	if savings == nil || s.OriginalPrice == 0 {
		return nil
	}
	pct := math.Round(float64(*savings)/float64(s.OriginalPrice)*10000) / 100
	return &pct
}

// ensureActive records a lazy expiry before reporting the session inactive.
func (s *Session) ensureActive(now time.Time) error {
	if s.Status != StatusInProgress {
		return ErrSessionInactive
	}
	if s.overdue(now) {
		s.Expire(now)
		return ErrSessionInactive
	}
	return nil
}

// Propose records one customer offer and the bot's reply. Only an Accept
// decision closes the session; running out of attempts is detected on the
// next offer.
func (s *Session) Propose(eval *Evaluator, env PriceEnvelope, price int64, text string, now time.Time) (Verdict, error) {
	if price <= 0 {
		return Verdict{}, ErrInvalidPrice
	}
	if err := s.ensureActive(now); err != nil {
		return Verdict{}, err
	}
	if s.Attempts >= s.MaxAttempts {
		s.reject(reasonMaxAttempts, now)
		return Verdict{}, ErrAttemptsExhausted
	}

	attempt := s.Attempts + 1
	verdict, err := eval.Evaluate(s.OriginalPrice, env.MinAcceptablePrice, price, attempt)
	if err != nil {
		return Verdict{}, err
	}

	s.Attempts = attempt
	offered := price
	s.ProposedPrice = &offered
	s.appendMessage(Message{
		Sender:        SenderCustomer,
		Text:          text,
		ProposedPrice: &offered,
		CreatedAt:     now,
	})
	s.appendMessage(Message{
		Sender:    SenderBot,
		Text:      verdict.Message,
		Decision:  verdict.Kind,
		CreatedAt: now,
	})

	if verdict.Kind == DecisionAccept {
		s.accept(price, "", now)
	}
	s.touch(now)
	return verdict, nil
}

// Accept force-accepts the session. A nil finalPrice falls back to the
// latest offer, then to the original price.
func (s *Session) Accept(finalPrice *int64, reason string, now time.Time) error {
	if err := s.ensureActive(now); err != nil {
		return err
	}

	price := s.OriginalPrice
	switch {
	case finalPrice != nil:
		price = *finalPrice
	case s.ProposedPrice != nil:
		price = *s.ProposedPrice
	}
	if price <= 0 {
		return ErrInvalidPrice
	}

	s.accept(price, reason, now)
	return nil
}

func (s *Session) Reject(reason string, now time.Time) error {
	if err := s.ensureActive(now); err != nil {
		return err
	}
	s.reject(reason, now)
	return nil
}

func (s *Session) Cancel(reason string, now time.Time) error {
	if err := s.ensureActive(now); err != nil {
		return err
	}
	s.close(StatusCancelled, reason, now)
	return nil
}

// Expire closes an overdue in-progress session. It reports whether anything
// changed, so repeated sweeps are no-ops.
func (s *Session) Expire(now time.Time) bool {
	if !s.overdue(now) {
		return false
	}
	s.close(StatusExpired, reasonExpired, now)
	return true
}

// CheckCartable reports whether the accepted price may be pushed to the cart.
func (s *Session) CheckCartable() error {
	if s.Status != StatusAccepted {
		return ErrNotAccepted
	}
	if s.AddedToCart {
		return ErrAlreadyAdded
	}
	return nil
}

func (s *Session) MarkAddedToCart(cartItemID string, now time.Time) error {
	if err := s.CheckCartable(); err != nil {
		return err
	}
	s.AddedToCart = true
	s.CartItemID = cartItemID
	s.touch(now)
	return nil
}

func (s *Session) accept(price int64, reason string, now time.Time) {
	final := price
	s.FinalPrice = &final
	s.Status = StatusAccepted
	at := now
	s.Result.AcceptedAt = &at
	if reason != "" {
		s.Result.Reason = reason
	}
	minutes := int(now.Sub(s.CreatedAt).Round(time.Minute) / time.Minute)
	s.Result.TimeToCompleteMinutes = &minutes
	s.touch(now)
}

func (s *Session) reject(reason string, now time.Time) {
	s.close(StatusRejected, reason, now)
}

func (s *Session) close(status Status, reason string, now time.Time) {
	s.Status = status
	at := now
	s.Result.RejectedAt = &at
	s.Result.Reason = reason
	s.touch(now)
}

func (s *Session) touch(now time.Time) {
	s.UpdatedAt = now
	s.revision++
}

func (s *Session) appendMessage(m Message) {
	m.ID = ulid.Make().String()
	s.messages = append(s.messages, m)
}

func (s *Session) clone() *Session {
	c := *s
	c.messages = s.Messages()
	c.ProposedPrice = clonePrice(s.ProposedPrice)
	c.FinalPrice = clonePrice(s.FinalPrice)
	c.Result = Result{
		AcceptedAt:            cloneTime(s.Result.AcceptedAt),
		RejectedAt:            cloneTime(s.Result.RejectedAt),
		Reason:                s.Result.Reason,
		TimeToCompleteMinutes: cloneInt(s.Result.TimeToCompleteMinutes),
	}
	return &c
}

func clonePrice(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(i *int) *int {
	if i == nil {
		return nil
	}
	v := *i
	return &v
}

// View is the read model returned to callers. The price floor is not part
// of it.
type View struct {
	ID                string    `json:"id"`
	ProductID         string    `json:"product_id"`
	CustomerID        string    `json:"customer_id"`
	VendorID          string    `json:"vendor_id"`
	Status            Status    `json:"status"`
	OriginalPrice     int64     `json:"original_price"`
	ProposedPrice     *int64    `json:"proposed_price,omitempty"`
	FinalPrice        *int64    `json:"final_price,omitempty"`
	Savings           *int64    `json:"savings,omitempty"`
	SavingsPercent    *float64  `json:"savings_percent,omitempty"`
	Attempts          int       `json:"attempts"`
	MaxAttempts       int       `json:"max_attempts"`
	AttemptsRemaining int       `json:"attempts_remaining"`
	Messages          []Message `json:"messages"`
	ExpiresAt         time.Time `json:"expires_at"`
	Result            Result    `json:"result"`
	AddedToCart       bool      `json:"added_to_cart"`
	CartItemID        string    `json:"cart_item_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func (s *Session) View(now time.Time) View {
	status := s.EffectiveStatus(now)
	remaining := s.AttemptsRemaining()
	if status.Terminal() {
		remaining = 0
	}
	return View{
		ID:                s.ID,
		ProductID:         s.ProductID,
		CustomerID:        s.CustomerID,
		VendorID:          s.VendorID,
		Status:            status,
		OriginalPrice:     s.OriginalPrice,
		ProposedPrice:     s.ProposedPrice,
		FinalPrice:        s.FinalPrice,
		Savings:           s.Savings(),
		SavingsPercent:    s.SavingsPercent(),
		Attempts:          s.Attempts,
		MaxAttempts:       s.MaxAttempts,
		AttemptsRemaining: remaining,
		Messages:          s.Messages(),
		ExpiresAt:         s.ExpiresAt,
		Result:            s.Result,
		AddedToCart:       s.AddedToCart,
		CartItemID:        s.CartItemID,
		CreatedAt:         s.CreatedAt,
	}
}
