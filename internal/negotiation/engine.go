package negotiation

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/bargainflow/internal/auth"
	"github.com/joao-fontenele/bargainflow/internal/domain"
	"github.com/joao-fontenele/bargainflow/internal/telemetry"
)

var tracer = otel.Tracer("negotiation/engine")

// ProductLookup returns (nil, nil) when the product does not exist.
type ProductLookup interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

// CartBridge inserts a negotiated price into a customer's cart and returns
// the cart handle. Implementations must be idempotent per negotiation id.
type CartBridge interface {
	AddNegotiatedItem(ctx context.Context, item domain.CartItem) (string, error)
}

type EventPublisher interface {
	PublishNegotiationEvent(ctx context.Context, event domain.NegotiationEvent) error
}

// Policy holds the platform-wide negotiation rules.
type Policy struct {
	MaxAttempts        int
	SessionTTL         time.Duration
	MinNegotiablePrice int64
	MaxDiscountPercent float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:        DefaultMaxAttempts,
		SessionTTL:         DefaultSessionTTL,
		MinNegotiablePrice: 100000,
		MaxDiscountPercent: DefaultMaxDiscountPercent,
	}
}

// Caller is the authorization capability handed in by the transport: who is
// calling and whether they hold the admin role.
type Caller struct {
	ID    string
	Admin bool
}

// CallerFromContext derives the caller capability from the authenticated
// principal on ctx.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	p, ok := auth.FromContext(ctx)
	if !ok {
		return Caller{}, false
	}
	return Caller{ID: p.ID, Admin: p.IsAdmin()}, true
}

func (c Caller) participates(s *Session) bool {
	return c.Admin || c.ID == s.CustomerID || c.ID == s.VendorID
}

func (c Caller) ownsSession(s *Session) bool {
	return c.Admin || c.ID == s.CustomerID
}

func (c Caller) moderates(s *Session) bool {
	return c.Admin || c.ID == s.VendorID
}

type Engine struct {
	store     Store
	products  ProductLookup
	cart      CartBridge
	publisher EventPublisher
	phrases   *Phrasebook
	evaluator *Evaluator
	policy    Policy
	metrics   *telemetry.NegotiationMetrics
	now       func() time.Time
	logger    *slog.Logger

	cartTimeout time.Duration
}

// DefaultCartTimeout bounds the cart call made while the session is locked.
const DefaultCartTimeout = 5 * time.Second

type EngineOption func(*Engine)

func WithPublisher(p EventPublisher) EngineOption {
	return func(e *Engine) { e.publisher = p }
}

func WithPolicy(p Policy) EngineOption {
	return func(e *Engine) { e.policy = p }
}

func WithPhrasebook(p *Phrasebook) EngineOption {
	return func(e *Engine) { e.phrases = p }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func WithMetrics(m *telemetry.NegotiationMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func WithCartTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.cartTimeout = d }
}

func NewEngine(store Store, products ProductLookup, cart CartBridge, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		products: products,
		cart:     cart,
		policy:   DefaultPolicy(),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,

		cartTimeout: DefaultCartTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.phrases == nil {
		e.phrases = NewPhrasebook(rand.NewSource(time.Now().UnixNano()), "")
	}
	e.evaluator = NewEvaluator(e.phrases)
	return e
}

type StartRequest struct {
	ProductID  string `json:"product_id"`
	CustomerID string `json:"customer_id"`
	ChannelID  string `json:"channel_session_id"`
}

type StartResult struct {
	Session  View   `json:"session"`
	Greeting string `json:"greeting"`
	Created  bool   `json:"created"`
}

// Start opens a session, or returns the caller's active session for the same
// product.
func (e *Engine) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	ctx, span := tracer.Start(ctx, "negotiation.start", trace.WithAttributes(
		attribute.String("product.id", req.ProductID),
	))
	defer span.End()

	res, err := e.start(ctx, req)
	recordSpanError(span, err)
	return res, err
}

func (e *Engine) start(ctx context.Context, req StartRequest) (StartResult, error) {
	if req.ProductID == "" || req.CustomerID == "" {
		return StartResult{}, &NotNegotiableError{Reason: "product and customer are required"}
	}

	product, err := e.products.GetProduct(ctx, req.ProductID)
	if err != nil {
		return StartResult{}, dependencyError("catalog", err)
	}
	if err := e.checkEligible(product, req.CustomerID); err != nil {
		return StartResult{}, err
	}

	if existing, ok, err := e.activeFor(ctx, req.ProductID, req.CustomerID); err != nil {
		return StartResult{}, err
	} else if ok {
		return e.startResult(existing, false), nil
	}

	now := e.now()
	s := NewSession(uuid.NewString(), *product, req.CustomerID, req.ChannelID, e.policy.MaxAttempts, e.policy.SessionTTL, now)
	if err := e.store.Create(ctx, s); err != nil {
		if !errors.Is(err, errSessionExists) {
			return StartResult{}, err
		}
		// Lost a race with a concurrent start for the same pair.
		existing, ok, err := e.activeFor(ctx, req.ProductID, req.CustomerID)
		if err != nil {
			return StartResult{}, err
		}
		if !ok {
			return StartResult{}, errSessionExists
		}
		return e.startResult(existing, false), nil
	}

	e.metrics.SessionStarted(ctx, s.ProductID)
	res := e.startResult(s, true)
	e.publish(ctx, s, domain.NegotiationEventStarted, DecisionGreeting, res.Greeting, nil)
	e.logger.Info("negotiation started", "session_id", s.ID, "product_id", s.ProductID, "customer_id", s.CustomerID)
	return res, nil
}

// activeFor returns the active in-progress session for the pair. A stale
// in-progress session is expired on the way.
func (e *Engine) activeFor(ctx context.Context, productID, customerID string) (*Session, bool, error) {
	existing, err := e.store.FindInProgress(ctx, productID, customerID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	now := e.now()
	if existing.IsActive(now) {
		return existing, true, nil
	}

	if _, err := e.expire(ctx, existing.ID, now); err != nil {
		return nil, false, err
	}
	return nil, false, nil
}

func (e *Engine) checkEligible(p *domain.Product, customerID string) error {
	switch {
	case p == nil:
		return &NotNegotiableError{Reason: "product not found"}
	case p.Status != domain.ProductStatusPublished:
		return &NotNegotiableError{Reason: "product is not published"}
	case !p.Negotiation.Enabled:
		return &NotNegotiableError{Reason: "negotiation is disabled for this product"}
	case p.Price < e.policy.MinNegotiablePrice:
		return &NotNegotiableError{Reason: "price is below the negotiable minimum"}
	case p.VendorID == customerID:
		return &NotNegotiableError{Reason: "vendors cannot negotiate on their own products"}
	}
	return nil
}

func (e *Engine) startResult(s *Session, created bool) StartResult {
	return StartResult{
		Session:  s.View(e.now()),
		Greeting: e.phrases.Greeting(s.OriginalPrice, s.AttemptsRemaining()),
		Created:  created,
	}
}

type Proposal struct {
	SessionID     string
	Text          string
	ProposedPrice *int64
	Caller        Caller
}

type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response is what the customer's channel receives for one message.
type Response struct {
	SessionID         string         `json:"session_id"`
	Decision          DecisionKind   `json:"decision_kind,omitempty"`
	Message           string         `json:"message,omitempty"`
	FinalPrice        *int64         `json:"final_price,omitempty"`
	MinPriceHint      *int64         `json:"min_price_hint,omitempty"`
	AttemptsRemaining int            `json:"attempts_remaining"`
	Status            Status         `json:"status,omitempty"`
	Error             *ResponseError `json:"error,omitempty"`
}

// Handle processes one customer message. Failures are reported in
// Response.Error and never returned.
func (e *Engine) Handle(ctx context.Context, p Proposal) Response {
	ctx, span := tracer.Start(ctx, "negotiation.handle", trace.WithAttributes(
		attribute.String("negotiation.session_id", p.SessionID),
	))
	defer span.End()

	resp, err := e.handle(ctx, p)
	if err != nil {
		recordSpanError(span, err)
		if ErrorCode(err) == "internal" {
			e.logger.Error("failed to handle negotiation message", "error", err, "session_id", p.SessionID)
		}
		resp.SessionID = p.SessionID
		resp.Error = &ResponseError{Code: ErrorCode(err), Message: err.Error()}
	}
	return resp
}

func (e *Engine) handle(ctx context.Context, p Proposal) (Response, error) {
	if _, err := uuid.Parse(p.SessionID); err != nil {
		return Response{}, ErrInvalidSessionID
	}
	if p.ProposedPrice != nil && *p.ProposedPrice <= 0 {
		return Response{}, ErrInvalidPrice
	}

	s, err := e.store.Get(ctx, p.SessionID)
	if err != nil {
		return Response{}, err
	}
	if !p.Caller.ownsSession(s) {
		return Response{}, ErrForbidden
	}

	if p.ProposedPrice == nil {
		return e.greeting(s), nil
	}

	// Closed and overdue sessions answer before the catalog is consulted.
	if now := e.now(); !s.IsActive(now) {
		if s.overdue(now) {
			if _, err := e.expire(ctx, s.ID, now); err != nil {
				return Response{}, err
			}
		}
		return Response{}, ErrSessionInactive
	}

	product, err := e.products.GetProduct(ctx, s.ProductID)
	if err != nil {
		return Response{}, dependencyError("catalog", err)
	}
	if product == nil {
		return Response{}, &NotNegotiableError{Reason: "product is no longer available"}
	}
	env := NewPriceEnvelope(s.OriginalPrice, product.Negotiation.DiscountPercent, e.policy.MaxDiscountPercent)

	price := *p.ProposedPrice
	var verdict Verdict
	updated, err := e.mutate(ctx, p.SessionID, func(s *Session) error {
		var err error
		verdict, err = s.Propose(e.evaluator, env, price, p.Text, e.now())
		return err
	})
	if err != nil {
		if updated != nil {
			e.publishClosure(ctx, updated)
		}
		return Response{}, err
	}

	e.metrics.ProposalEvaluated(ctx, string(verdict.Kind))

	resp := Response{
		SessionID:         updated.ID,
		Decision:          verdict.Kind,
		Message:           verdict.Message,
		AttemptsRemaining: updated.AttemptsRemaining(),
		Status:            updated.Status,
	}
	eventType := domain.NegotiationEventProposal
	switch verdict.Kind {
	case DecisionAccept:
		resp.FinalPrice = updated.FinalPrice
		eventType = domain.NegotiationEventAccepted
	case DecisionRejectWithHint:
		hint := verdict.MinPrice
		resp.MinPriceHint = &hint
	}

	e.publish(ctx, updated, eventType, verdict.Kind, verdict.Message, resp.MinPriceHint)
	return resp, nil
}

func (e *Engine) greeting(s *Session) Response {
	now := e.now()
	resp := Response{
		SessionID:         s.ID,
		Decision:          DecisionGreeting,
		Status:            s.EffectiveStatus(now),
		AttemptsRemaining: s.AttemptsRemaining(),
		FinalPrice:        s.FinalPrice,
	}
	if s.IsActive(now) {
		resp.Message = e.phrases.Greeting(s.OriginalPrice, s.AttemptsRemaining())
	} else {
		resp.AttemptsRemaining = 0
		resp.Message = e.phrases.Closed()
	}
	return resp
}

// Accept is the vendor or admin override that closes the session at
// finalPrice regardless of the bot's rules.
func (e *Engine) Accept(ctx context.Context, id string, finalPrice *int64, caller Caller) (View, error) {
	return e.override(ctx, "negotiation.accept", id, func(s *Session) error {
		if !caller.moderates(s) {
			return ErrForbidden
		}
		return s.Accept(finalPrice, "accepted by vendor", e.now())
	})
}

func (e *Engine) Reject(ctx context.Context, id, reason string, caller Caller) (View, error) {
	if reason == "" {
		reason = "rejected by vendor"
	}
	return e.override(ctx, "negotiation.reject", id, func(s *Session) error {
		if !caller.moderates(s) {
			return ErrForbidden
		}
		return s.Reject(reason, e.now())
	})
}

func (e *Engine) Cancel(ctx context.Context, id, reason string, caller Caller) (View, error) {
	if reason == "" {
		reason = "cancelled by customer"
	}
	return e.override(ctx, "negotiation.cancel", id, func(s *Session) error {
		if !caller.ownsSession(s) {
			return ErrForbidden
		}
		return s.Cancel(reason, e.now())
	})
}

func (e *Engine) override(ctx context.Context, op, id string, fn func(s *Session) error) (View, error) {
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attribute.String("negotiation.session_id", id)))
	defer span.End()

	if _, err := uuid.Parse(id); err != nil {
		recordSpanError(span, ErrInvalidSessionID)
		return View{}, ErrInvalidSessionID
	}

	updated, err := e.mutate(ctx, id, fn)
	if updated != nil {
		e.publishClosure(ctx, updated)
	}
	if err != nil {
		recordSpanError(span, err)
		return View{}, err
	}

	e.logger.Info("negotiation closed", "session_id", id, "status", updated.Status, "operation", op)
	return updated.View(e.now()), nil
}

type CartResult struct {
	CartItemID string `json:"cart_item_id"`
	Session    View   `json:"session"`
}

// AddToCart pushes the accepted price into the customer's cart once. A cart
// failure leaves the session untouched so the call can be retried.
func (e *Engine) AddToCart(ctx context.Context, id string, caller Caller) (CartResult, error) {
	ctx, span := tracer.Start(ctx, "negotiation.add_to_cart", trace.WithAttributes(attribute.String("negotiation.session_id", id)))
	defer span.End()

	if _, err := uuid.Parse(id); err != nil {
		recordSpanError(span, ErrInvalidSessionID)
		return CartResult{}, ErrInvalidSessionID
	}

	// The session row stays locked for the whole cart round-trip, so the
	// call is bounded by cartTimeout.
	updated, err := e.mutate(ctx, id, func(s *Session) error {
		if !caller.ownsSession(s) {
			return ErrForbidden
		}
		if err := s.CheckCartable(); err != nil {
			return err
		}

		cartCtx, cancel := context.WithTimeout(ctx, e.cartTimeout)
		defer cancel()
		handle, err := e.cart.AddNegotiatedItem(cartCtx, domain.CartItem{
			CustomerID:    s.CustomerID,
			ProductID:     s.ProductID,
			Quantity:      1,
			Price:         *s.FinalPrice,
			NegotiationID: s.ID,
		})
		if err != nil {
			return dependencyError("cart", err)
		}
		return s.MarkAddedToCart(handle, e.now())
	})
	if err != nil {
		recordSpanError(span, err)
		return CartResult{}, err
	}

	e.publish(ctx, updated, domain.NegotiationEventAddedToCart, "", "", nil)
	e.logger.Info("negotiated price added to cart", "session_id", id, "cart_item_id", updated.CartItemID)
	return CartResult{CartItemID: updated.CartItemID, Session: updated.View(e.now())}, nil
}

func (e *Engine) Get(ctx context.Context, id string, caller Caller) (View, error) {
	if _, err := uuid.Parse(id); err != nil {
		return View{}, ErrInvalidSessionID
	}

	s, err := e.store.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	if !caller.participates(s) {
		return View{}, ErrForbidden
	}
	return s.View(e.now()), nil
}

// List scopes the filter to the caller unless the caller is an admin.
func (e *Engine) List(ctx context.Context, filter ListFilter, caller Caller) ([]View, error) {
	if !caller.Admin {
		if filter.VendorID != caller.ID {
			filter.CustomerID = caller.ID
			filter.VendorID = ""
		}
	}
	filter.Now = e.now()

	sessions, err := e.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	views := make([]View, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, s.View(filter.Now))
	}
	return views, nil
}

func (e *Engine) Stats(ctx context.Context, filter StatsFilter, caller Caller) (Stats, error) {
	if !caller.Admin {
		filter.VendorID = caller.ID
	}
	return e.store.Stats(ctx, filter)
}

// CleanupExpired expires every in-progress session past its deadline. It is
// safe to run concurrently with proposals and with itself.
func (e *Engine) CleanupExpired(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "negotiation.cleanup_expired")
	defer span.End()

	now := e.now()
	ids, err := e.store.ListOverdue(ctx, now)
	if err != nil {
		recordSpanError(span, err)
		return 0, err
	}

	var (
		count int
		errs  []error
	)
	for _, id := range ids {
		expired, err := e.expire(ctx, id, now)
		if err != nil {
			e.logger.Error("failed to expire negotiation", "error", err, "session_id", id)
			errs = append(errs, err)
			continue
		}
		if expired {
			count++
		}
	}

	span.SetAttributes(attribute.Int("negotiation.expired", count))
	err = errors.Join(errs...)
	recordSpanError(span, err)
	return count, err
}

// PurgeExpired deletes expired sessions last touched before olderThan.
func (e *Engine) PurgeExpired(ctx context.Context, olderThan time.Time, caller Caller) (int, error) {
	if !caller.Admin {
		return 0, ErrForbidden
	}
	n, err := e.store.DeleteExpired(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	e.logger.Info("expired negotiations purged", "count", n, "older_than", olderThan)
	return n, nil
}

var errUnchanged = errors.New("session unchanged")

func (e *Engine) expire(ctx context.Context, id string, now time.Time) (bool, error) {
	updated, err := e.store.Update(ctx, id, func(s *Session) error {
		if !s.Expire(now) {
			return errUnchanged
		}
		return nil
	})
	if errors.Is(err, errUnchanged) || errors.Is(err, ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	e.publishClosure(ctx, updated)
	return true, nil
}

// mutate runs fn under the store's per-session exclusivity. A failing fn
// that nevertheless changed the session (lazy expiry, attempt exhaustion)
// is committed and the updated session is returned alongside the error.
func (e *Engine) mutate(ctx context.Context, id string, fn func(s *Session) error) (*Session, error) {
	var opErr error
	updated, err := e.store.Update(ctx, id, func(s *Session) error {
		before := s.revision
		opErr = fn(s)
		if opErr != nil && s.revision == before {
			return opErr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, opErr
}

// publishClosure emits the event matching a terminal status reached outside
// a normal proposal.
func (e *Engine) publishClosure(ctx context.Context, s *Session) {
	var eventType domain.NegotiationEventType
	decision := DecisionKind("")
	switch s.Status {
	case StatusAccepted:
		eventType = domain.NegotiationEventAccepted
		decision = DecisionAccept
	case StatusRejected:
		eventType = domain.NegotiationEventRejected
	case StatusCancelled:
		eventType = domain.NegotiationEventCancelled
	case StatusExpired:
		eventType = domain.NegotiationEventExpired
	default:
		return
	}
	e.publish(ctx, s, eventType, decision, s.Result.Reason, nil)
}

// publish is fire-and-forget: the session is already committed, so failures
// are only logged.
func (e *Engine) publish(ctx context.Context, s *Session, eventType domain.NegotiationEventType, decision DecisionKind, message string, hint *int64) {
	if s.Status.Terminal() && eventType != domain.NegotiationEventAddedToCart {
		e.metrics.SessionClosed(ctx, string(s.Status), s.SavingsPercent())
	}
	if e.publisher == nil {
		return
	}

	event := domain.NegotiationEvent{
		SessionID:         s.ID,
		ChannelID:         s.ChannelID,
		Type:              eventType,
		ProductID:         s.ProductID,
		CustomerID:        s.CustomerID,
		VendorID:          s.VendorID,
		Status:            string(s.Status),
		DecisionKind:      string(decision),
		Message:           message,
		ProposedPrice:     s.ProposedPrice,
		FinalPrice:        s.FinalPrice,
		MinPriceHint:      hint,
		AttemptsRemaining: s.AttemptsRemaining(),
		Timestamp:         e.now(),
	}
	if err := e.publisher.PublishNegotiationEvent(ctx, event); err != nil {
		e.logger.Error("failed to publish negotiation event", "error", err, "session_id", s.ID, "type", eventType)
	}
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
