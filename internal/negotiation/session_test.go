package negotiation

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/joao-fontenele/bargainflow/internal/domain"
)

var baseTime = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func testProduct() domain.Product {
	return domain.Product{
		ID:          "PROD-001",
		VendorID:    "vendor-1",
		Name:        "Ceramic teapot",
		Price:       listPrice,
		Status:      domain.ProductStatusPublished,
		Negotiation: domain.NegotiationSettings{Enabled: true, DiscountPercent: 15},
	}
}

func newTestSession() *Session {
	return NewSession("8f14e45f-ceea-467f-a8f4-6f2b0b6c4a11", testProduct(), "customer-1", "chan-1", DefaultMaxAttempts, DefaultSessionTTL, baseTime)
}

func testEnvelope() PriceEnvelope {
	return NewPriceEnvelope(listPrice, 15, DefaultMaxDiscountPercent)
}

func testEvaluator() *Evaluator {
	return NewEvaluator(NewPhrasebook(rand.NewSource(7), "VND"))
}

func TestSession_Propose(t *testing.T) {
	eval, env := testEvaluator(), testEnvelope()

	t.Run("offer above list price is accepted", func(t *testing.T) {
		s := newTestSession()
		now := baseTime.Add(12 * time.Minute)

		v, err := s.Propose(eval, env, 460000, "take my money", now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v.Kind != DecisionAccept {
			t.Errorf("expected accept, got %s", v.Kind)
		}
		if s.Status != StatusAccepted {
			t.Errorf("expected accepted, got %s", s.Status)
		}
		if s.FinalPrice == nil || *s.FinalPrice != 460000 {
			t.Errorf("expected final price 460000, got %v", s.FinalPrice)
		}
		if got := s.Savings(); got == nil || *got != -10000 {
			t.Errorf("expected savings -10000, got %v", got)
		}
		if s.Result.AcceptedAt == nil || !s.Result.AcceptedAt.Equal(now) {
			t.Errorf("expected accepted at %v, got %v", now, s.Result.AcceptedAt)
		}
		if s.Result.TimeToCompleteMinutes == nil || *s.Result.TimeToCompleteMinutes != 12 {
			t.Errorf("expected 12 minutes to complete, got %v", s.Result.TimeToCompleteMinutes)
		}
	})

	t.Run("offer within floor is accepted", func(t *testing.T) {
		s := newTestSession()

		v, err := s.Propose(eval, env, 400000, "", baseTime)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if v.Kind != DecisionAccept {
			t.Errorf("expected accept, got %s", v.Kind)
		}
		if *s.FinalPrice != 400000 {
			t.Errorf("expected final price 400000, got %d", *s.FinalPrice)
		}
		if pct := s.SavingsPercent(); pct == nil || *pct != 11.11 {
			t.Errorf("expected savings 11.11%%, got %v", pct)
		}
	})

	t.Run("sub-floor offers encourage then hint then exhaust", func(t *testing.T) {
		s := newTestSession()
		steps := []struct {
			price int64
			want  DecisionKind
		}{
			{300000, DecisionEncourage},
			{310000, DecisionEncourage},
			{320000, DecisionRejectWithHint},
			{330000, DecisionRejectWithHint},
			{340000, DecisionRejectWithHint},
		}

		for i, step := range steps {
			v, err := s.Propose(eval, env, step.price, "", baseTime)
			if err != nil {
				t.Fatalf("attempt %d: unexpected error: %v", i+1, err)
			}
			if v.Kind != step.want {
				t.Errorf("attempt %d: expected %s, got %s", i+1, step.want, v.Kind)
			}
			if s.Attempts != i+1 {
				t.Errorf("attempt %d: expected attempts %d, got %d", i+1, i+1, s.Attempts)
			}
			if s.Status != StatusInProgress {
				t.Errorf("attempt %d: expected in_progress, got %s", i+1, s.Status)
			}
			if *s.ProposedPrice != step.price {
				t.Errorf("attempt %d: expected proposed %d, got %d", i+1, step.price, *s.ProposedPrice)
			}
		}

		_, err := s.Propose(eval, env, 350000, "", baseTime)
		if !errors.Is(err, ErrAttemptsExhausted) {
			t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
		}
		if s.Status != StatusRejected {
			t.Errorf("expected rejected, got %s", s.Status)
		}
		if s.Result.Reason != "max attempts reached" {
			t.Errorf("expected max attempts reason, got %q", s.Result.Reason)
		}
		if s.Attempts != DefaultMaxAttempts {
			t.Errorf("expected attempts to stay at %d, got %d", DefaultMaxAttempts, s.Attempts)
		}
		if s.FinalPrice != nil {
			t.Errorf("expected no final price, got %d", *s.FinalPrice)
		}
	})

	t.Run("appends customer and bot messages in order", func(t *testing.T) {
		s := newTestSession()
		if _, err := s.Propose(eval, env, 300000, "how about this?", baseTime); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		msgs := s.Messages()
		if len(msgs) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(msgs))
		}
		if msgs[0].Sender != SenderCustomer || msgs[0].Text != "how about this?" || *msgs[0].ProposedPrice != 300000 {
			t.Errorf("unexpected customer message: %+v", msgs[0])
		}
		if msgs[1].Sender != SenderBot || msgs[1].Decision != DecisionEncourage || msgs[1].ProposedPrice != nil {
			t.Errorf("unexpected bot message: %+v", msgs[1])
		}
		if msgs[0].ID == "" || msgs[0].ID == msgs[1].ID {
			t.Errorf("expected distinct message ids, got %q and %q", msgs[0].ID, msgs[1].ID)
		}
	})

	t.Run("invalid price mutates nothing", func(t *testing.T) {
		s := newTestSession()
		_, err := s.Propose(eval, env, 0, "", baseTime)
		if !errors.Is(err, ErrInvalidPrice) {
			t.Fatalf("expected ErrInvalidPrice, got %v", err)
		}
		if s.Attempts != 0 || len(s.Messages()) != 0 {
			t.Errorf("expected no mutation, got attempts=%d messages=%d", s.Attempts, len(s.Messages()))
		}
	})
}

func TestSession_Expiry(t *testing.T) {
	eval, env := testEvaluator(), testEnvelope()

	t.Run("proposal after deadline expires the session", func(t *testing.T) {
		s := newTestSession()
		if _, err := s.Propose(eval, env, 300000, "", baseTime); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		late := s.ExpiresAt
		_, err := s.Propose(eval, env, 300000, "", late)
		if !errors.Is(err, ErrSessionInactive) {
			t.Fatalf("expected ErrSessionInactive, got %v", err)
		}
		if s.Status != StatusExpired {
			t.Errorf("expected expired, got %s", s.Status)
		}
		if s.Attempts != 1 {
			t.Errorf("expected attempts to stay 1, got %d", s.Attempts)
		}
		if s.Result.RejectedAt == nil || s.Result.Reason != "negotiation session expired" {
			t.Errorf("unexpected result: %+v", s.Result)
		}
	})

	t.Run("effective status reports overdue sessions as expired", func(t *testing.T) {
		s := newTestSession()
		if got := s.EffectiveStatus(baseTime); got != StatusInProgress {
			t.Errorf("expected in_progress, got %s", got)
		}
		if got := s.EffectiveStatus(s.ExpiresAt.Add(time.Second)); got != StatusExpired {
			t.Errorf("expected expired, got %s", got)
		}
		if s.Status != StatusInProgress {
			t.Errorf("expected stored status untouched, got %s", s.Status)
		}
	})

	t.Run("expire is a no-op unless overdue", func(t *testing.T) {
		s := newTestSession()
		if s.Expire(baseTime) {
			t.Error("expected no expiry before deadline")
		}
		if !s.Expire(s.ExpiresAt) {
			t.Error("expected expiry at deadline")
		}
		if s.Expire(s.ExpiresAt.Add(time.Hour)) {
			t.Error("expected second expiry to be a no-op")
		}
	})
}

func TestSession_TerminalImmutability(t *testing.T) {
	eval, env := testEvaluator(), testEnvelope()

	closers := map[string]func(s *Session){
		"accepted":  func(s *Session) { _ = s.Accept(nil, "", baseTime) },
		"rejected":  func(s *Session) { _ = s.Reject("no", baseTime) },
		"cancelled": func(s *Session) { _ = s.Cancel("changed my mind", baseTime) },
		"expired":   func(s *Session) { s.Expire(s.ExpiresAt) },
	}

	for name, closeSession := range closers {
		t.Run(name, func(t *testing.T) {
			s := newTestSession()
			if _, err := s.Propose(eval, env, 300000, "", baseTime); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			closeSession(s)

			status, attempts, msgs := s.Status, s.Attempts, len(s.Messages())
			_, err := s.Propose(eval, env, 440000, "", baseTime)
			if !errors.Is(err, ErrSessionInactive) {
				t.Errorf("expected ErrSessionInactive, got %v", err)
			}
			if s.Status != status || s.Attempts != attempts || len(s.Messages()) != msgs {
				t.Errorf("terminal session mutated: status %s->%s attempts %d->%d messages %d->%d",
					status, s.Status, attempts, s.Attempts, msgs, len(s.Messages()))
			}

			if err := s.Reject("again", baseTime); !errors.Is(err, ErrSessionInactive) {
				t.Errorf("expected ErrSessionInactive from reject, got %v", err)
			}
		})
	}
}

func TestSession_Accept(t *testing.T) {
	t.Run("falls back to latest offer", func(t *testing.T) {
		s := newTestSession()
		_, _ = s.Propose(testEvaluator(), testEnvelope(), 300000, "", baseTime)

		if err := s.Accept(nil, "vendor approved", baseTime); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if *s.FinalPrice != 300000 {
			t.Errorf("expected final price 300000, got %d", *s.FinalPrice)
		}
		if s.Result.Reason != "vendor approved" {
			t.Errorf("expected reason to be recorded, got %q", s.Result.Reason)
		}
	})

	t.Run("falls back to original price without offers", func(t *testing.T) {
		s := newTestSession()
		if err := s.Accept(nil, "", baseTime); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if *s.FinalPrice != listPrice {
			t.Errorf("expected final price %d, got %d", listPrice, *s.FinalPrice)
		}
	})

	t.Run("explicit price wins", func(t *testing.T) {
		s := newTestSession()
		price := int64(350000)
		if err := s.Accept(&price, "", baseTime); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if *s.FinalPrice != 350000 {
			t.Errorf("expected final price 350000, got %d", *s.FinalPrice)
		}
	})

	t.Run("rejects non-positive override", func(t *testing.T) {
		s := newTestSession()
		price := int64(-5)
		if err := s.Accept(&price, "", baseTime); !errors.Is(err, ErrInvalidPrice) {
			t.Errorf("expected ErrInvalidPrice, got %v", err)
		}
		if s.Status != StatusInProgress {
			t.Errorf("expected in_progress, got %s", s.Status)
		}
	})
}

func TestSession_Cart(t *testing.T) {
	s := newTestSession()
	if err := s.CheckCartable(); !errors.Is(err, ErrNotAccepted) {
		t.Fatalf("expected ErrNotAccepted, got %v", err)
	}

	_ = s.Accept(nil, "", baseTime)
	if err := s.MarkAddedToCart("item-1", baseTime); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.AddedToCart || s.CartItemID != "item-1" {
		t.Errorf("expected cart flag and handle, got %v %q", s.AddedToCart, s.CartItemID)
	}
	if err := s.MarkAddedToCart("item-2", baseTime); !errors.Is(err, ErrAlreadyAdded) {
		t.Errorf("expected ErrAlreadyAdded, got %v", err)
	}
}

func TestSession_Properties(t *testing.T) {
	env := testEnvelope()
	rnd := rand.New(rand.NewSource(99))

	for run := 0; run < 200; run++ {
		eval := NewEvaluator(NewPhrasebook(rand.NewSource(int64(run)), "VND"))
		s := newTestSession()
		prev := 0

		for i := 0; i < 8; i++ {
			price := rnd.Int63n(500000) - 10000
			_, _ = s.Propose(eval, env, price, "", baseTime)

			if s.Attempts < prev {
				t.Fatalf("run %d: attempts decreased from %d to %d", run, prev, s.Attempts)
			}
			if s.Attempts > s.MaxAttempts {
				t.Fatalf("run %d: attempts %d exceed max %d", run, s.Attempts, s.MaxAttempts)
			}
			prev = s.Attempts

			if (s.FinalPrice != nil) != (s.Status == StatusAccepted) {
				t.Fatalf("run %d: final price set=%v with status %s", run, s.FinalPrice != nil, s.Status)
			}
			if s.Status == StatusAccepted && *s.FinalPrice < env.MinAcceptablePrice {
				t.Fatalf("run %d: accepted %d below floor %d", run, *s.FinalPrice, env.MinAcceptablePrice)
			}
		}
	}
}

func TestSession_View(t *testing.T) {
	s := newTestSession()
	_, _ = s.Propose(testEvaluator(), testEnvelope(), 300000, "", baseTime)

	v := s.View(s.ExpiresAt.Add(time.Minute))
	if v.Status != StatusExpired {
		t.Errorf("expected effective status expired, got %s", v.Status)
	}
	if v.AttemptsRemaining != 0 {
		t.Errorf("expected no attempts remaining, got %d", v.AttemptsRemaining)
	}
	if len(v.Messages) != 2 {
		t.Errorf("expected 2 messages, got %d", len(v.Messages))
	}

	v.Messages[0].Text = "tampered"
	if s.Messages()[0].Text == "tampered" {
		t.Error("expected view messages to be a copy")
	}
}
