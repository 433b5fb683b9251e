package negotiation

import "math"

type DecisionKind string

const (
	DecisionGreeting       DecisionKind = "greeting"
	DecisionAccept         DecisionKind = "accept"
	DecisionEncourage      DecisionKind = "encourage"
	DecisionRejectWithHint DecisionKind = "reject_with_hint"
)

// DefaultMaxDiscountPercent caps any vendor-configured discount.
const DefaultMaxDiscountPercent = 50

// hintFromAttempt is the first attempt on which a sub-floor offer is answered
// with the minimum acceptable price.
const hintFromAttempt = 3

// Decision is the outcome of evaluating one offer. MinPrice is only set for
// DecisionRejectWithHint.
type Decision struct {
	Kind     DecisionKind
	MinPrice int64
}

// PriceEnvelope is derived from the product configuration on every
// evaluation and is never persisted.
type PriceEnvelope struct {
	ListPrice          int64
	MinAcceptablePrice int64
}

// NewPriceEnvelope applies discountPercent, clamped to [0, maxDiscountPercent],
// to listPrice.
func NewPriceEnvelope(listPrice int64, discountPercent, maxDiscountPercent float64) PriceEnvelope {
	if maxDiscountPercent <= 0 || maxDiscountPercent > 100 {
		maxDiscountPercent = DefaultMaxDiscountPercent
	}
	pct := math.Max(0, math.Min(discountPercent, maxDiscountPercent))
	floor := int64(math.Round(float64(listPrice) * (100 - pct) / 100))
	return PriceEnvelope{ListPrice: listPrice, MinAcceptablePrice: floor}
}

// Classify applies the bargaining rules in order: at or above list price and
// at or above the floor are accepted, anything lower is encouraged on the
// first two attempts and answered with the floor from the third on.
func Classify(originalPrice, minAcceptablePrice, proposedPrice int64, attempt int) (Decision, error) {
	if proposedPrice <= 0 {
		return Decision{}, ErrInvalidPrice
	}
	if proposedPrice >= originalPrice {
		return Decision{Kind: DecisionAccept}, nil
	}
	if proposedPrice >= minAcceptablePrice {
		return Decision{Kind: DecisionAccept}, nil
	}
	if attempt < hintFromAttempt {
		return Decision{Kind: DecisionEncourage}, nil
	}
	return Decision{Kind: DecisionRejectWithHint, MinPrice: minAcceptablePrice}, nil
}

// Verdict is a Decision together with the bot's rendered reply.
type Verdict struct {
	Decision
	Message string
}

type Evaluator struct {
	phrases *Phrasebook
}

func NewEvaluator(phrases *Phrasebook) *Evaluator {
	return &Evaluator{phrases: phrases}
}

func (e *Evaluator) Evaluate(originalPrice, minAcceptablePrice, proposedPrice int64, attempt int) (Verdict, error) {
	d, err := Classify(originalPrice, minAcceptablePrice, proposedPrice, attempt)
	if err != nil {
		return Verdict{}, err
	}

	v := Verdict{Decision: d}
	switch d.Kind {
	case DecisionAccept:
		v.Message = e.phrases.Accept(proposedPrice)
	case DecisionEncourage:
		v.Message = e.phrases.Encourage()
	case DecisionRejectWithHint:
		v.Message = e.phrases.RejectWithHint(proposedPrice, d.MinPrice)
	}
	return v, nil
}
