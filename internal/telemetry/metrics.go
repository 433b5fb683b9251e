package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// NegotiationMetrics records the lifecycle of bargaining sessions. A nil
// *NegotiationMetrics is valid and records nothing.
type NegotiationMetrics struct {
	started   otelmetric.Int64Counter
	proposals otelmetric.Int64Counter
	closed    otelmetric.Int64Counter
	savings   otelmetric.Float64Histogram
}

func NewNegotiationMetrics(meter otelmetric.Meter) (*NegotiationMetrics, error) {
	started, err := meter.Int64Counter("negotiation.sessions.started",
		otelmetric.WithDescription("Negotiation sessions created"))
	if err != nil {
		return nil, err
	}

	proposals, err := meter.Int64Counter("negotiation.proposals",
		otelmetric.WithDescription("Customer offers evaluated, by decision"))
	if err != nil {
		return nil, err
	}

	closed, err := meter.Int64Counter("negotiation.sessions.closed",
		otelmetric.WithDescription("Sessions reaching a terminal status, by status"))
	if err != nil {
		return nil, err
	}

	savings, err := meter.Float64Histogram("negotiation.savings",
		otelmetric.WithDescription("Discount granted on accepted sessions"),
		otelmetric.WithUnit("%"))
	if err != nil {
		return nil, err
	}

	return &NegotiationMetrics{
		started:   started,
		proposals: proposals,
		closed:    closed,
		savings:   savings,
	}, nil
}

func (m *NegotiationMetrics) SessionStarted(ctx context.Context, productID string) {
	if m == nil {
		return
	}
	m.started.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("product.id", productID)))
}

func (m *NegotiationMetrics) ProposalEvaluated(ctx context.Context, decision string) {
	if m == nil {
		return
	}
	m.proposals.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("negotiation.decision", decision)))
}

func (m *NegotiationMetrics) SessionClosed(ctx context.Context, status string, savingsPercent *float64) {
	if m == nil {
		return
	}
	m.closed.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("negotiation.status", status)))
	if savingsPercent != nil {
		m.savings.Record(ctx, *savingsPercent)
	}
}
