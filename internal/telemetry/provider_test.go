package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestNewResource(t *testing.T) {
	res := newResource("negotiations", "1.2.3")

	want := map[attribute.Key]string{
		semconv.ServiceNameKey:    "negotiations",
		semconv.ServiceVersionKey: "1.2.3",
	}
	for key, value := range want {
		if got, ok := res.Set().Value(key); !ok || got.AsString() != value {
			t.Errorf("expected %s=%s, got %s", key, value, got.AsString())
		}
	}

	if id, ok := res.Set().Value(semconv.ServiceInstanceIDKey); !ok || id.AsString() == "" {
		t.Error("expected a service instance id")
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		name  string
		ratio float64
		want  string
	}{
		{"zero samples everything", 0, "AlwaysOnSampler"},
		{"one samples everything", 1, "AlwaysOnSampler"},
		{"fraction", 0.25, "TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sampler(tt.ratio).Description()
			if !strings.HasPrefix(got, "ParentBased{") || !strings.Contains(got, "root:"+tt.want) {
				t.Errorf("expected parent-based %s, got %s", tt.want, got)
			}
		})
	}
}

func TestNewMeterProvider(t *testing.T) {
	mp, handler, err := newMeterProvider(newResource("negotiations", "test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = mp.Shutdown(context.Background()) }()

	metrics, err := NewNegotiationMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	metrics.SessionStarted(context.Background(), "PROD-001")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(string(body), "negotiation_sessions_started") {
		t.Errorf("expected session counter in output, got %s", body)
	}
	if strings.Contains(string(body), "go_goroutines") {
		t.Error("expected a private registry without default collectors")
	}
}

func TestTelemetryShutdown(t *testing.T) {
	var order []string
	tel := &Telemetry{shutdowns: []func(context.Context) error{
		func(context.Context) error { order = append(order, "tracer"); return nil },
		func(context.Context) error { order = append(order, "meter"); return io.ErrClosedPipe },
	}}

	if err := tel.Shutdown(context.Background()); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("expected meter error, got %v", err)
	}
	if strings.Join(order, ",") != "meter,tracer" {
		t.Errorf("expected reverse order, got %v", order)
	}
}
