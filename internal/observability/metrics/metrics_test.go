package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("order_id", "123"),
		attribute.String("email", "a@example.com"),
		attribute.String("status", "esim_created"),
		attribute.String("provider", "stripe"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "order_id" || attr.Key == "email" {
			t.Fatalf("unexpected high-cardinality label %s", attr.Key)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordCheckout(context.Background(), "gateway", "ok")
	m.RecordProvisioning(context.Background(), "esim_created")
	m.RecordSideEffect(context.Background(), "commission", "skipped")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "simstore"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordPaymentEvent(context.Background(), "stripe", "payment_succeeded", "processed")
}
