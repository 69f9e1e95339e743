package otel

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("test-service")

	if config.ServiceName != "test-service" {
		t.Errorf("Expected service name 'test-service', got '%s'", config.ServiceName)
	}

	if config.ServiceVersion == "" {
		t.Error("Service version should not be empty")
	}

	if config.CollectorEndpoint == "" {
		t.Error("Collector endpoint should not be empty")
	}

	if config.SamplingRate < 0.0 || config.SamplingRate > 1.0 {
		t.Errorf("Sampling rate out of bounds: %.2f", config.SamplingRate)
	}
}

func TestTransitionAttributes(t *testing.T) {
	attrs := TransitionAttributes("tr-123", "plant-7", 3)
	if len(attrs) != 3 {
		t.Errorf("Expected 3 attributes with source, got %d", len(attrs))
	}

	found := false
	for _, attr := range attrs {
		if attr.Key == AttrTransitionID && attr.Value.AsString() == "tr-123" {
			found = true
			break
		}
	}
	if !found {
		t.Error("transition id attribute not found")
	}

	// Without source
	attrs = TransitionAttributes("tr-123", "", 3)
	if len(attrs) != 2 {
		t.Errorf("Expected 2 attributes without source, got %d", len(attrs))
	}
}

func TestVerdictAttributes(t *testing.T) {
	tests := []struct {
		inlier bool
		world  int
		want   string
	}{
		{true, 2, VerdictInlier},
		{false, -1, VerdictOutlier},
	}

	for _, tt := range tests {
		attrs := VerdictAttributes(tt.inlier, tt.world)
		if len(attrs) != 2 {
			t.Fatalf("Expected 2 attributes, got %d", len(attrs))
		}
		if got := attrs[0].Value.AsString(); got != tt.want {
			t.Errorf("verdict = %q, want %q", got, tt.want)
		}
		if got := attrs[1].Value.AsInt64(); got != int64(tt.world) {
			t.Errorf("world = %d, want %d", got, tt.world)
		}
	}
}

func TestPerformanceAttributes(t *testing.T) {
	attrs := PerformanceAttributes(true, 25.5)

	if len(attrs) != 2 {
		t.Errorf("Expected 2 attributes, got %d", len(attrs))
	}
}

func TestStartSpan(t *testing.T) {
	ctx := context.Background()

	// This will use the global no-op tracer since we haven't initialized OTel
	ctx, span := StartSpan(ctx, "test-tracer", "test-span",
		attribute.String("test.key", "test.value"),
	)

	if ctx == nil {
		t.Error("Context should not be nil")
	}

	if span == nil {
		t.Error("Span should not be nil")
	}

	span.End()
}

func TestRecordError(t *testing.T) {
	ctx := context.Background()
	_, span := StartSpan(ctx, "test-tracer", "test-span")

	// Should not panic
	RecordError(span, nil, "")
	RecordError(span, nil, "test message")

	span.End()
}

func TestAddEvent(t *testing.T) {
	ctx := context.Background()
	_, span := StartSpan(ctx, "test-tracer", "test-span")

	// Should not panic
	AddEvent(span, "test-event")
	AddEvent(span, "test-event-with-attrs",
		attribute.String("key", "value"),
	)

	span.End()
}
