package telemetry

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestSpanRecorderCapturesSpans(t *testing.T) {
	recorder := NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx := context.Background()

	tracer := provider.Tracer("test")
	_, span := tracer.Start(ctx, "admit")
	span.End()
	_, other := tracer.Start(ctx, "reject")
	other.End()

	if err := provider.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if got := len(recorder.Completed()); got != 2 {
		t.Fatalf("expected 2 spans, got %d", got)
	}
	if recorder.FirstSpanNamed("admit") == nil {
		t.Fatal("expected to find span named admit")
	}
	if recorder.FirstSpanNamed("missing") != nil {
		t.Fatal("did not expect span named missing")
	}
}
