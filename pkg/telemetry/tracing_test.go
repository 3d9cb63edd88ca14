package telemetry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetupTracingDefaults(t *testing.T) {
	ctx := context.Background()
	provider, err := SetupTracing(ctx, Options{
		ServiceName:    "gatekeep",
		ServiceVersion: "test",
	})
	if err != nil {
		t.Fatalf("setup tracing failed: %v", err)
	}
	if provider == nil {
		t.Fatal("expected provider")
	}
	if err := provider.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestSetupTracingWithLogSpans(t *testing.T) {
	ctx := context.Background()
	writer := &captureWriter{}
	provider, err := SetupTracing(ctx, Options{
		ServiceName:    "gatekeep",
		ServiceVersion: "test",
		LogSpans:       true,
		Logger:         zerolog.New(writer),
		SampleRatio:    2, // out of range, clamps to 1
	})
	if err != nil {
		t.Fatalf("setup tracing failed: %v", err)
	}
	tracer := provider.Tracer("test")
	_, span := tracer.Start(ctx, "probe")
	span.End()
	if err := provider.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if len(writer.entries) == 0 {
		t.Fatal("expected span log entry")
	}
}
