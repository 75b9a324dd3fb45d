package telemetry

import (
	"context"
	"testing"
)

func TestSetupTracingDisabled(t *testing.T) {
	for _, exporter := range []string{"", " none ", "NONE"} {
		shutdown, err := SetupTracing(context.Background(), TraceConfig{ServiceName: "test", Exporter: exporter}, nil)
		if err != nil {
			t.Fatalf("exporter %q: %v", exporter, err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	}
}

func TestSetupTracingRejectsBadExporter(t *testing.T) {
	if _, err := SetupTracing(context.Background(), TraceConfig{Exporter: "zipkin"}, nil); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
	if _, err := SetupTracing(context.Background(), TraceConfig{Exporter: "otlp"}, nil); err == nil {
		t.Fatal("expected error for otlp without endpoint")
	}
}

func TestSampleRatio(t *testing.T) {
	cases := map[float64]float64{-1: 1, 0: 1, 0.25: 0.25, 1: 1, 3: 1}
	for in, want := range cases {
		if got := sampleRatio(in); got != want {
			t.Fatalf("sampleRatio(%v) = %v, want %v", in, got, want)
		}
	}
}
