package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func TestNewTracer(t *testing.T) {
	tests := []struct {
		name   string
		config TraceConfig
	}{
		{
			name: "no exporter",
			config: TraceConfig{
				ServiceName:    "test-service",
				ServiceVersion: "1.0.0",
			},
		},
		{
			name: "with sampling",
			config: TraceConfig{
				ServiceName:  "test-service",
				SamplingRate: 0.5,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, shutdown := NewTracer(tt.config)
			defer func() { _ = shutdown(context.Background()) }()

			if tracer == nil {
				t.Fatal("NewTracer() returned nil")
			}
			if tracer.tracer == nil {
				t.Error("tracer.tracer is nil")
			}
		})
	}
}

func TestTracerStart(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := tracer.Start(ctx, "test-operation")
	defer span.End()

	if span == nil {
		t.Fatal("Start() returned nil span")
	}
}

func TestSpanWithAttributes(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := tracer.Start(ctx, "test-operation", SpanOptions{
		Kind: trace.SpanKindServer,
		Attributes: []attribute.KeyValue{
			attribute.String("key1", "value1"),
			attribute.Int("key2", 42),
		},
	})
	defer span.End()

	if span == nil {
		t.Fatal("Start() with attributes returned nil span")
	}
}

func TestTracerRecordError(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := tracer.Start(ctx, "test-operation")

	tracer.RecordError(span, errors.New("test error"))
	span.End()
}

func TestTracerRecordErrorWithNil(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := tracer.Start(ctx, "test-operation")
	defer span.End()

	tracer.RecordError(span, nil)
}

func TestSetAttributes(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := tracer.Start(ctx, "test-operation")
	defer span.End()

	tracer.SetAttributes(span,
		"string_key", "string_value",
		"int_key", 42,
		"int64_key", int64(123),
		"float_key", 3.14,
		"bool_key", true,
	)
}

func TestSetAttributesWithInvalidKeyvals(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := tracer.Start(ctx, "test-operation")
	defer span.End()

	tracer.SetAttributes(span, "key1", "value1", "key2")
	tracer.SetAttributes(span, 123, "value")
}

func TestAddEvent(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := tracer.Start(ctx, "test-operation")
	defer span.End()

	tracer.AddEvent(span, "test-event", "key1", "value1", "key2", 42)
}

func TestTraceLLMRequest(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := tracer.TraceLLMRequest(ctx, "anthropic", "claude-3-opus")
	defer span.End()

	if span == nil {
		t.Fatal("TraceLLMRequest() returned nil span")
	}
}

func TestTraceToolExecution(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := tracer.TraceToolExecution(ctx, "web_search")
	defer span.End()

	if span == nil {
		t.Fatal("TraceToolExecution() returned nil span")
	}
}

func TestInjectExtractContext(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	ctx, span := tracer.Start(ctx, "test-operation")
	defer span.End()

	carrier := make(MapCarrier)
	tracer.InjectContext(ctx, carrier)
	t.Logf("Carrier keys: %v", carrier.Keys())

	newCtx := tracer.ExtractContext(context.Background(), carrier)
	if newCtx == nil {
		t.Error("ExtractContext returned nil")
	}
}

func TestSpanFromContext(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	ctx, span := tracer.Start(ctx, "test-operation")
	defer span.End()

	if retrievedSpan := SpanFromContext(ctx); retrievedSpan == nil {
		t.Error("SpanFromContext returned nil")
	}
	if emptySpan := SpanFromContext(context.Background()); emptySpan == nil {
		t.Error("SpanFromContext should return non-nil span even for empty context")
	}
}

func TestContextWithSpan(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := tracer.Start(ctx, "test-operation")
	defer span.End()

	newCtx := ContextWithSpan(context.Background(), span)
	if newCtx == nil {
		t.Error("ContextWithSpan returned nil")
	}
	if retrievedSpan := SpanFromContext(newCtx); retrievedSpan == nil {
		t.Error("Expected span in new context")
	}
}

func TestWithSpan(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()

	err := WithSpan(ctx, tracer, "test-operation", func(ctx context.Context, span trace.Span) error {
		if span == nil {
			t.Error("Expected non-nil span in callback")
		}
		return nil
	})
	if err != nil {
		t.Errorf("WithSpan returned error: %v", err)
	}

	testErr := errors.New("test error")
	err = WithSpan(ctx, tracer, "test-operation", func(ctx context.Context, span trace.Span) error {
		return testErr
	})
	if err != testErr {
		t.Errorf("Expected error to be propagated, got: %v", err)
	}
}

func TestGetTraceID(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	ctx, span := tracer.Start(ctx, "test-operation")
	defer span.End()

	t.Logf("Trace ID: %s", GetTraceID(ctx))

	if emptyTraceID := GetTraceID(context.Background()); emptyTraceID != "" {
		t.Error("Expected empty trace ID for context without span")
	}
}

func TestMapCarrier(t *testing.T) {
	carrier := make(MapCarrier)

	carrier.Set("key1", "value1")
	carrier.Set("key2", "value2")

	if carrier.Get("key1") != "value1" {
		t.Error("MapCarrier.Get failed")
	}
	if carrier.Get("nonexistent") != "" {
		t.Error("MapCarrier.Get should return empty string for missing key")
	}
	if keys := carrier.Keys(); len(keys) != 2 {
		t.Errorf("Expected 2 keys, got %d", len(keys))
	}
}

func TestAttributeFromValue(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"string", "str_key", "string_value"},
		{"int", "int_key", 42},
		{"int64", "int64_key", int64(123)},
		{"float64", "float_key", 3.14},
		{"bool", "bool_key", true},
		{"string slice", "str_slice_key", []string{"a", "b", "c"}},
		{"other", "other_key", struct{ Field string }{"value"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr := attributeFromValue(tt.key, tt.value)
			if attr.Key != attribute.Key(tt.key) {
				t.Errorf("Expected key %s, got %s", tt.key, attr.Key)
			}
		})
	}
}

func TestTracerWithEnvironment(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
		Environment:    "production",
	})
	defer func() { _ = shutdown(context.Background()) }()

	if tracer == nil {
		t.Fatal("NewTracer() returned nil")
	}
}

func TestTracerWithCustomAttributes(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{
		ServiceName: "test-service",
		Attributes: map[string]string{
			"custom_attr1": "value1",
			"custom_attr2": "value2",
		},
	})
	defer func() { _ = shutdown(context.Background()) }()

	if tracer == nil {
		t.Fatal("NewTracer() returned nil")
	}
}

func TestTracerSamplingRates(t *testing.T) {
	tests := []struct {
		name         string
		samplingRate float64
	}{
		{"always sample", 1.0},
		{"zero rate defaults to always sample", 0.0},
		{"50% sample", 0.5},
		{"10% sample", 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer, shutdown := NewTracer(TraceConfig{
				ServiceName:  "test-service",
				SamplingRate: tt.samplingRate,
			})
			defer func() { _ = shutdown(context.Background()) }()

			ctx := context.Background()
			for i := 0; i < 10; i++ {
				_, span := tracer.Start(ctx, "test-operation")
				span.End()
			}
		})
	}
}

func TestNestedSpans(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()

	parentCtx, parentSpan := tracer.Start(ctx, "parent-operation")
	defer parentSpan.End()

	childCtx, childSpan := tracer.Start(parentCtx, "child-operation")
	defer childSpan.End()

	if childCtx == nil {
		t.Error("Expected valid child context")
	}
	if parentCtx == nil {
		t.Error("Expected valid parent context")
	}
}

func TestSpanWithError(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := tracer.Start(ctx, "test-operation")

	testErr := errors.New("operation failed")
	tracer.RecordError(span, testErr)
	span.SetStatus(codes.Error, testErr.Error())
	span.End()
}

func TestMultipleTracersIndependent(t *testing.T) {
	tracer1, shutdown1 := NewTracer(TraceConfig{ServiceName: "service-1"})
	defer func() { _ = shutdown1(context.Background()) }()

	tracer2, shutdown2 := NewTracer(TraceConfig{ServiceName: "service-2"})
	defer func() { _ = shutdown2(context.Background()) }()

	ctx := context.Background()

	_, span1 := tracer1.Start(ctx, "operation-1")
	defer span1.End()

	_, span2 := tracer2.Start(ctx, "operation-2")
	defer span2.End()

	if span1 == nil || span2 == nil {
		t.Error("Expected both spans to be created")
	}
}

func TestTracerShutdown(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "test-service"})

	ctx := context.Background()
	_, span := tracer.Start(ctx, "test-operation")
	span.End()

	if err := shutdown(ctx); err != nil {
		t.Errorf("Shutdown returned error: %v", err)
	}
}
