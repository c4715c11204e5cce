// Package observability provides metrics, structured logging, and
// distributed tracing for the conversation engine.
//
// # Overview
//
// The package implements the three pillars of observability:
//
//  1. Metrics - step, tool-call, and transport counters using Prometheus
//  2. Logging - structured logs with sensitive data redaction
//  3. Tracing - per-completion and per-tool spans with OpenTelemetry
//
// # Metrics
//
// StepMetrics tracks the step engine's activity: step outcomes, tool
// invocations and their wall time, and transport retries and failures.
// All vectors are registered against the registerer the caller passes
// in, so a process can run more than one engine without a duplicate
// registration panic.
//
//	metrics := observability.NewStepMetrics(prometheus.DefaultRegisterer)
//
//	metrics.RecordStep("tool_calls")
//	metrics.RecordToolCall("echo", "ok", elapsed.Seconds())
//	metrics.RecordTransportRetry("claude-sonnet-4")
//
// A nil *StepMetrics is a valid receiver for every Record method, so
// callers may leave metrics unconfigured.
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic ID correlation from context (request, conversation)
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	ctx := observability.AddRequestID(ctx, requestID)
//	ctx = observability.AddConversationID(ctx, conversationID)
//
//	logger.Info(ctx, "processing step", "iteration", n)
//	logger.Error(ctx, "completion failed",
//	    "error", err,
//	    "api_key", apiKey, // automatically redacted
//	)
//
// # Tracing
//
// Tracer wraps an OpenTelemetry TracerProvider. It does not stand up a
// collector pipeline itself; pass an already-configured
// sdktrace.SpanExporter via TraceConfig.Exporter, or none for a
// local-only provider useful in tests.
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "convo",
//	    ServiceVersion: "1.0.0",
//	    SamplingRate:   0.1,
//	})
//	defer shutdown(context.Background())
//
//	ctx, llmSpan := tracer.TraceLLMRequest(ctx, "anthropic", model)
//	defer llmSpan.End()
//
//	ctx, toolSpan := tracer.TraceToolExecution(ctx, "echo")
//	defer toolSpan.End()
//	if err != nil {
//	    tracer.RecordError(toolSpan, err)
//	}
//
// A nil *Tracer returns non-recording spans from Start and the Trace
// helpers, so callers may leave tracing unconfigured.
//
// # Security
//
// The logging component automatically redacts API keys, key-value
// pairs naming a secret (password, token, bearer), and JWT-shaped
// strings in logged string and error values, plus any custom patterns
// supplied via LogConfig.RedactPatterns.
//
// # Testing
//
//   - Metrics can be verified against a fresh prometheus.NewRegistry()
//     with prometheus/testutil
//   - Logging can write to a bytes.Buffer for assertions
//   - Tracing records spans without an exporter
package observability
