// Command nexus is a minimal illustrative driver for the conversation
// controller: it wires an Anthropic or OpenAI client, a registry
// holding one example tool (echo), SQLite persistence, Prometheus/OTel observability,
// and a websocket event tailer, then runs one conversation to
// completion from a prompt given on stdin or via -prompt.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/nexus/internal/condense"
	"github.com/haasonsaas/nexus/internal/convo"
	"github.com/haasonsaas/nexus/internal/llm"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/providers"
	"github.com/haasonsaas/nexus/internal/store"
	"github.com/haasonsaas/nexus/internal/toolkit"
	"github.com/haasonsaas/nexus/internal/wsobserver"
	"github.com/haasonsaas/nexus/pkg/events"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "nexus:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		providerFlag = flag.String("provider", "anthropic", "LLM provider: anthropic or openai")
		model        = flag.String("model", "", "model name override")
		dbPath       = flag.String("db", ":memory:", "SQLite path for conversation persistence")
		listenAddr   = flag.String("listen", "", "if set, serve /events (websocket) and /metrics on this address")
		prompt       = flag.String("prompt", "", "initial user message; reads stdin if empty")
		convoID      = flag.String("conversation-id", "cli", "conversation id used for persistence")
	)
	flag.Parse()

	obsLogger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "text"})
	logger := obsLogger.Slog()

	client, err := newClient(*providerFlag, *model)
	if err != nil {
		return err
	}

	es, err := store.Open(*dbPath, *convoID)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer es.Close()

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName: "nexus-convo",
	})
	defer func() { _ = shutdownTracer(context.Background()) }()
	metrics := observability.NewStepMetrics(prometheus.DefaultRegisterer)

	registry := toolkit.NewRegistry()
	if err := registerExampleTools(registry); err != nil {
		return err
	}

	ctrl := convo.New(convo.Options{
		Model:        modelOrDefault(*model, *providerFlag),
		SystemPrompt: "You are a careful, concise engineering assistant.",
		Registry:     registry,
		Client:       client,
		Condenser:    condense.NewPacking(condense.DefaultPackingOptions()),
		Capabilities: []toolkit.Capability{toolkit.CapView, toolkit.CapEdit},
		Config: convo.Config{
			ParallelToolCalls: true,
			ToolTimeout:       30 * time.Second,
			ToolMaxAttempts:   2,
			Logger:            obsLogger,
		},
		Tracer:  tracer,
		Metrics: metrics,
	})
	ctrl.Subscribe(es)

	if *listenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/events", wsobserver.New(ctrl.Bus(), logger))
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			logger.Info("nexus: observer endpoints listening", "addr", *listenAddr)
			if err := http.ListenAndServe(*listenAddr, mux); err != nil {
				logger.Error("nexus: observer server stopped", "err", err)
			}
		}()
	}

	text := *prompt
	if text == "" {
		scanner := bufio.NewScanner(os.Stdin)
		var lines []string
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		text = strings.Join(lines, "\n")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("no prompt given: pass -prompt or pipe input on stdin")
	}

	ctx := observability.AddConversationID(context.Background(), *convoID)
	if err := ctrl.SendMessage(ctx, text); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	if err := ctrl.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	for _, ev := range ctrl.Log() {
		if ev.Kind == events.KindMessage && ev.Message != nil && ev.Message.Role == "assistant" {
			fmt.Println(joinText(ev.Message.Content))
		}
	}
	return nil
}

func joinText(parts []events.ContentPart) string {
	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

func modelOrDefault(model, provider string) string {
	if model != "" {
		return model
	}
	if provider == "openai" {
		return "gpt-4o"
	}
	return "claude-sonnet-4-20250514"
}

func newClient(provider, model string) (llm.Client, error) {
	switch provider {
	case "openai":
		return providers.NewOpenAIClient(providers.OpenAIConfig{
			APIKey:       os.Getenv("OPENAI_API_KEY"),
			DefaultModel: model,
		})
	case "anthropic", "":
		return providers.NewAnthropicClient(providers.AnthropicConfig{
			APIKey:       os.Getenv("ANTHROPIC_API_KEY"),
			DefaultModel: model,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

// echoTool is a trivial illustrative tool exercising the registry and
// the step engine's dispatch path without needing any external service.
type echoTool struct{}

func (echoTool) Invoke(_ context.Context, arguments json.RawMessage) (string, bool, error) {
	var args struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return "", true, fmt.Errorf("echo: %w", err)
	}
	return args.Text, false, nil
}

func registerExampleTools(reg *toolkit.Registry) error {
	return reg.Register(toolkit.ToolSpec{
		Name:        "echo",
		Description: "Echoes back the given text. Useful for verifying tool dispatch end to end.",
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {"text": {"type": "string"}},
			"required": ["text"]
		}`),
		Capabilities: []toolkit.Capability{toolkit.CapView},
		Invoker:      echoTool{},
		ParallelSafe: true,
	})
}
