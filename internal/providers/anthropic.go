// Package providers adapts concrete LLM SDKs to the llm.Client contract:
// one Complete call per request, no streaming. The step engine has no use
// for partial tokens, only the finished Response.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/nexus/internal/llm"
	"github.com/haasonsaas/nexus/pkg/events"
)

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
}

// AnthropicClient implements llm.Client against the Anthropic Messages API.
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
}

// NewAnthropicClient constructs an AnthropicClient ready to serve Complete.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("providers: anthropic API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

// Complete implements llm.Client. Retries are the step engine's job
// (internal/convo/step.go's complete()); this method classifies any
// transport failure as Retryable or not and returns a single Response.
func (c *AnthropicClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(c.maxTokens),
	}

	messages, system, err := convertMessages(req.Messages)
	if err != nil {
		return llm.Response{}, fmt.Errorf("providers: anthropic: convert messages: %w", err)
	}
	params.Messages = messages
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return llm.Response{}, fmt.Errorf("providers: anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return llm.Response{}, ctx.Err()
		}
		return llm.Response{
			Kind:         llm.ResponseTransportError,
			TransportErr: err,
			Retryable:    isRetryableAnthropicErr(err),
		}, nil
	}

	if msg.StopReason == "refusal" {
		return llm.Response{Kind: llm.ResponseRefusal, RefusalReason: "model declined to respond"}, nil
	}

	var thought []events.ContentPart
	var calls []llm.ToolCallRequest
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			thought = append(thought, events.ContentPart{Type: "text", Text: variant.Text})
		case anthropic.ToolUseBlock:
			calls = append(calls, llm.ToolCallRequest{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: json.RawMessage(variant.Input),
			})
		}
	}

	return llm.Response{Kind: llm.ResponseAssistantText, Thought: thought, ToolCalls: calls}, nil
}

func convertMessages(msgs []events.LLMMessage) ([]anthropic.MessageParam, string, error) {
	var out []anthropic.MessageParam
	var system string

	for _, m := range msgs {
		if m.Role == "system" {
			system = joinText(m.Content)
			continue
		}

		var blocks []anthropic.ContentBlockParamUnion
		if text := joinText(m.Content); text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(text))
		}
		for _, tc := range m.ToolCalls {
			var input map[string]any
			if len(tc.Arguments) > 0 {
				if err := json.Unmarshal(tc.Arguments, &input); err != nil {
					return nil, "", fmt.Errorf("tool call %q arguments: %w", tc.ID, err)
				}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if m.Role == "tool" {
			blocks = append(blocks, anthropic.NewToolResultBlock(m.ToolCallID, text(m.Content), false))
		}

		if m.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out, system, nil
}

func convertTools(tools []llm.ToolDef) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			return nil, fmt.Errorf("tool %q schema: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(t.Description)
		}
		out = append(out, param)
	}
	return out, nil
}

func joinText(parts []events.ContentPart) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func text(parts []events.ContentPart) string { return joinText(parts) }

func isRetryableAnthropicErr(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 408, 409, 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	msg := err.Error()
	for _, s := range []string{"timeout", "deadline exceeded", "connection reset", "connection refused", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
