package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/nexus/internal/llm"
	"github.com/haasonsaas/nexus/pkg/events"
)

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
}

// OpenAIClient implements llm.Client against the OpenAI chat-completions API.
type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
	maxTokens    int
}

// NewOpenAIClient constructs an OpenAIClient ready to serve Complete.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("providers: openai API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

// Complete implements llm.Client.
func (c *OpenAIClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	messages, err := convertOpenAIMessages(req.Messages)
	if err != nil {
		return llm.Response{}, fmt.Errorf("providers: openai: convert messages: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: c.maxTokens,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		if ctx.Err() != nil {
			return llm.Response{}, ctx.Err()
		}
		return llm.Response{
			Kind:         llm.ResponseTransportError,
			TransportErr: err,
			Retryable:    isRetryableOpenAIErr(err),
		}, nil
	}
	if len(resp.Choices) == 0 {
		return llm.Response{}, errors.New("providers: openai: empty choices in response")
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return llm.Response{Kind: llm.ResponseRefusal, RefusalReason: "content filtered"}, nil
	}

	var calls []llm.ToolCallRequest
	for _, tc := range choice.Message.ToolCalls {
		calls = append(calls, llm.ToolCallRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	var thought []events.ContentPart
	if choice.Message.Content != "" {
		thought = events.Text(choice.Message.Content)
	}

	return llm.Response{Kind: llm.ResponseAssistantText, Thought: thought, ToolCalls: calls}, nil
}

func convertOpenAIMessages(msgs []events.LLMMessage) ([]openai.ChatCompletionMessage, error) {
	var out []openai.ChatCompletionMessage
	for _, m := range msgs {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    joinText(m.Content),
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, om)
	}
	return out, nil
}

func convertOpenAITools(tools []llm.ToolDef) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var params any
		_ = json.Unmarshal(t.Schema, &params)
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func isRetryableOpenAIErr(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
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
