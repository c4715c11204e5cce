// Package llm defines the contract between the step engine and a
// language model backend: a single Complete call returning one of
// three outcomes (assistant text/tool calls, a refusal, or a transport
// failure), collapsed from the streaming-chunk style the concrete
// provider adapters speak into the single-return-value shape the core
// loop needs.
package llm

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/nexus/pkg/events"
)

// ToolDef is the wire shape of one tool advertised to the model.
type ToolDef struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Request is everything a Client needs for one completion call.
type Request struct {
	Model     string
	Messages  []events.LLMMessage
	Tools     []ToolDef
	MaxTokens int
}

// ResponseKind discriminates which field of Response is populated.
type ResponseKind string

const (
	ResponseAssistantText  ResponseKind = "assistant_text"
	ResponseRefusal        ResponseKind = "refusal"
	ResponseTransportError ResponseKind = "transport_error"
)

// ToolCallRequest is one tool invocation the model asked for, still
// unvalidated against any schema.
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Response is the union of everything one Complete call can return.
// Exactly one meaningful case applies, selected by Kind.
type Response struct {
	Kind ResponseKind

	// Thought / ToolCalls are populated when Kind == ResponseAssistantText.
	// A final message (no more tool calls pending) has ToolCalls empty; a
	// tool-calling response has ToolCalls set and may also carry Thought.
	Thought   []events.ContentPart
	ToolCalls []ToolCallRequest

	// RefusalReason is populated when Kind == ResponseRefusal.
	RefusalReason string

	// TransportErr is populated when Kind == ResponseTransportError.
	// Retryable distinguishes a transient failure (worth a backoff
	// retry) from one that should escalate immediately.
	TransportErr error
	Retryable    bool
}

// Client is the abstract LLM backend the step engine drives. A Client
// implementation owns model selection, request formatting, and
// translating its provider's wire format into a Response; it must not
// block indefinitely — callers pass a ctx they expect Complete to
// respect.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
