// Package events defines the append-only conversation log: the single
// source of truth a conversation is replayed from, the tagged-union
// Event type recorded in it, and the projection from a log (or a
// condensed View of one) into the message list an LLM client sees.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind discriminates which payload field of an Event is populated.
type Kind string

const (
	KindSystemPrompt Kind = "system_prompt"
	KindMessage      Kind = "message"
	KindAction       Kind = "action"
	KindObservation  Kind = "observation"
	KindAgentError   Kind = "agent_error"
	KindCondensation Kind = "condensation"
)

// Source identifies who produced an event.
type Source string

const (
	SourceUser        Source = "user"
	SourceAgent       Source = "agent"
	SourceEnvironment Source = "environment"
)

// Event is one immutable entry in a conversation's log. Exactly one of
// the kind-specific payload fields is non-nil; which one is determined
// by Kind. ID is a globally unique but non-ordered identifier; Seq is
// the monotonic sort key assigned by the conversation that appended it.
type Event struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
	Source    Source    `json:"source"`
	Kind      Kind      `json:"kind"`

	SystemPrompt *SystemPromptPayload `json:"system_prompt,omitempty"`
	Message      *MessagePayload      `json:"message,omitempty"`
	Action       *ActionPayload       `json:"action,omitempty"`
	Observation  *ObservationPayload  `json:"observation,omitempty"`
	AgentError   *AgentErrorPayload   `json:"agent_error,omitempty"`
	Condensation *CondensationPayload `json:"condensation,omitempty"`
}

// NewID returns a fresh, globally unique event identifier.
func NewID() string {
	return uuid.NewString()
}

// SystemPromptPayload carries the system prompt and the tool set the
// agent was given for the run it opens.
type SystemPromptPayload struct {
	Prompt string     `json:"prompt"`
	Tools  []ToolSpec `json:"tools"`
}

// ToolSpec is the wire shape of a tool as advertised to the LLM: name,
// description and a JSON-schema describing its arguments. It mirrors
// (but is distinct from) toolkit.ToolSpec, which additionally carries
// the invoker and capability set — those never cross the LLM boundary.
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Schema      any    `json:"schema"`
}

// MessagePayload is a plain chat message — typically from the user, but
// also used for agent text that carries no tool calls.
type MessagePayload struct {
	Role                string        `json:"role"`
	Content             []ContentPart `json:"content"`
	ActivatedMicroagent []string      `json:"activated_microagents,omitempty"`
}

// ActionPayload is one tool call the agent asked to have executed.
// Contiguous Action events sharing BatchID came from the same LLM
// completion and must be rendered back to the model as a single
// assistant message with one shared Thought and an ordered tool_calls
// list — see ToMessages.
type ActionPayload struct {
	BatchID    string        `json:"batch_id"`
	ToolCallID string        `json:"tool_call_id"`
	Thought    []ContentPart `json:"thought,omitempty"`
	ToolName   string        `json:"tool_name"`
	Arguments  []byte        `json:"arguments"`
}

// ObservationPayload is the result of executing one Action.
type ObservationPayload struct {
	ActionID   string `json:"action_id"`
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// AgentErrorPayload records a recoverable error surfaced to the model
// as a user-role message so the conversation can continue.
type AgentErrorPayload struct {
	Error string `json:"error"`
}

// CondensationPayload marks that some prior events have been removed
// from the View given to the LLM. Forgotten event IDs may be given
// directly, or a Summary may replace them at SummaryOffset.
type CondensationPayload struct {
	ForgottenEventIDs []string `json:"forgotten_event_ids,omitempty"`
	Summary           *string  `json:"summary,omitempty"`
	SummaryOffset     *int     `json:"summary_offset,omitempty"`
}

// Forgotten returns the event IDs this condensation removes, or nil.
func (c *CondensationPayload) Forgotten() []string {
	if c.ForgottenEventIDs != nil {
		return c.ForgottenEventIDs
	}
	return nil
}

// Message returns a short human-readable description of the condensation.
func (c *CondensationPayload) Message() string {
	if c.Summary != nil && *c.Summary != "" {
		return "summary: " + *c.Summary
	}
	return "dropping events"
}

// ContentPart is one piece of message content: text, or a reference to
// an image by URL. Matches the wire ContentPart shape LLM providers
// expect for multimodal content.
type ContentPart struct {
	Type string `json:"type"` // "text" | "image"
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Text is a convenience constructor for a single text content part.
func Text(s string) []ContentPart {
	return []ContentPart{{Type: "text", Text: s}}
}
