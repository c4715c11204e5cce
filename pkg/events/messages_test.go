package events

import "testing"

func action(batchID, toolCallID, toolName string, thought []ContentPart) Event {
	return Event{
		ID:   NewID(),
		Kind: KindAction,
		Action: &ActionPayload{
			BatchID:    batchID,
			ToolCallID: toolCallID,
			Thought:    thought,
			ToolName:   toolName,
			Arguments:  []byte(`{}`),
		},
	}
}

func observation(toolCallID, toolName, content string) Event {
	return Event{
		ID:   NewID(),
		Kind: KindObservation,
		Observation: &ObservationPayload{
			ToolCallID: toolCallID,
			ToolName:   toolName,
			Content:    content,
		},
	}
}

func agentError(msg string) Event {
	return Event{
		ID:         NewID(),
		Kind:       KindAgentError,
		AgentError: &AgentErrorPayload{Error: msg},
	}
}

// TestToMessagesCollapsesContiguousBatch pins the one load-bearing
// rule: N contiguous Actions sharing a batch id collapse into ONE
// assistant message, carrying only the first action's Thought, with
// tool_calls in log order.
func TestToMessagesCollapsesContiguousBatch(t *testing.T) {
	log := []Event{
		action("B1", "t1", "a", Text("thinking")),
		action("B1", "t2", "b", nil),
		observation("t1", "a", "result a"),
		observation("t2", "b", "result b"),
	}

	msgs := ToMessages(log)
	if len(msgs) != 3 {
		t.Fatalf("len(msgs) = %d, want 3 (1 assistant + 2 tool), got %+v", len(msgs), msgs)
	}

	assistant := msgs[0]
	if assistant.Role != "assistant" {
		t.Fatalf("msgs[0].Role = %q, want assistant", assistant.Role)
	}
	if len(assistant.ToolCalls) != 2 {
		t.Fatalf("assistant.ToolCalls = %+v, want 2 entries", assistant.ToolCalls)
	}
	if assistant.ToolCalls[0].ID != "t1" || assistant.ToolCalls[1].ID != "t2" {
		t.Fatalf("tool call order = %+v, want [t1 t2]", assistant.ToolCalls)
	}
	if len(assistant.Content) != 1 || assistant.Content[0].Text != "thinking" {
		t.Fatalf("assistant.Content = %+v, want the first action's thought only", assistant.Content)
	}

	if msgs[1].Role != "tool" || msgs[1].ToolCallID != "t1" {
		t.Fatalf("msgs[1] = %+v, want tool message for t1", msgs[1])
	}
	if msgs[2].Role != "tool" || msgs[2].ToolCallID != "t2" {
		t.Fatalf("msgs[2] = %+v, want tool message for t2", msgs[2])
	}
}

// TestToMessagesAdjacentDifferentBatchesStayDistinct guards the other
// side of the same rule: two Actions back to back with DIFFERENT batch
// ids must render as two separate assistant messages, never merged.
func TestToMessagesAdjacentDifferentBatchesStayDistinct(t *testing.T) {
	log := []Event{
		action("B1", "t1", "a", Text("first")),
		action("B2", "t2", "b", Text("second")),
	}

	msgs := ToMessages(log)
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2, got %+v", len(msgs), msgs)
	}
	if len(msgs[0].ToolCalls) != 1 || msgs[0].ToolCalls[0].ID != "t1" {
		t.Fatalf("msgs[0] = %+v, want a lone t1 tool call", msgs[0])
	}
	if len(msgs[1].ToolCalls) != 1 || msgs[1].ToolCalls[0].ID != "t2" {
		t.Fatalf("msgs[1] = %+v, want a lone t2 tool call", msgs[1])
	}
}

// TestToMessagesMixedBatchWithTrailingAgentError matches what
// Controller.interpretToolCalls now produces for a batch containing a
// rejected call: the valid Actions appended contiguously, sharing one
// batch id, with the rejection's AgentError appended after the whole
// batch rather than between the two Actions. Confirms ToMessages still
// collapses the pair into one assistant message even with an
// AgentError and Observations trailing it in the log.
func TestToMessagesMixedBatchWithTrailingAgentError(t *testing.T) {
	log := []Event{
		action("B1", "t1", "a", Text("doing two things")),
		action("B1", "t3", "a", nil),
		agentError(`no such tool "no-such-tool" (tool_call_id=t2)`),
		observation("t1", "a", "ran a"),
		observation("t3", "a", "ran a"),
	}

	msgs := ToMessages(log)
	if len(msgs) != 4 {
		t.Fatalf("len(msgs) = %d, want 4 (1 assistant + 1 user + 2 tool), got %+v", len(msgs), msgs)
	}

	assistant := msgs[0]
	if assistant.Role != "assistant" || len(assistant.ToolCalls) != 2 {
		t.Fatalf("msgs[0] = %+v, want one assistant message with 2 tool calls", assistant)
	}
	if assistant.ToolCalls[0].ID != "t1" || assistant.ToolCalls[1].ID != "t3" {
		t.Fatalf("tool call order = %+v, want [t1 t3]", assistant.ToolCalls)
	}

	if msgs[1].Role != "user" {
		t.Fatalf("msgs[1].Role = %q, want user (AgentError)", msgs[1].Role)
	}
	if msgs[2].ToolCallID != "t1" || msgs[3].ToolCallID != "t3" {
		t.Fatalf("trailing tool messages = %+v, %+v, want tool_call_id t1 then t3", msgs[2], msgs[3])
	}
}

// TestToMessagesOtherKindsConvertOneToOne covers SystemPrompt, plain
// Message, and Condensation, none of which participate in the batch
// collapse.
func TestToMessagesOtherKindsConvertOneToOne(t *testing.T) {
	log := []Event{
		{Kind: KindSystemPrompt, SystemPrompt: &SystemPromptPayload{Prompt: "be helpful"}},
		{Kind: KindMessage, Message: &MessagePayload{Role: "user", Content: Text("hi")}},
		{Kind: KindCondensation, Condensation: &CondensationPayload{ForgottenEventIDs: []string{"x"}}},
		{Kind: KindMessage, Message: &MessagePayload{Role: "assistant", Content: Text("hello")}},
	}

	msgs := ToMessages(log)
	if len(msgs) != 3 {
		t.Fatalf("len(msgs) = %d, want 3 (Condensation produces no message), got %+v", len(msgs), msgs)
	}
	if msgs[0].Role != "system" || msgs[0].Content[0].Text != "be helpful" {
		t.Fatalf("msgs[0] = %+v, want system prompt", msgs[0])
	}
	if msgs[1].Role != "user" || msgs[1].Content[0].Text != "hi" {
		t.Fatalf("msgs[1] = %+v, want user hi", msgs[1])
	}
	if msgs[2].Role != "assistant" || msgs[2].Content[0].Text != "hello" {
		t.Fatalf("msgs[2] = %+v, want assistant hello", msgs[2])
	}
}
