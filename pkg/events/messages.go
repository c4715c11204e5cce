package events

// LLMMessage is one entry in the message list sent to an LLM client.
// It is the projection target for ToMessages: system/user/assistant/
// tool roles in the shape every chat-completions-style API expects.
type LLMMessage struct {
	Role       string        `json:"role"`
	Content    []ContentPart `json:"content,omitempty"`
	ToolCalls  []ToolCallOut `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

// ToolCallOut is the wire shape of one entry in an assistant message's
// tool_calls list.
type ToolCallOut struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // always "function"
	Name      string `json:"name"`
	Arguments []byte `json:"arguments"`
}

// ToMessages projects a log (or View) of events into the message list
// an LLM client sees. The single load-bearing rule: contiguous Action
// events that share a BatchID came from one LLM completion and must
// collapse into ONE assistant message carrying the first action's
// Thought and all of the batch's tool calls in order — never one
// assistant message per Action. All other kinds convert one-to-one.
func ToMessages(log []Event) []LLMMessage {
	var out []LLMMessage
	i := 0
	for i < len(log) {
		ev := log[i]
		switch ev.Kind {
		case KindSystemPrompt:
			out = append(out, LLMMessage{
				Role:    "system",
				Content: Text(ev.SystemPrompt.Prompt),
			})
			i++

		case KindMessage:
			out = append(out, LLMMessage{
				Role:    ev.Message.Role,
				Content: ev.Message.Content,
			})
			i++

		case KindAction:
			batchID := ev.Action.BatchID
			j := i
			var calls []ToolCallOut
			for j < len(log) && log[j].Kind == KindAction && log[j].Action.BatchID == batchID {
				a := log[j].Action
				calls = append(calls, ToolCallOut{
					ID:        a.ToolCallID,
					Type:      "function",
					Name:      a.ToolName,
					Arguments: a.Arguments,
				})
				j++
			}
			out = append(out, LLMMessage{
				Role:      "assistant",
				Content:   ev.Action.Thought,
				ToolCalls: calls,
			})
			i = j

		case KindObservation:
			out = append(out, LLMMessage{
				Role:       "tool",
				Content:    Text(ev.Observation.Content),
				Name:       ev.Observation.ToolName,
				ToolCallID: ev.Observation.ToolCallID,
			})
			i++

		case KindAgentError:
			out = append(out, LLMMessage{
				Role:    "user",
				Content: Text(ev.AgentError.Error),
			})
			i++

		case KindCondensation:
			// Condensation events never themselves become a message; they
			// describe how the View was derived from the log, and the View
			// passed to ToMessages already has the forgotten events removed.
			i++
		}
	}
	return out
}
