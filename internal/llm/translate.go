package llm

import (
	"time"

	"github.com/haasonsaas/nexus/pkg/events"
)

// FinalMessageEvent converts a final assistant Response (no tool calls)
// into the one Message event that ends the run.
func FinalMessageEvent(resp Response) events.Event {
	return events.Event{
		ID:        events.NewID(),
		CreatedAt: time.Now(),
		Source:    events.SourceAgent,
		Kind:      events.KindMessage,
		Message: &events.MessagePayload{
			Role:    "assistant",
			Content: resp.Thought,
		},
	}
}
