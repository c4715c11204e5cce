// Package condense implements the condenser hook: given a View, decide
// whether to shrink what the LLM sees, producing a Condensation event
// without ever removing anything from the underlying log.
package condense

import "github.com/haasonsaas/nexus/pkg/events"

// Condenser inspects a View and optionally returns a Condensation event
// describing what should be forgotten (or summarized) on the next
// projection. A nil Condensation means no condensation is needed this
// step.
type Condenser interface {
	Condense(view events.View) (*events.CondensationPayload, error)
}

// NoOp never condenses; it is the default condenser, matching the
// identity condenser semantics: the view the LLM receives is always
// the full log.
type NoOp struct{}

func (NoOp) Condense(events.View) (*events.CondensationPayload, error) {
	return nil, nil
}
