package condense

import (
	"strconv"

	"github.com/haasonsaas/nexus/pkg/events"
)

// PackingOptions bounds how much of a View is kept uncondensed. The
// budgets decide what a Condensation should forget, not what a single
// request should include.
type PackingOptions struct {
	// MaxEvents is the hard cap on events kept in view after condensing.
	MaxEvents int

	// MaxChars is an approximate character budget across kept events'
	// textual content (thought, observation content, message content).
	MaxChars int

	// KeepHead is the number of oldest events (typically the
	// SystemPrompt and first user Message) that are never forgotten,
	// regardless of budget.
	KeepHead int
}

// DefaultPackingOptions returns budgets sized for typical
// chat-completion context windows.
func DefaultPackingOptions() PackingOptions {
	return PackingOptions{
		MaxEvents: 60,
		MaxChars:  30000,
		KeepHead:  1,
	}
}

// Packing condenses a View once it exceeds its budget: events beyond
// MaxEvents/MaxChars (oldest-first, excluding the protected head) are
// forgotten and replaced with a one-line summary placeholder spliced in
// right after the head.
type Packing struct {
	opts PackingOptions
}

// NewPacking returns a Packing condenser with opts, defaulting any zero
// fields via DefaultPackingOptions.
func NewPacking(opts PackingOptions) *Packing {
	def := DefaultPackingOptions()
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = def.MaxEvents
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = def.MaxChars
	}
	if opts.KeepHead <= 0 {
		opts.KeepHead = def.KeepHead
	}
	return &Packing{opts: opts}
}

func (p *Packing) Condense(view events.View) (*events.CondensationPayload, error) {
	totalChars := 0
	for _, ev := range view {
		totalChars += eventChars(ev)
	}
	if len(view) <= p.opts.MaxEvents && totalChars <= p.opts.MaxChars {
		return nil, nil
	}

	head := p.opts.KeepHead
	if head > len(view) {
		head = len(view)
	}

	keepFromEnd := p.opts.MaxEvents - head
	if keepFromEnd < 0 {
		keepFromEnd = 0
	}
	cut := len(view) - keepFromEnd
	if cut < head {
		cut = head
	}
	keptChars := 0
	for _, ev := range view[:head] {
		keptChars += eventChars(ev)
	}
	for _, ev := range view[cut:] {
		keptChars += eventChars(ev)
	}
	for cut < len(view) && keptChars > p.opts.MaxChars {
		keptChars -= eventChars(view[cut])
		cut++
	}
	if cut <= head {
		return nil, nil
	}
	cut = extendCutPastOrphanedObservations(view, head, cut)
	if cut <= head {
		return nil, nil
	}

	forgotten := make([]string, 0, cut-head)
	for _, ev := range view[head:cut] {
		forgotten = append(forgotten, ev.ID)
	}
	summary := summarize(view[head:cut])
	offset := head

	return &events.CondensationPayload{
		ForgottenEventIDs: forgotten,
		Summary:           &summary,
		SummaryOffset:     &offset,
	}, nil
}

// extendCutPastOrphanedObservations pushes cut forward until no
// Observation within view[cut:] still points at an Action that would
// be forgotten by view[head:cut] — a budget cut landing between an
// Action and its Observation would otherwise leave a dangling
// tool-role message in the View with no assistant tool_calls entry to
// pair it with. Widening the cut costs a few extra forgotten events;
// splitting the pair costs a broken message list.
func extendCutPastOrphanedObservations(view events.View, head, cut int) int {
	for {
		forgottenActionIDs := make(map[string]bool)
		for _, ev := range view[head:cut] {
			if ev.Kind == events.KindAction {
				forgottenActionIDs[ev.ID] = true
			}
		}
		extended := cut
		for i := cut; i < len(view); i++ {
			ev := view[i]
			if ev.Kind == events.KindObservation && forgottenActionIDs[ev.Observation.ActionID] {
				extended = i + 1
			}
		}
		if extended == cut {
			return cut
		}
		cut = extended
	}
}

func eventChars(ev events.Event) int {
	switch ev.Kind {
	case events.KindMessage:
		return contentChars(ev.Message.Content)
	case events.KindAction:
		return contentChars(ev.Action.Thought) + len(ev.Action.Arguments)
	case events.KindObservation:
		return len(ev.Observation.Content)
	case events.KindAgentError:
		return len(ev.AgentError.Error)
	default:
		return 0
	}
}

func contentChars(parts []events.ContentPart) int {
	n := 0
	for _, p := range parts {
		n += len(p.Text)
	}
	return n
}

func summarize(forgotten []events.Event) string {
	actions, observations := 0, 0
	for _, ev := range forgotten {
		switch ev.Kind {
		case events.KindAction:
			actions++
		case events.KindObservation:
			observations++
		}
	}
	return "condensed earlier turns of the conversation: " +
		strconv.Itoa(actions) + " tool call(s), " + strconv.Itoa(observations) + " result(s)"
}
