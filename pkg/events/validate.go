package events

import "fmt"

// ValidateLog checks the structural invariants an event log must hold:
// every event has a unique ID, every Observation references an Action
// that appears earlier in the log with a matching tool_call_id, and
// Action events sharing a batch ID are contiguous. A violation means
// the log was corrupted (a bad replay source, an out-of-order write)
// and is not recoverable; callers should surface the error rather than
// continue with the log.
func ValidateLog(log []Event) error {
	seen := make(map[string]bool, len(log))
	actions := make(map[string]*ActionPayload)
	closedBatches := make(map[string]bool)
	currentBatch := ""

	for i, ev := range log {
		if ev.ID == "" {
			return fmt.Errorf("events: event at index %d has no ID", i)
		}
		if seen[ev.ID] {
			return fmt.Errorf("events: duplicate event ID %q at index %d", ev.ID, i)
		}
		seen[ev.ID] = true

		if ev.Kind == KindAction {
			b := ev.Action.BatchID
			if b != currentBatch {
				if closedBatches[b] {
					return fmt.Errorf("events: batch %q is not contiguous: reopened at index %d", b, i)
				}
				if currentBatch != "" {
					closedBatches[currentBatch] = true
				}
				currentBatch = b
			}
			actions[ev.ID] = ev.Action
		} else if currentBatch != "" {
			closedBatches[currentBatch] = true
			currentBatch = ""
		}

		if ev.Kind == KindObservation {
			o := ev.Observation
			a, ok := actions[o.ActionID]
			if !ok {
				return fmt.Errorf("events: observation %q references action %q, which does not precede it", ev.ID, o.ActionID)
			}
			if a.ToolCallID != o.ToolCallID {
				return fmt.Errorf("events: observation %q tool_call_id %q does not match its action's %q", ev.ID, o.ToolCallID, a.ToolCallID)
			}
		}
	}
	return nil
}
