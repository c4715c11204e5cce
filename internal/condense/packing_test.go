package condense

import (
	"testing"

	"github.com/haasonsaas/nexus/pkg/events"
)

func msgEvent(id, role, text string) events.Event {
	return events.Event{ID: id, Kind: events.KindMessage, Message: &events.MessagePayload{Role: role, Content: events.Text(text)}}
}

func actionEvent(id, batchID string) events.Event {
	return events.Event{ID: id, Kind: events.KindAction, Action: &events.ActionPayload{BatchID: batchID, ToolCallID: id + "-call", ToolName: "t"}}
}

func observationEvent(id, actionID, content string) events.Event {
	return events.Event{ID: id, Kind: events.KindObservation, Observation: &events.ObservationPayload{ActionID: actionID, ToolCallID: actionID + "-call", ToolName: "t", Content: content}}
}

func TestPackingCondenseNoOpUnderBudget(t *testing.T) {
	p := NewPacking(PackingOptions{MaxEvents: 10, MaxChars: 10000, KeepHead: 1})
	view := events.View{
		msgEvent("sp", "system", "be helpful"),
		msgEvent("m1", "user", "hi"),
	}

	cond, err := p.Condense(view)
	if err != nil {
		t.Fatalf("Condense: %v", err)
	}
	if cond != nil {
		t.Fatalf("expected no condensation under budget, got %+v", cond)
	}
}

func TestPackingCondenseForgetsOldestBeyondEventBudget(t *testing.T) {
	p := NewPacking(PackingOptions{MaxEvents: 3, MaxChars: 10000, KeepHead: 1})
	view := events.View{
		msgEvent("sp", "system", "be helpful"),
		msgEvent("m1", "user", "one"),
		msgEvent("m2", "user", "two"),
		msgEvent("m3", "user", "three"),
		msgEvent("m4", "user", "four"),
	}

	cond, err := p.Condense(view)
	if err != nil {
		t.Fatalf("Condense: %v", err)
	}
	if cond == nil {
		t.Fatal("expected a condensation once the view exceeds MaxEvents")
	}
	if cond.Summary == nil || *cond.Summary == "" {
		t.Fatal("expected a non-empty summary")
	}
	if cond.SummaryOffset == nil || *cond.SummaryOffset != 1 {
		t.Fatalf("SummaryOffset = %v, want 1 (right after the protected head)", cond.SummaryOffset)
	}
	want := map[string]bool{"m1": true, "m2": true}
	if len(cond.ForgottenEventIDs) != len(want) {
		t.Fatalf("ForgottenEventIDs = %v, want exactly %v", cond.ForgottenEventIDs, want)
	}
	for _, id := range cond.ForgottenEventIDs {
		if !want[id] {
			t.Fatalf("unexpected forgotten id %q (protected head or kept tail should never be forgotten)", id)
		}
	}
}

// TestPackingCondenseKeepsActionObservationPairsTogether is the
// cut-boundary regression: a naive index-only cut computed from
// MaxEvents alone lands between act1 and its own Observation obs1,
// which would leave obs1 — a tool-role message — in the resulting View
// with no Action to pair it with. Condense must widen the cut so
// act1/obs1 are forgotten or kept as a pair, never split.
func TestPackingCondenseKeepsActionObservationPairsTogether(t *testing.T) {
	p := NewPacking(PackingOptions{MaxEvents: 5, MaxChars: 10000, KeepHead: 1})
	log := []events.Event{
		msgEvent("sp", "system", "be helpful"),
		msgEvent("m1", "user", "go"),
		actionEvent("act1", "B1"),
		observationEvent("obs1", "act1", "result one"),
		actionEvent("act2", "B2"),
		observationEvent("obs2", "act2", "result two"),
		msgEvent("final", "assistant", "done"),
	}
	view := events.View(log)

	// A naive cut using only MaxEvents/KeepHead (len(view)-keepFromEnd,
	// keepFromEnd = MaxEvents-KeepHead = 4) would land at index 3 —
	// right on top of obs1, after act1 at index 2 was already forgotten.
	cond, err := p.Condense(view)
	if err != nil {
		t.Fatalf("Condense: %v", err)
	}
	if cond == nil {
		t.Fatal("expected a condensation once the view exceeds MaxEvents")
	}

	forgotten := make(map[string]bool, len(cond.ForgottenEventIDs))
	for _, id := range cond.ForgottenEventIDs {
		forgotten[id] = true
	}
	if forgotten["act1"] != forgotten["obs1"] {
		t.Fatalf("act1/obs1 split across the cut: forgotten = %v", cond.ForgottenEventIDs)
	}
	if forgotten["act2"] || forgotten["obs2"] {
		t.Fatalf("act2/obs2 should both still be within budget and kept: forgotten = %v", cond.ForgottenEventIDs)
	}

	// Applying the condensation must never leave a dangling Observation
	// whose Action was forgotten.
	built := events.BuildView(append(log, events.Event{
		ID:           "cond1",
		Kind:         events.KindCondensation,
		Condensation: cond,
	}))
	keptActionIDs := make(map[string]bool)
	for _, ev := range built {
		if ev.Kind == events.KindAction {
			keptActionIDs[ev.ID] = true
		}
	}
	for _, ev := range built {
		if ev.Kind != events.KindObservation {
			continue
		}
		if !keptActionIDs[ev.Observation.ActionID] {
			t.Fatalf("observation %q survived condensation but its action %q did not", ev.ID, ev.Observation.ActionID)
		}
	}
}
