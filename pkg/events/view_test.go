package events

import (
	"reflect"
	"testing"
)

func message(id, role, text string) Event {
	return Event{ID: id, Kind: KindMessage, Message: &MessagePayload{Role: role, Content: Text(text)}}
}

func condensation(id string, forgotten []string, summary string, offset int) Event {
	ev := Event{ID: id, Kind: KindCondensation, Condensation: &CondensationPayload{ForgottenEventIDs: forgotten}}
	if summary != "" {
		ev.Condensation.Summary = &summary
		ev.Condensation.SummaryOffset = &offset
	}
	return ev
}

func TestBuildViewWithoutCondensationEqualsLog(t *testing.T) {
	log := []Event{
		message("e1", "user", "hello"),
		message("e2", "assistant", "hi"),
	}
	view := BuildView(log)
	if len(view) != len(log) {
		t.Fatalf("len(view) = %d, want %d", len(view), len(log))
	}
	for i := range log {
		if view[i].ID != log[i].ID {
			t.Fatalf("view[%d].ID = %s, want %s", i, view[i].ID, log[i].ID)
		}
	}
}

func TestBuildViewRemovesForgottenButNeverTheLog(t *testing.T) {
	log := []Event{
		message("e1", "user", "hello"),
		message("e2", "assistant", "old turn"),
		message("e3", "user", "recent"),
		condensation("c1", []string{"e2"}, "", 0),
	}
	before := len(log)

	view := BuildView(log)
	if len(log) != before {
		t.Fatalf("BuildView mutated the log: len %d, want %d", len(log), before)
	}
	if len(view) != 2 {
		t.Fatalf("len(view) = %d, want 2", len(view))
	}
	for _, ev := range view {
		if ev.ID == "e2" {
			t.Fatal("forgotten event e2 still present in view")
		}
		if ev.Kind == KindCondensation {
			t.Fatal("condensation event projected into view")
		}
	}
}

func TestBuildViewSplicesSummaryAtOffset(t *testing.T) {
	log := []Event{
		message("e1", "user", "hello"),
		message("e2", "assistant", "forgotten"),
		message("e3", "user", "recent"),
		condensation("c1", []string{"e2"}, "earlier turns condensed", 1),
	}
	view := BuildView(log)
	if len(view) != 3 {
		t.Fatalf("len(view) = %d, want 3 (e1, summary, e3)", len(view))
	}
	if view[0].ID != "e1" {
		t.Fatalf("view[0].ID = %s, want e1", view[0].ID)
	}
	summary := view[1]
	if summary.Kind != KindMessage || summary.Message.Content[0].Text != "earlier turns condensed" {
		t.Fatalf("view[1] = %+v, want spliced summary message", summary)
	}
	if summary.Source != SourceEnvironment {
		t.Fatalf("summary.Source = %s, want environment", summary.Source)
	}
	if view[2].ID != "e3" {
		t.Fatalf("view[2].ID = %s, want e3", view[2].ID)
	}
}

// TestBuildViewIsDeterministic pins purity: projecting the same log
// twice yields identical views (including the synthetic summary event's
// ID), so a condenser in a later step can refer to it.
func TestBuildViewIsDeterministic(t *testing.T) {
	log := []Event{
		message("e1", "user", "hello"),
		message("e2", "assistant", "forgotten"),
		message("e3", "user", "recent"),
		condensation("c1", []string{"e2"}, "summary text", 1),
	}
	first := BuildView(log)
	second := BuildView(log)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("BuildView is not deterministic:\n%+v\nvs\n%+v", first, second)
	}
}

func TestBuildViewLaterCondensationForgetsEarlierSummary(t *testing.T) {
	log := []Event{
		message("e1", "user", "hello"),
		message("e2", "assistant", "forgotten"),
		message("e3", "user", "recent"),
		condensation("c1", []string{"e2"}, "first summary", 1),
		message("e4", "user", "newer"),
		condensation("c2", []string{"e3", "c1/summary"}, "second summary", 1),
	}
	view := BuildView(log)
	for _, ev := range view {
		if ev.ID == "c1/summary" {
			t.Fatal("first condensation's summary should have been forgotten by the second")
		}
		if ev.ID == "e3" {
			t.Fatal("e3 should have been forgotten by the second condensation")
		}
	}
	var summaries int
	for _, ev := range view {
		if ev.ID == "c2/summary" {
			summaries++
		}
	}
	if summaries != 1 {
		t.Fatalf("expected exactly the second summary in view, got %d", summaries)
	}
}

// TestToMessagesIsPure asserts the projection itself has no hidden
// state: same input, same output, input untouched.
func TestToMessagesIsPure(t *testing.T) {
	log := []Event{
		{ID: "s", Kind: KindSystemPrompt, SystemPrompt: &SystemPromptPayload{Prompt: "sys"}},
		message("e1", "user", "hello"),
		action("B1", "t1", "echo", Text("thinking")),
		observation("t1", "echo", "ECHO"),
	}
	first := ToMessages(log)
	second := ToMessages(log)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("ToMessages is not pure:\n%+v\nvs\n%+v", first, second)
	}
}
