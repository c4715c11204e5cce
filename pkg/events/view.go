package events

// View is a derived, non-stored projection of a conversation's log: the
// log with every Condensation's forgotten events removed (and, where a
// summary was given, a synthetic Message spliced in at SummaryOffset in
// their place). A View is never itself appended to the log — condensing
// only ever shrinks what the LLM sees, never the log of record.
type View []Event

// BuildView applies every Condensation event present in log, in order,
// and returns the resulting View. Log itself is left untouched; this
// never removes anything from the log, only from the returned slice.
func BuildView(log []Event) View {
	forgotten := make(map[string]bool)
	type splice struct {
		id      string
		offset  int
		summary string
	}
	var splices []splice

	for _, ev := range log {
		if ev.Kind != KindCondensation {
			continue
		}
		c := ev.Condensation
		for _, id := range c.Forgotten() {
			forgotten[id] = true
		}
		if c.Summary != nil && *c.Summary != "" {
			offset := 0
			if c.SummaryOffset != nil {
				offset = *c.SummaryOffset
			}
			// The synthetic summary event's ID derives from the
			// condensation event's own ID, so repeated BuildView calls
			// over the same log yield the same View and a later
			// condensation can forget an earlier one's summary.
			splices = append(splices, splice{id: ev.ID + "/summary", offset: offset, summary: *c.Summary})
		}
	}

	view := make(View, 0, len(log))
	for _, ev := range log {
		if ev.Kind == KindCondensation {
			continue
		}
		if forgotten[ev.ID] {
			continue
		}
		view = append(view, ev)
	}

	for _, s := range splices {
		if forgotten[s.id] {
			continue
		}
		offset := s.offset
		if offset < 0 {
			offset = 0
		}
		if offset > len(view) {
			offset = len(view)
		}
		summaryEvent := Event{
			ID:     s.id,
			Kind:   KindMessage,
			Source: SourceEnvironment,
			Message: &MessagePayload{
				Role:    "user",
				Content: Text(s.summary),
			},
		}
		view = append(view[:offset:offset], append(View{summaryEvent}, view[offset:]...)...)
	}

	return view
}

// ToMessages projects the View into the message list an LLM client sees.
func (v View) ToMessages() []LLMMessage {
	return ToMessages([]Event(v))
}
