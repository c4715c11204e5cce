package convo

import (
	"time"

	"github.com/haasonsaas/nexus/pkg/events"
)

// Phase is the conversation controller's state machine position.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhasePaused    Phase = "paused"
	PhaseErrored   Phase = "errored"
	PhaseCancelled Phase = "cancelled"
)

// state is the conversation's single source of truth: the ordered event
// log plus its derived flags. Every
// field here is mutated only while the controller holds mu (see
// Controller.mu in controller.go) — state itself holds no lock; the
// controller is the sole owner of when state may be touched.
type state struct {
	log                  []events.Event
	seq                  uint64
	finished             bool
	sentInitialContext   bool
	activatedMicroagents map[string]bool
	phase                Phase
	stepCount            int
}

func newState() *state {
	return &state{
		activatedMicroagents: make(map[string]bool),
		phase:                PhaseIdle,
	}
}

// append assigns the next Seq and ID (if unset) to ev and adds it to the
// log. Returns the stored event (with Seq/CreatedAt filled in).
func (s *state) append(ev events.Event) events.Event {
	if ev.ID == "" {
		ev.ID = events.NewID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	s.seq++
	ev.Seq = s.seq
	s.log = append(s.log, ev)
	return ev
}

// snapshotLog returns a copy of the event log safe to read without
// holding the controller's lock.
func (s *state) snapshotLog() []events.Event {
	out := make([]events.Event, len(s.log))
	copy(out, s.log)
	return out
}

// view returns the current View: the log with every Condensation
// applied. A View is always recomputed on demand, never stored.
func (s *state) view() events.View {
	return events.BuildView(s.log)
}
