package convo

import (
	"context"

	"github.com/haasonsaas/nexus/pkg/events"
)

// Run drives the step engine until the model signals completion, the
// iteration cap is reached, or ctx/Cancel ends the run. It is meant to
// be called from one "driver" goroutine at a time; a concurrent Run
// call on an already-running controller returns ErrAlreadyRunning
// immediately rather than queueing.
func (c *Controller) Run(ctx context.Context) error {
	if !c.runMu.TryLock() {
		return ErrAlreadyRunning
	}
	defer c.runMu.Unlock()

	c.mu.Lock()
	switch c.st.phase {
	case PhaseCancelled:
		c.mu.Unlock()
		return ErrConversationCancelled
	case PhaseErrored:
		c.mu.Unlock()
		return ErrConversationErrored
	}
	c.st.phase = PhaseRunning
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)

	c.ctrlMu.Lock()
	c.cancelFn = cancel
	c.ctrlMu.Unlock()

	defer func() {
		c.ctrlMu.Lock()
		c.cancelFn = nil
		c.ctrlMu.Unlock()
		cancel()
	}()

	iterations := 0
	for {
		if cancelled := c.waitWhilePaused(); cancelled {
			return c.finalizeCancellation(ctx)
		}
		if runCtx.Err() != nil {
			return c.finalizeCancellation(ctx)
		}

		c.mu.Lock()
		if c.st.finished {
			c.mu.Unlock()
			break
		}
		if iterations >= c.cfg.MaxIterPerRun {
			c.mu.Unlock()
			break
		}
		c.mu.Unlock()

		iterations++
		if err := c.step(runCtx); err != nil {
			if err == errStepCancelled {
				return c.finalizeCancellation(ctx)
			}
			c.mu.Lock()
			c.st.phase = PhaseErrored
			c.mu.Unlock()
			return err
		}
	}

	c.mu.Lock()
	if c.st.phase == PhaseRunning {
		c.st.phase = PhaseIdle
	}
	finished := c.st.finished
	c.mu.Unlock()

	c.cfg.Logger.Debug(ctx, "run complete", "iterations", iterations, "finished", finished)
	return nil
}

// waitWhilePaused blocks the calling goroutine while the controller is
// paused, waking on Resume() or Cancel(). Returns true if it woke up
// because of a cancellation rather than a resume.
func (c *Controller) waitWhilePaused() bool {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()
	for c.paused && !c.cancelled {
		c.pauseCond.Wait()
	}
	return c.cancelled
}

// finalizeCancellation appends the cancellation marker Message and
// transitions the phase to Cancelled. Uses ctx (the caller's original
// context, not the already-cancelled run context) so the marker can
// still be appended and published.
func (c *Controller) finalizeCancellation(ctx context.Context) error {
	c.mu.Lock()
	ev := c.st.append(events.Event{
		Kind:   events.KindMessage,
		Source: events.SourceEnvironment,
		Message: &events.MessagePayload{
			Role:    "user",
			Content: events.Text("cancelled"),
		},
	})
	c.st.phase = PhaseCancelled
	c.mu.Unlock()

	c.bus.Publish(ctx, ev)
	c.cfg.Logger.Info(ctx, "run cancelled")
	return nil
}

// Pause sets a flag observable between steps; an in-flight LLM call is
// not interrupted (interrupting it mid-flight would corrupt event
// ordering), but no new step begins while paused.
func (c *Controller) Pause() {
	c.ctrlMu.Lock()
	c.paused = true
	c.ctrlMu.Unlock()

	c.mu.Lock()
	if c.st.phase == PhaseRunning {
		c.st.phase = PhasePaused
	}
	c.mu.Unlock()
}

// Resume clears the pause flag and wakes a Run() loop blocked in
// waitWhilePaused.
func (c *Controller) Resume() {
	c.ctrlMu.Lock()
	c.paused = false
	c.ctrlMu.Unlock()

	c.mu.Lock()
	if c.st.phase == PhasePaused {
		c.st.phase = PhaseRunning
	}
	c.mu.Unlock()

	c.ctrlMu.Lock()
	c.pauseCond.Broadcast()
	c.ctrlMu.Unlock()
}

// Cancel sets a hard cancel token: an in-flight LLM call is cancelled
// via the context passed to Client.Complete, and any in-flight tool
// invocation is best-effort interrupted through the same context.
// Already-dispatched tool results that arrive after cancellation are
// dropped or appended with an error payload per Config.DropLateObservations.
func (c *Controller) Cancel() {
	c.ctrlMu.Lock()
	c.cancelled = true
	if c.cancelFn != nil {
		c.cancelFn()
	}
	c.pauseCond.Broadcast()
	c.ctrlMu.Unlock()

	// With no run in flight there is no loop to observe the flag, so the
	// phase transitions here; an active run finalizes the transition
	// itself (appending the cancellation marker) when its step unwinds.
	if c.runMu.TryLock() {
		c.mu.Lock()
		c.st.phase = PhaseCancelled
		c.mu.Unlock()
		c.runMu.Unlock()
	}
}
