package convo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/internal/backoff"
	"github.com/haasonsaas/nexus/internal/llm"
	"github.com/haasonsaas/nexus/internal/toolkit"
	"github.com/haasonsaas/nexus/pkg/events"
	"github.com/google/uuid"
)

// errStepCancelled signals Run's loop to finalize cancellation rather
// than treat the step as a hard failure.
var errStepCancelled = errors.New("convo: step cancelled")

// maxTransportAttempts caps completion attempts before a retryable
// transport failure escalates to fatal.
const maxTransportAttempts = 5

// step executes one engine iteration: condense, project, release the
// lock for the LLM call, reacquire, interpret the response, dispatch
// any tool calls outside the lock, append their Observations inside
// the lock, then publish everything appended this step in order.
func (c *Controller) step(ctx context.Context) error {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()

	var newEvents []events.Event

	// 1-4: acquire lock, condense, project, release for the LLM call.
	c.mu.Lock()
	c.st.stepCount++
	view := c.st.view()
	if condEv, ok := c.maybeCondense(ctx, &view); ok {
		newEvents = append(newEvents, condEv)
	}
	msgs := view.ToMessages()
	toolDefs := c.toolDefs()
	c.mu.Unlock()

	req := llm.Request{Model: c.model, Messages: msgs, Tools: toolDefs}

	// 5. Call the model. Not holding the lock: this is the one long I/O
	// the design turns on not blocking Pause/Cancel/SendMessage.
	resp, err := c.complete(ctx, req)

	// 6. Reacquire the lock to interpret and append.
	c.mu.Lock()
	if err != nil {
		if ctx.Err() != nil {
			c.mu.Unlock()
			c.metrics.RecordStep("cancelled")
			return errStepCancelled
		}
		errEv := c.st.append(newAgentErrorEvent("transport error: " + err.Error()))
		newEvents = append(newEvents, errEv)
		c.mu.Unlock()
		c.bus.PublishAll(ctx, newEvents)
		c.metrics.RecordStep("error")
		return &StepError{Kind: KindTransportFatal, Phase: StepPhaseComplete, Cause: err}
	}

	switch resp.Kind {
	case llm.ResponseRefusal:
		errEv := c.st.append(newAgentErrorEvent("model refused: " + resp.RefusalReason))
		newEvents = append(newEvents, errEv)
		c.mu.Unlock()
		c.bus.PublishAll(ctx, newEvents)
		c.metrics.RecordStep("refusal")
		return nil

	case llm.ResponseAssistantText:
		if len(resp.ToolCalls) == 0 {
			msgEv := c.st.append(llm.FinalMessageEvent(resp))
			c.st.finished = true
			newEvents = append(newEvents, msgEv)
			c.mu.Unlock()
			c.bus.PublishAll(ctx, newEvents)
			c.metrics.RecordStep("final")
			return nil
		}

		pendings, errEvents := c.interpretToolCalls(resp)
		newEvents = append(newEvents, errEvents...)
		c.mu.Unlock()
		c.bus.PublishAll(ctx, newEvents)
		c.metrics.RecordStep("tool_calls")

		if len(pendings) == 0 {
			return nil
		}
		return c.dispatchBatch(ctx, pendings)

	default:
		errEv := c.st.append(newAgentErrorEvent(fmt.Sprintf("unrecognized response kind %q", resp.Kind)))
		newEvents = append(newEvents, errEv)
		c.mu.Unlock()
		c.bus.PublishAll(ctx, newEvents)
		c.metrics.RecordStep("error")
		return nil
	}
}

// maybeCondense asks the condenser for a Condensation over view and, if
// one is returned, appends it and rebuilds view in place. Must be
// called with c.mu held. Returns the stored event and true if a
// Condensation was appended.
func (c *Controller) maybeCondense(ctx context.Context, view *events.View) (events.Event, bool) {
	if c.condenser == nil {
		return events.Event{}, false
	}
	cond, err := c.condenser.Condense(*view)
	if err != nil {
		c.cfg.Logger.Error(ctx, "condenser failed, continuing uncondensed", "error", err)
		return events.Event{}, false
	}
	if cond == nil {
		return events.Event{}, false
	}
	stored := c.st.append(events.Event{
		Kind:         events.KindCondensation,
		Source:       events.SourceEnvironment,
		Condensation: cond,
	})
	*view = c.st.view()
	return stored, true
}

// complete calls the LLM client, retrying TransportRetryable failures
// with exponential backoff (base 1s, factor 2, cap 30s, max 5 attempts)
// before giving up. A non-retryable transport error, or a successful
// non-transport-error response, returns immediately.
func (c *Controller) complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	policy := backoff.Core()
	var lastErr error

	for attempt := 1; attempt <= maxTransportAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return llm.Response{}, err
		}

		spanCtx, span := c.tracer.TraceLLMRequest(ctx, "convo", c.model)
		resp, err := c.client.Complete(spanCtx, req)

		switch {
		case err != nil:
			c.tracer.RecordError(span, err)
			span.End()
			lastErr = err
		case resp.Kind == llm.ResponseTransportError:
			if !resp.Retryable {
				c.tracer.RecordError(span, resp.TransportErr)
				span.End()
				c.metrics.RecordTransportError(c.model, false)
				return llm.Response{}, resp.TransportErr
			}
			c.tracer.RecordError(span, resp.TransportErr)
			span.End()
			lastErr = resp.TransportErr
		default:
			span.End()
			return resp, nil
		}

		if attempt < maxTransportAttempts {
			c.metrics.RecordTransportRetry(c.model)
			c.cfg.Logger.Warn(ctx, "transport attempt failed, retrying",
				"attempt", attempt, "model", c.model, "error", lastErr)
			if serr := policy.Sleep(ctx, attempt); serr != nil {
				return llm.Response{}, serr
			}
		}
	}
	c.metrics.RecordTransportError(c.model, true)
	return llm.Response{}, fmt.Errorf("transport retries exhausted after %d attempts: %w", maxTransportAttempts, lastErr)
}

// pendingAction is one successfully validated tool call awaiting
// dispatch, paired with the ToolSpec that will execute it.
type pendingAction struct {
	action events.Event
	spec   toolkit.ToolSpec
}

// interpretToolCalls parses resp's tool calls into Action events (for
// calls that resolve to a known tool with valid arguments) or AgentError
// events (unknown tool name, or schema validation failure).
// Must be called with c.mu held; appends directly to c.st. Valid
// actions are appended first, contiguously, sharing one fresh batch ID
// with the first valid action carrying the response's thought — this
// keeps invariant #3 (same-batch Actions are contiguous) intact even
// when some tool calls in the response are rejected.
func (c *Controller) interpretToolCalls(resp llm.Response) ([]pendingAction, []events.Event) {
	batchID := uuid.NewString()

	type validCall struct {
		tc   llm.ToolCallRequest
		spec toolkit.ToolSpec
	}
	var valid []validCall
	var pendingErrs []events.Event

	// First pass: partition into valid calls and rejections, appending
	// nothing yet. This is what keeps the batch contiguous below — an
	// invalid call in the middle of the model's list must not split the
	// Actions either side of it into two batches.
	for _, tc := range resp.ToolCalls {
		spec, ok := c.lookupTool(tc.Name)
		if !ok {
			pendingErrs = append(pendingErrs, newAgentErrorEvent(
				fmt.Sprintf("no such tool %q (tool_call_id=%s)", tc.Name, tc.ID)))
			continue
		}
		if verr := c.validateTool(tc.Name, tc.Arguments); verr != nil {
			pendingErrs = append(pendingErrs, newAgentErrorEvent(
				fmt.Sprintf("arguments for %q failed schema validation: %v (tool_call_id=%s)", tc.Name, verr, tc.ID)))
			continue
		}
		valid = append(valid, validCall{tc: tc, spec: spec})
	}

	// Second pass: append every valid call's Action contiguously, all
	// sharing batchID, before appending any rejection's AgentError.
	var pendings []pendingAction
	for i, v := range valid {
		var thought []events.ContentPart
		if i == 0 {
			thought = resp.Thought
		}
		stored := c.st.append(events.Event{
			Kind:   events.KindAction,
			Source: events.SourceAgent,
			Action: &events.ActionPayload{
				BatchID:    batchID,
				ToolCallID: v.tc.ID,
				Thought:    thought,
				ToolName:   v.tc.Name,
				Arguments:  v.tc.Arguments,
			},
		})
		pendings = append(pendings, pendingAction{action: stored, spec: v.spec})
	}

	errEvents := make([]events.Event, len(pendingErrs))
	for i, ev := range pendingErrs {
		errEvents[i] = c.st.append(ev)
	}

	return pendings, errEvents
}

func (c *Controller) lookupTool(name string) (toolkit.ToolSpec, bool) {
	if c.reg == nil {
		return toolkit.ToolSpec{}, false
	}
	return c.reg.Get(name)
}

func (c *Controller) validateTool(name string, args []byte) error {
	if c.reg == nil {
		return nil
	}
	return c.reg.Validate(name, args)
}

// toolResult is what invokeTool produces for one pendingAction.
type toolResult struct {
	content string
	isErr   bool
}

// dispatchBatch invokes every pending action's tool outside the
// conversation lock, then appends their Observations inside the lock in
// the batch's original order regardless of dispatch order. Dispatch is
// parallel only when Config.ParallelToolCalls is set and every tool in
// the batch declares itself parallel-safe; otherwise sequential.
func (c *Controller) dispatchBatch(ctx context.Context, pendings []pendingAction) error {
	results := make([]toolResult, len(pendings))

	if c.cfg.ParallelToolCalls && allParallelSafe(pendings) {
		var wg sync.WaitGroup
		for i, p := range pendings {
			wg.Add(1)
			go func(i int, p pendingAction) {
				defer wg.Done()
				results[i] = c.invokeTool(ctx, p)
			}(i, p)
		}
		wg.Wait()
	} else {
		for i, p := range pendings {
			results[i] = c.invokeTool(ctx, p)
		}
	}

	c.mu.Lock()
	cancelledNow := ctx.Err() != nil
	var newEvents []events.Event
	for i, p := range pendings {
		if cancelledNow && c.cfg.DropLateObservations {
			continue
		}
		content, isErr := results[i].content, results[i].isErr
		if cancelledNow && !c.cfg.DropLateObservations {
			content = "cancelled before tool result was recorded"
			isErr = true
		}
		obs := c.st.append(events.Event{
			Kind:   events.KindObservation,
			Source: events.SourceEnvironment,
			Observation: &events.ObservationPayload{
				ActionID:   p.action.ID,
				ToolCallID: p.action.Action.ToolCallID,
				ToolName:   p.action.Action.ToolName,
				Content:    content,
				IsError:    isErr,
			},
		})
		newEvents = append(newEvents, obs)
	}
	c.mu.Unlock()

	c.bus.PublishAll(ctx, newEvents)
	if cancelledNow {
		return errStepCancelled
	}
	return nil
}

func allParallelSafe(pendings []pendingAction) bool {
	for _, p := range pendings {
		if !p.spec.ParallelSafe {
			return false
		}
	}
	return true
}

// invokeTool runs one action's tool, enforcing the controller's
// capability set and recovering from a panicking Invoker: a failed
// Observation, never a crashed step. A tool execution failure
// (Invoke returning err or isErr) is retried
// up to Config.ToolMaxAttempts times with no backoff between attempts,
// since a tool call, unlike a transport call, typically fails for
// reasons (bad arguments, a missing resource) that a flat retry won't
// fix but that the caller may legitimately want bounded resilience
// against (a flaky subprocess, a transient network call inside the tool).
func (c *Controller) invokeTool(ctx context.Context, p pendingAction) toolResult {
	start := time.Now()
	spanCtx, span := c.tracer.TraceToolExecution(ctx, p.spec.Name)
	defer span.End()

	result := c.invokeToolOnce(spanCtx, p)
	attempts := 1
	for result.isErr && attempts < c.cfg.ToolMaxAttempts {
		if ctx.Err() != nil {
			break
		}
		attempts++
		result = c.invokeToolOnce(spanCtx, p)
	}

	status := "ok"
	if result.isErr {
		status = "error"
		c.tracer.SetAttributes(span, "tool.error", true)
	}
	c.metrics.RecordToolCall(p.spec.Name, status, time.Since(start).Seconds())
	return result
}

// invokeToolOnce is one attempt at running p's tool, enforcing the
// capability set and recovering from a panicking Invoker.
func (c *Controller) invokeToolOnce(ctx context.Context, p pendingAction) (result toolResult) {
	if !toolkit.Allowed(p.spec, c.capabilities) {
		return toolResult{content: "not permitted in read-only mode", isErr: true}
	}

	if async, ok := p.spec.Invoker.(toolkit.AsyncInvoker); ok && async.Async() {
		return c.invokeAsyncTool(ctx, p, async)
	}

	invokeCtx := ctx
	var cancel context.CancelFunc
	if c.cfg.ToolTimeout > 0 {
		invokeCtx, cancel = context.WithTimeout(ctx, c.cfg.ToolTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result = toolResult{content: fmt.Sprintf("tool %q panicked: %v", p.spec.Name, r), isErr: true}
		}
	}()

	content, isErr, err := p.spec.Invoker.Invoke(invokeCtx, p.action.Action.Arguments)
	if err != nil {
		return toolResult{content: err.Error(), isErr: true}
	}
	return toolResult{content: content, isErr: isErr}
}

// invokeAsyncTool routes invoker through toolkit.Dispatch and the
// controller's jobs.Store instead of calling Invoke directly, so the
// call's progress is recorded in the store (queued/running/succeeded/
// failed) and can be inspected or cancelled independently of this one
// goroutine while it runs. The batch's Observation still waits for the
// job to finish, since every tool_call in a batch needs a matching
// tool-role message before the next LLM turn.
func (c *Controller) invokeAsyncTool(ctx context.Context, p pendingAction, invoker toolkit.AsyncInvoker) toolResult {
	done := toolkit.Dispatch(ctx, c.jobs, p.action.Action.ToolCallID, p.spec.Name, p.action.Action.Arguments, invoker)
	select {
	case res := <-done:
		return toolResult{content: res.Content, isErr: res.IsError}
	case <-ctx.Done():
		return toolResult{content: "cancelled before async tool result was recorded", isErr: true}
	}
}
