// Package convo is the conversation controller and step engine: the
// façade that owns a conversation's event log and drives it through
// LLM round-trips and tool dispatch until the model reports completion.
package convo

import (
	"context"
	"strings"
	"sync"

	"github.com/haasonsaas/nexus/internal/bus"
	"github.com/haasonsaas/nexus/internal/condense"
	"github.com/haasonsaas/nexus/internal/jobs"
	"github.com/haasonsaas/nexus/internal/llm"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/toolkit"
	"github.com/haasonsaas/nexus/pkg/events"
)

// Microagent is a keyword-triggered augmentation activated at most once
// per conversation, recorded on the first user Message it matches.
type Microagent struct {
	Name     string
	Keywords []string
	Content  string
}

// Options configures a new Controller. Model/SystemPrompt/Registry/
// Client are required; everything else has a usable zero value.
type Options struct {
	Model        string
	SystemPrompt string
	EnvContext   []events.ContentPart // optional environment-context Message injected alongside the system prompt
	Microagents  []Microagent
	Registry     *toolkit.Registry
	Client       llm.Client
	Condenser    condense.Condenser // nil defaults to condense.NoOp{}
	Capabilities []toolkit.Capability
	Config       Config

	// Jobs backs any registered tool whose Invoker implements
	// toolkit.AsyncInvoker with Async() true. Nil defaults to
	// jobs.NewMemoryStore().
	Jobs jobs.Store

	// Tracer and Metrics are optional observability hooks. Either may be
	// left nil: step.go's instrumentation calls are no-ops on a nil
	// *observability.Tracer receiver's Start/TraceLLMRequest/
	// TraceToolExecution (which return a non-recording span) and on a
	// nil *observability.StepMetrics receiver (see its Record* methods).
	Tracer  *observability.Tracer
	Metrics *observability.StepMetrics

	// Subscribers registered before Run/SendMessage is first called.
	// The first subscriber in this list observes every event before any
	// subscriber added later via Subscribe — see Controller.Subscribe's
	// doc comment for the persistence-vs-user-callback ordering this
	// resolves.
	Subscribers []bus.Subscriber
}

// Controller is the public façade: SendMessage/Run/Pause/Resume/Cancel/
// Steer, plus Subscribe for observing the event stream. One Controller
// owns exactly one conversation's state for its lifetime.
type Controller struct {
	mu sync.Mutex // the conversation-state lock: guards st, held only across log mutation and View projection
	st *state

	// stepMu is held for the whole of one step (including the LLM call
	// and tool dispatch, during which mu is released). SendMessage takes
	// it too, so a message sent mid-step lands in the log only after the
	// step's own events are fully appended — never between a batch's
	// Actions and their Observations. Lock order: stepMu before mu.
	stepMu sync.Mutex

	reg          *toolkit.Registry
	client       llm.Client
	condenser    condense.Condenser
	bus          *bus.Bus
	cfg          Config
	model        string
	systemPrompt string
	envContext   []events.ContentPart
	microagents  []Microagent
	capabilities []toolkit.Capability
	tracer       *observability.Tracer
	metrics      *observability.StepMetrics
	jobs         jobs.Store

	runMu sync.Mutex // serializes Run() invocations: one driver thread at a time

	ctrlMu    sync.Mutex // guards paused/cancelled/cancelFn; separate from mu so Pause/Cancel never wait on an in-flight LLM call
	pauseCond *sync.Cond
	paused    bool
	cancelled bool
	cancelFn  context.CancelFunc
}

// New constructs a Controller ready to accept SendMessage/Run calls.
func New(opts Options) *Controller {
	cfg := mergeConfig(opts.Config)
	b := bus.New(cfg.Logger.Slog())
	for _, s := range opts.Subscribers {
		b.Subscribe(s)
	}

	condenser := opts.Condenser
	if condenser == nil {
		condenser = condense.NoOp{}
	}
	jobStore := opts.Jobs
	if jobStore == nil {
		jobStore = jobs.NewMemoryStore()
	}

	c := &Controller{
		st:           newState(),
		reg:          opts.Registry,
		client:       opts.Client,
		condenser:    condenser,
		bus:          b,
		cfg:          cfg,
		model:        opts.Model,
		systemPrompt: opts.SystemPrompt,
		envContext:   opts.EnvContext,
		microagents:  opts.Microagents,
		capabilities: opts.Capabilities,
		tracer:       opts.Tracer,
		metrics:      opts.Metrics,
		jobs:         jobStore,
	}
	c.pauseCond = sync.NewCond(&c.ctrlMu)
	return c
}

// Subscribe registers s to observe every event appended from this call
// onward, in addition to any Subscribers passed to Options. Subscribers
// are invoked in registration order on the goroutine that appended the
// event (see internal/bus), so whichever subscriber is registered first
// (typically a persistence hook passed in Options) always observes an
// event before one added later via Subscribe.
func (c *Controller) Subscribe(s bus.Subscriber) {
	c.bus.Subscribe(s)
}

// Bus returns the controller's underlying event bus, for wiring an
// external fan-out adapter (such as internal/wsobserver) that needs to
// manage its own per-connection Subscribe/Unsubscribe lifecycle rather
// than a single long-lived Subscriber passed to Subscribe.
func (c *Controller) Bus() *bus.Bus {
	return c.bus
}

// Jobs returns the job store backing async tool dispatch, for an
// external caller that wants to list, inspect, or cancel an in-flight
// async tool call outside the conversation lock.
func (c *Controller) Jobs() jobs.Store {
	return c.jobs
}

// Phase returns the controller's current state-machine position.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.phase
}

// Finished reports whether the last Run() ended because the model
// returned a final message with no tool calls (as opposed to hitting
// the iteration cap, an error, or cancellation).
func (c *Controller) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.finished
}

// Steps returns how many steps the controller has executed across all
// Run calls so far.
func (c *Controller) Steps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.stepCount
}

// Log returns a snapshot of the full event log in append order.
func (c *Controller) Log() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.snapshotLog()
}

// SendMessage appends a user message event, injecting the SystemPrompt
// (and optional environment-context Message) first if this is the
// conversation's first message. Clears Finished so a subsequent Run()
// proceeds. Rejected with ErrConversationErrored/ErrConversationCancelled
// once the controller has reached those terminal-for-input phases;
// Errored accepts only Cancel.
func (c *Controller) SendMessage(ctx context.Context, text string, parts ...events.ContentPart) error {
	content := parts
	if len(content) == 0 {
		content = events.Text(text)
	}

	if !c.cfg.ReentrantSendMessage {
		if !c.runMu.TryLock() {
			return ErrBusy
		}
		c.runMu.Unlock()
	}

	// Queue behind any in-flight step so this message's event is appended
	// only after the step's events are fully appended.
	c.stepMu.Lock()
	defer c.stepMu.Unlock()

	c.mu.Lock()
	switch c.st.phase {
	case PhaseErrored:
		c.mu.Unlock()
		return ErrConversationErrored
	case PhaseCancelled:
		c.mu.Unlock()
		return ErrConversationCancelled
	}

	var newEvents []events.Event

	if !c.st.sentInitialContext {
		sp := c.st.append(events.Event{
			Kind:   events.KindSystemPrompt,
			Source: events.SourceEnvironment,
			SystemPrompt: &events.SystemPromptPayload{
				Prompt: c.systemPrompt,
				Tools:  c.toolSpecs(),
			},
		})
		newEvents = append(newEvents, sp)

		if len(c.envContext) > 0 {
			env := c.st.append(events.Event{
				Kind:   events.KindMessage,
				Source: events.SourceEnvironment,
				Message: &events.MessagePayload{
					Role:    "user",
					Content: c.envContext,
				},
			})
			newEvents = append(newEvents, env)
		}
		c.st.sentInitialContext = true
	}

	activated := c.activateMicroagents(text)

	msg := c.st.append(events.Event{
		Kind:   events.KindMessage,
		Source: events.SourceUser,
		Message: &events.MessagePayload{
			Role:                "user",
			Content:             content,
			ActivatedMicroagent: activated,
		},
	})
	newEvents = append(newEvents, msg)
	c.st.finished = false
	c.mu.Unlock()

	c.bus.PublishAll(ctx, newEvents)
	return nil
}

// Steer injects a message that takes effect once the current step's
// in-flight tool dispatch completes, without waiting for Run() to
// return to the caller. It is SendMessage's reentrant-queueing behavior
// applied mid-batch: it goes through SendMessage, which queues on the
// step lock (stepMu), so Steer's event lands in the log only after whatever the current step
// is appending finishes. An extension, not a replacement, of
// SendMessage.
func (c *Controller) Steer(ctx context.Context, text string) error {
	return c.SendMessage(ctx, text)
}

func (c *Controller) activateMicroagents(text string) []string {
	var activated []string
	for _, m := range c.microagents {
		if c.st.activatedMicroagents[m.Name] {
			continue
		}
		if !matchesAnyKeyword(text, m.Keywords) {
			continue
		}
		c.st.activatedMicroagents[m.Name] = true
		activated = append(activated, m.Name)
	}
	return activated
}

func matchesAnyKeyword(text string, keywords []string) bool {
	for _, k := range keywords {
		if k == "" {
			continue
		}
		if containsFold(text, k) {
			return true
		}
	}
	return false
}

func (c *Controller) toolSpecs() []events.ToolSpec {
	if c.reg == nil {
		return nil
	}
	specs := c.reg.List()
	out := make([]events.ToolSpec, 0, len(specs))
	for _, s := range specs {
		out = append(out, events.ToolSpec{
			Name:        s.Name,
			Description: s.Description,
			Schema:      s.Schema,
		})
	}
	return out
}

func (c *Controller) toolDefs() []llm.ToolDef {
	if c.reg == nil {
		return nil
	}
	specs := c.reg.List()
	out := make([]llm.ToolDef, 0, len(specs))
	for _, s := range specs {
		out = append(out, llm.ToolDef{
			Name:        s.Name,
			Description: s.Description,
			Schema:      s.Schema,
		})
	}
	return out
}

func newAgentErrorEvent(msg string) events.Event {
	return events.Event{
		Kind:   events.KindAgentError,
		Source: events.SourceEnvironment,
		AgentError: &events.AgentErrorPayload{
			Error: msg,
		},
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
