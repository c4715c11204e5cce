package convo

import (
	"errors"
	"fmt"
)

// Sentinel errors for conversation-level control flow.
var (
	// ErrConversationErrored is returned by SendMessage/Run when the
	// conversation has already transitioned to Errored; Errored is
	// terminal for everything except Cancel.
	ErrConversationErrored = errors.New("convo: conversation is in errored state")

	// ErrConversationCancelled is returned by SendMessage/Run once the
	// conversation has transitioned to Cancelled.
	ErrConversationCancelled = errors.New("convo: conversation is cancelled")

	// ErrBusy is returned by SendMessage while a Run is in flight and
	// Config.ReentrantSendMessage is false.
	ErrBusy = errors.New("convo: run in progress")

	// ErrAlreadyRunning is returned by a Run call that overlaps another
	// Run on the same controller.
	ErrAlreadyRunning = errors.New("convo: run already in progress")
)

// StepPhase names the step-engine stage an error occurred in, for
// StepError. Distinct from Phase (state.go), which is the conversation
// controller's Idle/Running/Paused/Errored/Cancelled state machine.
type StepPhase string

const (
	StepPhaseCondense  StepPhase = "condense"
	StepPhaseProject   StepPhase = "project"
	StepPhaseComplete  StepPhase = "complete"
	StepPhaseInterpret StepPhase = "interpret"
	StepPhaseDispatch  StepPhase = "dispatch"
	StepPhaseObserve   StepPhase = "observe"
)

// ErrorKind discriminates the seven-member error taxonomy every step-
// engine failure is classified into.
type ErrorKind string

const (
	// KindValidation: tool call arguments failed schema validation.
	// Locally recoverable: an AgentError event is appended and the loop
	// continues.
	KindValidation ErrorKind = "validation"

	// KindUnknownTool: the model called a tool not in the registry.
	// Locally recoverable.
	KindUnknownTool ErrorKind = "unknown_tool"

	// KindToolExecution: a registered tool returned an error or panicked.
	// Locally recoverable.
	KindToolExecution ErrorKind = "tool_execution"

	// KindTransportRetryable: the LLM client reported a transient
	// transport failure; retried with backoff before escalating.
	KindTransportRetryable ErrorKind = "transport_retryable"

	// KindTransportFatal: the LLM client reported a non-retryable
	// transport failure, or retries were exhausted. Fatal: the
	// conversation moves to Errored and run() returns.
	KindTransportFatal ErrorKind = "transport_fatal"

	// KindCancelled: the run was cancelled mid-step. Not an error
	// condition — run() returns cleanly and a cancellation marker
	// Message event is appended.
	KindCancelled ErrorKind = "cancelled"

	// KindInternalInvariant: an invariant the step engine depends on
	// was violated (e.g. an Observation with no matching Action).
	// Fatal, not recoverable.
	KindInternalInvariant ErrorKind = "internal_invariant"
)

// Recoverable reports whether an error of this kind lets the step loop
// continue (after appending an AgentError event) rather than ending the
// run.
func (k ErrorKind) Recoverable() bool {
	switch k {
	case KindValidation, KindUnknownTool, KindToolExecution:
		return true
	default:
		return false
	}
}

// StepError is the structured error type the step engine produces and
// the controller inspects to decide whether to continue, retry, or stop.
type StepError struct {
	Kind      ErrorKind
	Phase     StepPhase
	ToolName  string
	ToolCalID string
	Message   string
	Cause     error
}

func (e *StepError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("convo: %s at %s: %s", e.Kind, e.Phase, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("convo: %s at %s: %v", e.Kind, e.Phase, e.Cause)
	}
	return fmt.Sprintf("convo: %s at %s", e.Kind, e.Phase)
}

func (e *StepError) Unwrap() error {
	return e.Cause
}

// AsStepError extracts a *StepError from an error chain.
func AsStepError(err error) (*StepError, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
