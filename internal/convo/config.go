package convo

import (
	"time"

	"github.com/haasonsaas/nexus/internal/observability"
)

// Config is the controller's configuration surface: the step-loop
// options plus the ambient runtime knobs (tool timeout and retry
// bounds, logger).
type Config struct {
	// MaxIterPerRun hard-caps the number of steps a single Run() call
	// executes before returning, regardless of Finished. Default 500.
	MaxIterPerRun int

	// ParallelToolCalls, if false, forces sequential tool dispatch
	// within a batch regardless of any tool's own parallel-safe flag.
	// Default false (sequential).
	ParallelToolCalls bool

	// DropLateObservations, if true, drops the Observation for an
	// action whose tool finished after the conversation transitioned to
	// Cancelled rather than appending it. DefaultConfig sets this true;
	// a zero-valued Config does not. Start from DefaultConfig() rather
	// than a bare Config{} to get the documented defaults for this and
	// ReentrantSendMessage, since Go's zero bool can't distinguish
	// "unset" from "explicitly false".
	DropLateObservations bool

	// ReentrantSendMessage, if true, lets SendMessage called during an
	// in-flight Run() queue behind the current step rather than being
	// rejected with ErrBusy. See DropLateObservations for the zero-value
	// caveat.
	ReentrantSendMessage bool

	// ToolTimeout bounds a single synchronous tool invocation. Zero
	// means no timeout beyond the run's own context.
	ToolTimeout time.Duration

	// ToolMaxAttempts bounds retries of a ToolExecutionError before the
	// step engine gives up and appends a failed Observation. Default 1
	// (no retry).
	ToolMaxAttempts int

	// Logger receives the engine's structured log stream: transport
	// retries, condenser failures, run completion and cancellation.
	// Secrets in logged values are redacted and correlation IDs are
	// pulled from the step's context (see internal/observability).
	Logger *observability.Logger
}

// DefaultConfig returns the documented defaults. New fills
// MaxIterPerRun, ToolMaxAttempts and Logger from it when the caller
// leaves them at zero; DropLateObservations and ReentrantSendMessage are
// used as given (see DropLateObservations).
func DefaultConfig() Config {
	return Config{
		MaxIterPerRun:        500,
		DropLateObservations: true,
		ReentrantSendMessage: true,
		ToolMaxAttempts:      1,
		Logger:               observability.NewLogger(observability.LogConfig{}),
	}
}

// mergeConfig fills zero-valued fields of cfg from DefaultConfig:
// explicit values always win, zero values fall back to the default.
func mergeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MaxIterPerRun <= 0 {
		cfg.MaxIterPerRun = def.MaxIterPerRun
	}
	if cfg.ToolMaxAttempts <= 0 {
		cfg.ToolMaxAttempts = def.ToolMaxAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}
