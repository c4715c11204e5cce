// Package toolkit is the tool registry: the name-to-schema-and-invoker
// binding the step engine consults to validate and dispatch Action
// events.
package toolkit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Capability names a permission a tool requires to be callable. The
// step engine checks these with Allowed against the controller's
// allowed set before every invocation.
type Capability string

const (
	CapView Capability = "view"
	CapEdit Capability = "edit"
)

// Invoker executes a tool's arguments and returns its result content.
// Implementations that may run for an unbounded wall time should also
// implement AsyncInvoker so the step engine routes them through a
// jobs.Store, where the call can be inspected or cancelled while the
// step waits for its result.
type Invoker interface {
	Invoke(ctx context.Context, arguments json.RawMessage) (content string, isErr bool, err error)
}

// AsyncInvoker marks an Invoker whose calls should be dispatched to a
// background job tracked in a jobs.Store instead of being invoked
// inline; the step engine still waits for the job's result.
type AsyncInvoker interface {
	Invoker
	Async() bool
}

// ToolSpec describes one registered tool: its wire schema plus the
// capabilities required to call it and the Invoker that runs it.
type ToolSpec struct {
	Name         string
	Description  string
	Schema       json.RawMessage
	Capabilities []Capability
	Invoker      Invoker

	// ParallelSafe declares that this tool may run concurrently with
	// other parallel-safe tools dispatched from the same batch. Default
	// false: the step engine dispatches the batch sequentially unless
	// every action in it names a parallel-safe tool.
	ParallelSafe bool
}

// MaxToolNameLength bounds tool names accepted by Register.
const MaxToolNameLength = 256

// MaxArgumentsSize bounds the raw argument payload accepted by Validate.
const MaxArgumentsSize = 10 << 20

// Registry is the thread-safe name -> ToolSpec binding the step engine
// resolves Action events against. It compiles and caches a JSON-schema
// validator per tool so repeated calls to the same tool don't recompile
// the schema.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]ToolSpec
	schemas sync.Map // name -> *jsonschema.Schema
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]ToolSpec)}
}

// Register adds or replaces a tool. Returns an error if name is empty,
// too long, or the schema fails to compile.
func (r *Registry) Register(spec ToolSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("toolkit: tool name is required")
	}
	if len(spec.Name) > MaxToolNameLength {
		return fmt.Errorf("toolkit: tool name exceeds %d characters", MaxToolNameLength)
	}
	if spec.Invoker == nil {
		return fmt.Errorf("toolkit: tool %q has no invoker", spec.Name)
	}
	if len(spec.Schema) > 0 {
		compiled, err := compileSchema(spec.Name, spec.Schema)
		if err != nil {
			return fmt.Errorf("toolkit: compile schema for %q: %w", spec.Name, err)
		}
		r.schemas.Store(spec.Name, compiled)
	} else {
		r.schemas.Delete(spec.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[spec.Name] = spec
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	r.schemas.Delete(name)
}

// Get returns the ToolSpec registered under name.
func (r *Registry) Get(name string) (ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.tools[name]
	return spec, ok
}

// List returns every registered tool, order unspecified.
func (r *Registry) List() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Validate checks raw arguments against the tool's compiled schema, if
// one was supplied at registration. A tool with no schema accepts any
// JSON object.
func (r *Registry) Validate(name string, arguments json.RawMessage) error {
	if len(arguments) > MaxArgumentsSize {
		return fmt.Errorf("toolkit: arguments for %q exceed %d bytes", name, MaxArgumentsSize)
	}
	cached, ok := r.schemas.Load(name)
	if !ok {
		return nil
	}
	schema := cached.(*jsonschema.Schema)

	var decoded any
	if err := json.Unmarshal(arguments, &decoded); err != nil {
		return fmt.Errorf("toolkit: arguments for %q are not valid JSON: %w", name, err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("toolkit: arguments for %q: %w", name, err)
	}
	return nil
}

// Allowed reports whether every capability spec requires is present in
// allowed. An empty allowed set permits only tools that require no
// capabilities.
func Allowed(spec ToolSpec, allowed []Capability) bool {
	allowedSet := make(map[Capability]bool, len(allowed))
	for _, c := range allowed {
		allowedSet[c] = true
	}
	for _, need := range spec.Capabilities {
		if !allowedSet[need] {
			return false
		}
	}
	return true
}

var schemaCache sync.Map

func compileSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	key := name + ":" + string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(schema))
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
