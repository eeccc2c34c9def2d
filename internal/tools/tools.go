// Package tools defines the function-tool contract, the per-process
// registry, and the built-in tools shipped with minds.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/minds/internal/dialog"
	"github.com/nextlevelbuilder/minds/internal/providers"
)

// Invocation carries the execution context handed to a tool.
type Invocation struct {
	// Dialog is the dialog on whose behalf the tool runs.
	Dialog *dialog.Dialog
	// Caller is the agentId of the responder that issued the call.
	Caller string
	// Args are the decoded function arguments.
	Args map[string]any
}

// Tool is a callable capability exposed to the model, either as a
// function tool or via its tellask callsign.
type Tool interface {
	// Name is the unique callsign, matched against tellask mentions.
	Name() string

	// Description is shown to the model in the tool schema.
	Description() string

	// Parameters is the JSON Schema of the tool's arguments.
	Parameters() map[string]any

	// Execute runs the tool synchronously. Errors are recoverable:
	// the driver folds them back into the conversation.
	Execute(ctx context.Context, inv Invocation) (*Result, error)
}

// Registry maps callsigns to tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any prior tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get looks up a tool by callsign.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether a callsign is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the registered callsigns, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions builds the provider-facing tool schemas.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Execute runs a registered tool, converting panics and errors into
// the recoverable tool-error protocol.
func (r *Registry) Execute(ctx context.Context, name string, inv Invocation) (res *Result) {
	t, ok := r.Get(name)
	if !ok {
		return UnknownCallResult(name)
	}
	defer func() {
		if p := recover(); p != nil {
			res = ExecErrorResult(fmt.Sprintf("tool %s panicked: %v", name, p))
		}
	}()
	out, err := t.Execute(ctx, inv)
	if err != nil {
		return ExecErrorResult(err.Error())
	}
	if out == nil {
		out = NewResult("")
	}
	return out
}
