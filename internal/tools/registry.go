// Package tools defines the operations a model may invoke during a review
// and the registry that validates and dispatches them.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Spec documents a tool's contract.
type Spec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Input       Schema `json:"input_schema"`
}

// Tool is an operation the model can call.
type Tool interface {
	Spec() Spec
	Validate(input json.RawMessage) error
	Call(ctx context.Context, input json.RawMessage) (any, error)
}

// New builds a Tool whose input decodes into In.
func New[In any](spec Spec, fn func(ctx context.Context, in In) (any, error)) Tool {
	return &funcTool[In]{spec: spec, fn: fn}
}

type funcTool[In any] struct {
	spec Spec
	fn   func(context.Context, In) (any, error)
}

func (t *funcTool[In]) Spec() Spec { return t.spec }

func (t *funcTool[In]) Validate(input json.RawMessage) error {
	return t.spec.Input.Validate(t.spec.Name, input)
}

func (t *funcTool[In]) Call(ctx context.Context, input json.RawMessage) (any, error) {
	var in In
	if len(input) > 0 && string(input) != "null" {
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, &ValidationError{Tool: t.spec.Name, Reason: err.Error()}
		}
	}
	return t.fn(ctx, in)
}

// Registry holds tool registrations and dispatches calls. Register tools
// at start-up; lookups are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: map[string]Tool{}}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) {
	if t == nil {
		return
	}
	spec := t.Spec()
	if spec.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[spec.Name] = t
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Specs returns the registered specs sorted by name.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Spec, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Spec())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call validates input and invokes the named tool. Unknown tools and bad
// input yield a *ValidationError; handler failures and panics yield a
// *ToolExecutionError wrapping the cause.
func (r *Registry) Call(ctx context.Context, name string, input json.RawMessage) (out any, err error) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, &ValidationError{Tool: name, Reason: "unknown tool"}
	}
	if err := t.Validate(input); err != nil {
		return nil, err
	}

	defer func() {
		if p := recover(); p != nil {
			out, err = nil, &ToolExecutionError{Tool: name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	out, err = t.Call(ctx, input)
	if err != nil {
		var ve *ValidationError
		var te *ToolExecutionError
		if errors.As(err, &ve) || errors.As(err, &te) {
			return nil, err
		}
		return nil, &ToolExecutionError{Tool: name, Err: err}
	}
	return out, nil
}
