// Package tools provides the tool registry and executor the agent loop
// dispatches through. Tools declare a parameter schema, a destructive flag
// and an approval requirement; the executor validates, gates and times
// every call.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/auilabs/aui/pkg/protocol"
)

// Parameter describes one tool argument.
type Parameter struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Required    bool           `json:"required"`
	Default     protocol.Value `json:"default,omitempty"`
	Enum        []string       `json:"enum,omitempty"`
}

// Definition describes a tool: schema plus execution policy.
type Definition struct {
	Name             string      `json:"name"`
	Description      string      `json:"description"`
	Parameters       []Parameter `json:"parameters,omitempty"`
	Destructive      bool        `json:"destructive,omitempty"`
	RequiresApproval bool        `json:"requires_approval,omitempty"`
}

// Call is one tool invocation request.
type Call struct {
	Tool string                    `json:"tool"`
	Args map[string]protocol.Value `json:"args,omitempty"`
}

// Result is the outcome of one tool invocation.
type Result struct {
	Success    bool           `json:"success"`
	Data       protocol.Value `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	ToolName   string         `json:"tool_name"`
	TokensUsed int            `json:"tokens_used,omitempty"`
	CostCents  int64          `json:"cost_cents,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	Warnings   []string       `json:"warnings,omitempty"`
}

// Tool is a named executable capability.
type Tool interface {
	GetDefinition() Definition
	Execute(ctx context.Context, args map[string]protocol.Value) (Result, error)
}

// Registry maps tool names to tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, rejecting empty and duplicate names.
func (r *Registry) Register(t Tool) error {
	def := t.GetDefinition()
	if def.Name == "" {
		return protocol.NewComponentError("tools", "Register", "tool name cannot be empty", protocol.ErrInvalidArgs)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return protocol.NewComponentError("tools", "Register",
			fmt.Sprintf("tool %q already registered", def.Name), protocol.ErrInvalidArgs)
	}
	r.tools[def.Name] = t
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, protocol.NewComponentError("tools", "Get",
			fmt.Sprintf("tool %q", name), protocol.ErrNotFound)
	}
	return t, nil
}

// List returns all tool definitions, sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.GetDefinition())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
