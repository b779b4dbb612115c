// Package tools provides the agent's tool framework: the Tool interface,
// a registry, and the policy/audit decorator that every tool call passes
// through.
package tools

import (
	"context"
	"fmt"
)

// Tool is the interface every agent tool implements.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// Registry holds the full set of tools available to the agent loop.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any existing tool under the same name.
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools in no particular order.
func (r *Registry) List() []Tool {
	result := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		result = append(result, tool)
	}
	return result
}

// sessionScoped is implemented by Wrapper; SetSessionID lets the single
// shared registry's audit attribution follow whichever session the
// Conductor currently has loaded.
type sessionScoped interface {
	SetSessionID(sessionID string)
}

// SetSessionID updates audit attribution on every wrapped tool in the
// registry, called by the Conductor each time it switches the session
// it's actively processing.
func (r *Registry) SetSessionID(sessionID string) {
	for _, tool := range r.tools {
		if scoped, ok := tool.(sessionScoped); ok {
			scoped.SetSessionID(sessionID)
		}
	}
}

// Definitions returns tool definitions in the OpenAI function-calling
// format, for inclusion in a provider.ChatRequest.
func (r *Registry) Definitions() []map[string]any {
	result := make([]map[string]any, 0, len(r.tools))
	for _, tool := range r.tools {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        tool.Name(),
				"description": tool.Description(),
				"parameters":  tool.Parameters(),
			},
		})
	}
	return result
}

// Execute runs a tool by name. Callers that need policy enforcement and
// auditing should go through a Wrapper-registered tool instead of calling
// Execute directly; the Conductor always resolves tool calls through the
// registry it was built with.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (string, error) {
	tool, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("tool not found: %s", name)
	}
	return tool.Execute(ctx, params)
}

// GetString extracts a string parameter with a default value.
func GetString(params map[string]any, key string, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt extracts an int parameter with a default value.
func GetInt(params map[string]any, key string, defaultVal int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return defaultVal
}

// GetBool extracts a bool parameter with a default value.
func GetBool(params map[string]any, key string, defaultVal bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}
