// Package toolcall drives the multi-round function-calling conversation
// between a tool-capable vendor and a set of externally supplied handlers.
package toolcall

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Kfarkye/sportsync-ai-live-analytics-sub000/internal/llm"
)

// ToolContext is handed to every handler invocation.
type ToolContext struct {
	RequestID string
	DB        *sql.DB
}

// Handler executes one tool call. Implementations live outside this module;
// only the contract is defined here. Handlers must respect ctx cancellation.
type Handler func(ctx context.Context, args map[string]any, tc ToolContext) (any, error)

// ToolSchema declares one tool to the model and sets its execution policy.
// TTL controls result freshness: live odds go stale in seconds, season
// tempo stats in minutes.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema
	TTL         time.Duration
	Timeout     time.Duration
}

type registration struct {
	schema  ToolSchema
	handler Handler
}

// Registry holds the declarative tool schemas and their handlers.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registration
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registration)}
}

// Register adds a tool. Re-registering a name replaces its handler.
func (r *Registry) Register(schema ToolSchema, handler Handler) error {
	if schema.Name == "" {
		return fmt.Errorf("tool schema missing name")
	}
	if handler == nil {
		return fmt.Errorf("tool %s: nil handler", schema.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[schema.Name]; !exists {
		r.order = append(r.order, schema.Name)
	}
	r.tools[schema.Name] = registration{schema: schema, handler: handler}
	return nil
}

// Get returns a tool's schema and handler.
func (r *Registry) Get(name string) (ToolSchema, Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return ToolSchema{}, nil, fmt.Errorf("tool not found: %s", name)
	}
	return reg.schema, reg.handler, nil
}

// Declarations returns the tool declarations for the model, in
// registration order.
func (r *Registry) Declarations() []llm.ToolDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDeclaration, 0, len(r.order))
	for _, name := range r.order {
		s := r.tools[name].schema
		defs = append(defs, llm.ToolDeclaration{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.Parameters,
		})
	}
	return defs
}
