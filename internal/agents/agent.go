// Package agents defines the agent contract and the variants the execution
// engine dispatches plan steps to. Agents are looked up in a Registry by
// name; adding a variant means registering it, not changing the engine.
package agents

import (
	"context"
	"fmt"
	"sort"

	"github.com/lewisai/lewis/internal/models"
)

// Context carries everything an agent may consult for one step.
type Context struct {
	TaskID string
	Goal   string
	// Payload is the step-specific input from the orchestrator.
	Payload map[string]interface{}
	// PriorOutputs maps lowercased agent names to their earlier outputs.
	PriorOutputs map[string]interface{}
}

// Artifact describes a blob an agent produced.
type Artifact struct {
	URI         string `json:"uri"`
	Description string `json:"description"`
	MediaType   string `json:"media_type"`
}

// Response is the uniform result structure every agent returns. A response
// with Success=false is a step failure, not a transport error; the error
// return of Execute covers infrastructure faults only.
type Response struct {
	Success bool                   `json:"success"`
	Output  map[string]interface{} `json:"output,omitempty"`
	Message string                 `json:"message"`
	// NextSteps are replanning hints appended to the live plan.
	NextSteps []models.Step `json:"next_steps,omitempty"`
	Artifacts []Artifact    `json:"artifacts,omitempty"`
}

// Agent is the unit of work dispatch.
type Agent interface {
	Name() string
	Execute(ctx context.Context, ac Context) (*Response, error)
}

// Registry maps agent names to implementations.
type Registry struct {
	agents map[string]Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent under its own name, replacing any previous entry.
func (r *Registry) Register(a Agent) {
	r.agents[a.Name()] = a
}

// Get returns the named agent or an error listing what is available.
func (r *Registry) Get(name string) (Agent, error) {
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("no agent registered for %q", name)
	}
	return a, nil
}

// Names returns the registered agent names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
