// Package capability manages the per-agent operation scope. Capabilities
// share the tool contract; the registry adds framework filters, attachment
// by agent id, and usage accounting on top of a tools.Registry.
package capability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/icotes/agenthub/internal/tools"
	"github.com/icotes/agenthub/pkg/protocol"
)

// Descriptor is a registered capability: a tool plus attachment rules.
type Descriptor struct {
	Tool               tools.Tool
	Category           string
	RequiredFrameworks []string // empty means any framework
}

func (d Descriptor) supports(framework string) bool {
	if len(d.RequiredFrameworks) == 0 {
		return true
	}
	for _, f := range d.RequiredFrameworks {
		if f == framework {
			return true
		}
	}
	return false
}

// Instance is one attachment of a capability to an agent.
type Instance struct {
	AgentID  string                 `json:"agent_id"`
	Name     string                 `json:"name"`
	Category string                 `json:"category"`
	Config   map[string]interface{} `json:"config,omitempty"`
	UseCount int                    `json:"use_count"`
	LastUsed time.Time              `json:"last_used,omitempty"`
}

// Info describes a capability for listings.
type Info struct {
	Name               string                 `json:"name"`
	Category           string                 `json:"category"`
	Description        string                 `json:"description"`
	Parameters         map[string]interface{} `json:"parameters"`
	RequiredFrameworks []string               `json:"required_frameworks,omitempty"`
}

// Registry holds capability descriptors and per-agent attachments.
// Validation and dispatch go through an embedded tools.Registry so
// capabilities and tools share one invocation path.
type Registry struct {
	inner *tools.Registry

	mu          sync.RWMutex
	descriptors map[string]Descriptor
	attached    map[string]map[string]*Instance // agent id -> name -> instance
}

func NewRegistry() *Registry {
	return &Registry{
		inner:       tools.NewRegistry(),
		descriptors: make(map[string]Descriptor),
		attached:    make(map[string]map[string]*Instance),
	}
}

// Register adds a capability. Re-registration replaces the descriptor but
// leaves existing attachments in place.
func (r *Registry) Register(t tools.Tool, category string, requiredFrameworks ...string) error {
	if err := r.inner.Register(t); err != nil {
		return fmt.Errorf("register capability: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors[t.Name()] = Descriptor{
		Tool:               t,
		Category:           category,
		RequiredFrameworks: requiredFrameworks,
	}
	return nil
}

// List returns capabilities available to the given framework, sorted by
// name. An empty framework lists everything.
func (r *Registry) List(framework string) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.descriptors))
	for name, d := range r.descriptors {
		if framework != "" && !d.supports(framework) {
			continue
		}
		out = append(out, Info{
			Name:               name,
			Category:           d.Category,
			Description:        d.Tool.Description(),
			Parameters:         d.Tool.Parameters(),
			RequiredFrameworks: d.RequiredFrameworks,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Attach binds a capability to an agent. A capability name appears at most
// once per agent.
func (r *Registry) Attach(agentID, framework, name string, config map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descriptors[name]
	if !ok {
		return fmt.Errorf("unknown capability %q", name)
	}
	if !d.supports(framework) {
		return fmt.Errorf("capability %q does not support framework %q", name, framework)
	}
	if r.attached[agentID] == nil {
		r.attached[agentID] = make(map[string]*Instance)
	}
	if _, dup := r.attached[agentID][name]; dup {
		return fmt.Errorf("capability %q already attached to agent %s", name, agentID)
	}
	r.attached[agentID][name] = &Instance{
		AgentID:  agentID,
		Name:     name,
		Category: d.Category,
		Config:   config,
	}
	return nil
}

// Detach removes a capability from an agent.
func (r *Registry) Detach(agentID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.attached[agentID][name]; !ok {
		return fmt.Errorf("capability %q not attached to agent %s", name, agentID)
	}
	delete(r.attached[agentID], name)
	return nil
}

// Has reports whether the agent holds the named capability.
func (r *Registry) Has(agentID, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.attached[agentID][name]
	return ok
}

// Attached returns the agent's capability instances, sorted by name.
func (r *Registry) Attached(agentID string) []Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Instance, 0, len(r.attached[agentID]))
	for _, inst := range r.attached[agentID] {
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DetachAll removes every capability from an agent, e.g. on destroy.
func (r *Registry) DetachAll(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attached, agentID)
}

// Execute dispatches an attached capability for an agent. Arguments are
// schema-validated; usage counters update only on dispatch.
func (r *Registry) Execute(ctx context.Context, agentID, name string, params map[string]interface{}) *tools.Result {
	r.mu.Lock()
	inst, ok := r.attached[agentID][name]
	if !ok {
		r.mu.Unlock()
		return tools.Fail(protocol.ErrNotFound, "capability %q not attached to agent %s", name, agentID)
	}
	inst.UseCount++
	inst.LastUsed = time.Now()
	r.mu.Unlock()

	return r.inner.Invoke(ctx, name, params)
}
