package agents

import (
	"context"
	"errors"
	"sync"

	"github.com/opphound/opphound/internal/interfaces"
	"github.com/opphound/opphound/internal/logging"
)

// ErrAgentNotFound is returned by UpdateAgentStatus for unknown agent ids.
var ErrAgentNotFound = errors.New("agent not found")

var _ interfaces.AgentRegistry = (*Registry)(nil)

// Registry is an in-memory agent registry. Registration order is
// preserved, which makes the first-active-match selection deterministic.
type Registry struct {
	logger logging.Logger

	mu     sync.RWMutex
	agents []interfaces.Agent
	byID   map[string]int
}

func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		logger: logger,
		byID:   make(map[string]int),
	}
}

// Register adds or replaces an agent. Replacement keeps the original
// registration position.
func (r *Registry) Register(agent interfaces.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i, ok := r.byID[agent.ID]; ok {
		r.agents[i] = agent
		return
	}
	r.byID[agent.ID] = len(r.agents)
	r.agents = append(r.agents, agent)

	if r.logger != nil {
		r.logger.Debug("agent registered",
			logging.Field{Key: "agent_id", Value: agent.ID},
			logging.Field{Key: "tier", Value: agent.Tier})
	}
}

// FindAgentsByCapability returns agents covering every requested
// capability, in registration order. A non-empty tier restricts matches to
// that tier. Offline agents are never returned.
func (r *Registry) FindAgentsByCapability(ctx context.Context, caps interfaces.CapabilitySet, tier string) ([]interfaces.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []interfaces.Agent
	for _, a := range r.agents {
		if a.Status == interfaces.AgentOffline {
			continue
		}
		if !a.Capabilities.Contains(caps) {
			continue
		}
		if tier != "" && a.Tier != tier {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// UpdateAgentStatus transitions one agent's availability.
func (r *Registry) UpdateAgentStatus(ctx context.Context, agentID string, status interfaces.AgentStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.byID[agentID]
	if !ok {
		return ErrAgentNotFound
	}
	r.agents[i].Status = status
	return nil
}

// Snapshot returns a copy of every registered agent.
func (r *Registry) Snapshot() []interfaces.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]interfaces.Agent(nil), r.agents...)
}

// DefaultAgents is the built-in specialist roster: one agent per pipeline
// stage plus a generalist that can cover any stage.
func DefaultAgents() []interfaces.Agent {
	return []interfaces.Agent{
		{
			ID:           "auth-specialist-1",
			Name:         "Portal Authentication Specialist",
			Tier:         "specialist",
			Capabilities: interfaces.NewCapabilitySet(interfaces.CapAuthentication),
			Status:       interfaces.AgentActive,
		},
		{
			ID:           "scan-specialist-1",
			Name:         "Portal Scanning Specialist",
			Tier:         "specialist",
			Capabilities: interfaces.NewCapabilitySet(interfaces.CapScanning),
			Status:       interfaces.AgentActive,
		},
		{
			ID:           "extract-specialist-1",
			Name:         "Opportunity Extraction Specialist",
			Tier:         "specialist",
			Capabilities: interfaces.NewCapabilitySet(interfaces.CapExtraction),
			Status:       interfaces.AgentActive,
		},
		{
			ID:           "monitor-specialist-1",
			Name:         "Portal Monitoring Specialist",
			Tier:         "specialist",
			Capabilities: interfaces.NewCapabilitySet(interfaces.CapMonitoring),
			Status:       interfaces.AgentActive,
		},
		{
			ID:   "generalist-1",
			Name: "Portal Generalist",
			Tier: "generalist",
			Capabilities: interfaces.NewCapabilitySet(
				interfaces.CapAuthentication,
				interfaces.CapScanning,
				interfaces.CapExtraction,
				interfaces.CapMonitoring,
			),
			Status: interfaces.AgentActive,
		},
	}
}

// NewDefaultRegistry builds a registry preloaded with DefaultAgents.
func NewDefaultRegistry(logger logging.Logger) *Registry {
	r := NewRegistry(logger)
	for _, a := range DefaultAgents() {
		r.Register(a)
	}
	return r
}
