package interfaces

import "context"

// Capability is a typed ability an agent can advertise.
type Capability uint8

const (
	CapAuthentication Capability = iota
	CapScanning
	CapExtraction
	CapMonitoring
)

func (c Capability) String() string {
	switch c {
	case CapAuthentication:
		return "authentication"
	case CapScanning:
		return "scanning"
	case CapExtraction:
		return "extraction"
	case CapMonitoring:
		return "monitoring"
	default:
		return "unknown"
	}
}

// CapabilitySet is a small bitset over Capability values.
type CapabilitySet uint16

func NewCapabilitySet(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s |= 1 << c
	}
	return s
}

// Contains reports whether every capability in sub is present in s.
func (s CapabilitySet) Contains(sub CapabilitySet) bool {
	return s&sub == sub
}

// AgentStatus is the availability state of a specialist agent.
type AgentStatus string

const (
	AgentActive  AgentStatus = "active"
	AgentBusy    AgentStatus = "busy"
	AgentOffline AgentStatus = "offline"
)

// Agent is a capability-matched specialist worker.
type Agent struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Tier         string        `json:"tier"`
	Capabilities CapabilitySet `json:"capabilities"`
	Status       AgentStatus   `json:"status"`
}

// AgentRegistry is the capability-registry collaborator. Selection policy
// is first active match; no load balancing is guaranteed.
type AgentRegistry interface {
	FindAgentsByCapability(ctx context.Context, caps CapabilitySet, tier string) ([]Agent, error)
	UpdateAgentStatus(ctx context.Context, agentID string, status AgentStatus) error
}
