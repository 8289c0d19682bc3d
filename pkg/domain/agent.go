package domain

import "time"

// AgentStatus is the lifecycle status of an Agent.
type AgentStatus string

const (
	AgentAlive       AgentStatus = "ALIVE"
	AgentLost        AgentStatus = "LOST"
	AgentRestarting  AgentStatus = "RESTARTING"
	AgentTerminated  AgentStatus = "TERMINATED"
)

// Agent is a node that hosts Kernels. Agent does not own its Kernels — it
// hosts them; removing an Agent marks its Kernels TERMINATED with reason
// AGENT_TERMINATION instead of cascading a delete.
type Agent struct {
	ID             string
	Address        string
	PublicKey      []byte
	ScalingGroup   string
	Status         AgentStatus
	AvailableSlots ResourceSlot
	OccupiedSlots  ResourceSlot
	Architecture   string
	Version        string
	LastSeen       time.Time
	LostAt         *time.Time
	CreatedAt      time.Time
}

// FreeSlots returns AvailableSlots - OccupiedSlots.
func (a *Agent) FreeSlots() ResourceSlot {
	return a.AvailableSlots.Sub(a.OccupiedSlots)
}

// CanFit reports whether the agent has enough free capacity for requested.
func (a *Agent) CanFit(requested ResourceSlot) bool {
	if a.Status != AgentAlive {
		return false
	}
	return requested.LessEqual(a.FreeSlots())
}
