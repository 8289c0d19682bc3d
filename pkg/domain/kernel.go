package domain

import "time"

// ClusterRole distinguishes the single coordinating kernel of a session
// ("main") from the rest ("sub"). Exactly one main kernel exists per
// session; this is enforced by a partial unique index at the storage layer,
// not in this package.
type ClusterRole string

const (
	ClusterRoleMain ClusterRole = "main"
	ClusterRoleSub  ClusterRole = "sub"
)

// ServicePort describes a port exposed by a running kernel container.
type ServicePort struct {
	Name           string
	Protocol       string
	ContainerPort  int
	HostPort       int
	IsInternal     bool
}

// Kernel is one container-level unit of a Session. A single-node session
// has exactly one Kernel; a multi-node session has one main Kernel plus one
// sub Kernel per additional node.
type Kernel struct {
	ID             string
	SessionID      string
	ClusterRole    ClusterRole
	ClusterIdx     int
	AgentID        *string
	Image          ImageRef
	RequestedSlots ResourceSlot
	OccupiedSlots  ResourceSlot
	Status         Status
	StatusHistory  map[Status]time.Time
	StatusReason   Reason
	ExitCode       *int
	ServicePorts   []ServicePort
	ContainerID    string
	StartupCommand string
	BootstrapScript string
	PreopenPorts   []int
	Logs           string
	CreatedAt      time.Time
	TerminatedAt   *time.Time

	// StatusErrorRepr carries status_data.error.repr for a kernel driven
	// into CANCELLED/ERROR by a failure it didn't cause itself (e.g. the
	// image-pull failure detail on ImagePullFailed), per spec §8's seed
	// scenario 2.
	StatusErrorRepr string
}

// RecordStatus appends a timestamped entry for status into StatusHistory,
// lazily allocating the map. Callers are responsible for checking
// CanTransition before calling this.
func (k *Kernel) RecordStatus(status Status, reason Reason, at time.Time) {
	if k.StatusHistory == nil {
		k.StatusHistory = make(map[Status]time.Time)
	}
	k.Status = status
	k.StatusReason = reason
	k.StatusHistory[status] = at
	if IsTerminal(status) {
		t := at
		k.TerminatedAt = &t
	}
}

// IsMain reports whether this kernel is the session's main kernel.
func (k *Kernel) IsMain() bool {
	return k.ClusterRole == ClusterRoleMain
}
