package domain

import "time"

// SessionType distinguishes interactive, batch, and inference sessions; it
// governs idle-timeout and restart semantics elsewhere in the system.
type SessionType string

const (
	SessionTypeInteractive SessionType = "interactive"
	SessionTypeBatch       SessionType = "batch"
	SessionTypeInference   SessionType = "inference"
)

// ClusterMode selects whether a session's kernels are scheduled onto a
// single agent or spread across multiple agents.
type ClusterMode string

const (
	ClusterModeSingleNode ClusterMode = "single-node"
	ClusterModeMultiNode  ClusterMode = "multi-node"
)

// VFolderMount is a single virtual folder attachment requested for a
// session's kernels.
type VFolderMount struct {
	VFolderID string
	MountPath string
	ReadOnly  bool
}

// Session is the top-level scheduling and lifecycle unit: a group of one or
// more Kernels sharing a status, a resource request, and a lifetime. Session
// status is derived from its Kernels' statuses by AggregateStatus.
type Session struct {
	ID             string
	Name           string
	AccessKey      string
	Domain         string
	Project        string
	ScalingGroup   string
	Type           SessionType
	ClusterMode    ClusterMode
	ClusterSize    int
	Priority       int
	Status         Status
	StatusHistory  map[Status]time.Time
	StatusReason   Reason
	StatusInfo     string
	Images         []ImageRef
	VFolderMounts  []VFolderMount
	Environ        map[string]string
	RequestedSlots ResourceSlot
	OccupiedSlots  ResourceSlot
	StartsAt       *time.Time
	BatchTimeout   *time.Duration
	CallbackURL    string
	NetworkType    string
	NetworkID      string
	CreatedAt      time.Time
	TerminatedAt   *time.Time
}

// RecordStatus appends a timestamped entry for status into StatusHistory,
// lazily allocating the map.
func (s *Session) RecordStatus(status Status, reason Reason, at time.Time) {
	if s.StatusHistory == nil {
		s.StatusHistory = make(map[Status]time.Time)
	}
	s.Status = status
	s.StatusReason = reason
	s.StatusHistory[status] = at
	if IsTerminal(status) {
		t := at
		s.TerminatedAt = &t
	}
}

// AggregateStatus computes the session-level status from its kernel
// statuses per the §4.3 rule, applied in order: any ERROR wins; else all
// TERMINATED; else all CANCELLED; else any TERMINATING; else the minimum
// of the non-terminal statuses in the §4.3 aggregation order.
func AggregateStatus(kernelStatuses []Status) Status {
	if len(kernelStatuses) == 0 {
		return StatusPending
	}
	for _, st := range kernelStatuses {
		if st == StatusError {
			return StatusError
		}
	}
	allTerminated, allCancelled, anyTerminating := true, true, false
	for _, st := range kernelStatuses {
		if st != StatusTerminated {
			allTerminated = false
		}
		if st != StatusCancelled {
			allCancelled = false
		}
		if st == StatusTerminating {
			anyTerminating = true
		}
	}
	switch {
	case allTerminated:
		return StatusTerminated
	case allCancelled:
		return StatusCancelled
	case anyTerminating:
		return StatusTerminating
	}
	var min Status
	haveMin := false
	for _, st := range kernelStatuses {
		if IsTerminal(st) {
			continue
		}
		if !haveMin || st.Before(min) {
			min = st
			haveMin = true
		}
	}
	if !haveMin {
		// Every kernel is TERMINATED/CANCELLED but mixed (not all of one
		// kind) — fall back to TERMINATED.
		return StatusTerminated
	}
	return min
}
