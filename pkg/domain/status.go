package domain

// Status is the shared status alphabet for both Session and Kernel.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusScheduled   Status = "SCHEDULED"
	StatusPreparing   Status = "PREPARING"
	StatusPulling     Status = "PULLING"
	StatusPrepared    Status = "PREPARED"
	StatusCreating    Status = "CREATING"
	StatusRunning     Status = "RUNNING"
	StatusTerminating Status = "TERMINATING"
	StatusTerminated  Status = "TERMINATED"
	StatusCancelled   Status = "CANCELLED"
	StatusError       Status = "ERROR"
)

// statusOrder gives the total order used by the minimum-status aggregation
// rule in §4.3; only the non-terminal, non-error statuses participate.
var statusOrder = map[Status]int{
	StatusPending:   0,
	StatusScheduled: 1,
	StatusPreparing: 2,
	StatusPulling:   3,
	StatusPrepared:  4,
	StatusCreating:  5,
	StatusRunning:   6,
}

// Before reports whether s sorts before other in the aggregation order.
// Only meaningful for the seven non-terminal statuses.
func (s Status) Before(other Status) bool {
	return statusOrder[s] < statusOrder[other]
}

// transitionTable enumerates the legal status transitions from §4.3.
var transitionTable = map[Status]map[Status]bool{
	StatusPending: {
		StatusScheduled: true,
		StatusCancelled: true,
	},
	StatusScheduled: {
		StatusPreparing: true,
		StatusPulling:   true,
		StatusCancelled: true,
		StatusError:     true,
	},
	StatusPreparing: {
		StatusPulling:   true,
		StatusPrepared:  true,
		StatusCancelled: true,
		StatusError:     true,
	},
	StatusPulling: {
		StatusPrepared:  true,
		StatusCancelled: true,
		StatusError:     true,
	},
	StatusPrepared: {
		StatusCreating:  true,
		StatusCancelled: true,
		StatusError:     true,
	},
	StatusCreating: {
		StatusRunning:     true,
		StatusTerminating: true,
		StatusError:       true,
	},
	StatusRunning: {
		StatusTerminating: true,
		StatusError:       true,
	},
	StatusTerminating: {
		StatusTerminated: true,
		StatusError:      true,
	},
	StatusTerminated: {},
	StatusCancelled:  {},
	StatusError: {
		StatusTerminating: true,
		StatusTerminated:  true,
	},
}

// CanTransition reports whether moving from `from` to `to` is legal per the
// §4.3 transition table.
func CanTransition(from, to Status) bool {
	next, ok := transitionTable[from]
	if !ok {
		return false
	}
	return next[to]
}

// IsTerminal reports whether status has no further legal transitions.
func IsTerminal(s Status) bool {
	return s == StatusTerminated || s == StatusCancelled
}

// Reason is a short fixed-enumeration string attached to a transition.
type Reason string

const (
	ReasonUserRequested   Reason = "USER_REQUESTED"
	ReasonForceTerminated Reason = "FORCE_TERMINATED"
	ReasonIdleTimeout     Reason = "IDLE_TIMEOUT"
	ReasonFailedToStart   Reason = "FAILED_TO_START"
	ReasonImagePullFailed Reason = "IMAGE_PULL_FAILED"
	ReasonKilledByEvent   Reason = "KILLED_BY_EVENT"
	ReasonTaskFinished    Reason = "TASK_FINISHED"
	ReasonTaskFailed      Reason = "TASK_FAILED"
	ReasonAgentTermination Reason = "AGENT_TERMINATION"
)
