package events

func init() {
	register("agent_started", func(f [][]byte) (Event, error) { return &AgentStarted{AgentID: string(field(f, 0)), Reason: string(field(f, 1))}, nil })
	register("agent_terminated", func(f [][]byte) (Event, error) { return &AgentTerminated{AgentID: string(field(f, 0)), Reason: string(field(f, 1))}, nil })
	register("agent_heartbeat", func(f [][]byte) (Event, error) { return &AgentHeartbeat{AgentID: string(field(f, 0))}, nil })
	register("image_pull_started", func(f [][]byte) (Event, error) { return &ImagePullStarted{AgentID: string(field(f, 0)), Image: string(field(f, 1)), TaskID: string(field(f, 2))}, nil })
	register("image_pull_finished", func(f [][]byte) (Event, error) { return &ImagePullFinished{AgentID: string(field(f, 0)), Image: string(field(f, 1)), TaskID: string(field(f, 2))}, nil })
	register("image_pull_failed", func(f [][]byte) (Event, error) { return &ImagePullFailed{AgentID: string(field(f, 0)), Image: string(field(f, 1)), TaskID: string(field(f, 2)), Detail: string(field(f, 3))}, nil })
	register("route_created", func(f [][]byte) (Event, error) { return &RouteCreated{RouteID: string(field(f, 0)), EndpointID: string(field(f, 1))}, nil })
	register("do_sync_kernel_logs", func(f [][]byte) (Event, error) { return &DoSyncKernelLogs{KernelID: string(field(f, 0)), ContainerID: string(field(f, 1))}, nil })
}

// AgentStarted is published when an agent is (re)marked ALIVE, either on
// first heartbeat join or on rejoin from LOST/TERMINATED.
type AgentStarted struct {
	AgentID string
	Reason  string // "join" or "revived"
}

func (e *AgentStarted) Name() string { return "agent_started" }
func (e *AgentStarted) Serialize() [][]byte {
	return [][]byte{[]byte(e.AgentID), []byte(e.Reason)}
}

// AgentTerminated is published when an agent stops heartbeating or reports
// a clean shutdown; Reason selects the agent's new status: "agent-lost"
// gives LOST, "agent-restart" gives RESTARTING, anything else TERMINATED.
type AgentTerminated struct {
	AgentID string
	Reason  string
}

func (e *AgentTerminated) Name() string { return "agent_terminated" }
func (e *AgentTerminated) Serialize() [][]byte {
	return [][]byte{[]byte(e.AgentID), []byte(e.Reason)}
}

// AgentHeartbeat marks that an agent heartbeated; it carries only the
// agent id, not the agent's address, slots or image inventory.
type AgentHeartbeat struct {
	AgentID string
}

func (e *AgentHeartbeat) Name() string { return "agent_heartbeat" }
func (e *AgentHeartbeat) Serialize() [][]byte {
	return [][]byte{[]byte(e.AgentID)}
}

// ImagePullStarted is published by an agent when it begins pulling an
// image on behalf of a check_and_pull background task.
type ImagePullStarted struct {
	AgentID string
	Image   string
	TaskID  string
}

func (e *ImagePullStarted) Name() string { return "image_pull_started" }
func (e *ImagePullStarted) Serialize() [][]byte {
	return [][]byte{[]byte(e.AgentID), []byte(e.Image), []byte(e.TaskID)}
}

// ImagePullFinished is published once the pull completes successfully.
type ImagePullFinished struct {
	AgentID string
	Image   string
	TaskID  string
}

func (e *ImagePullFinished) Name() string { return "image_pull_finished" }
func (e *ImagePullFinished) Serialize() [][]byte {
	return [][]byte{[]byte(e.AgentID), []byte(e.Image), []byte(e.TaskID)}
}

// ImagePullFailed is published when the pull fails; Detail carries the
// agent-reported error text.
type ImagePullFailed struct {
	AgentID string
	Image   string
	TaskID  string
	Detail  string
}

func (e *ImagePullFailed) Name() string { return "image_pull_failed" }
func (e *ImagePullFailed) Serialize() [][]byte {
	return [][]byte{[]byte(e.AgentID), []byte(e.Image), []byte(e.TaskID), []byte(e.Detail)}
}

// RouteCreated is published when an inference Endpoint provisions a new
// Route and needs a backing session created for it.
type RouteCreated struct {
	RouteID    string
	EndpointID string
}

func (e *RouteCreated) Name() string { return "route_created" }
func (e *RouteCreated) Serialize() [][]byte {
	return [][]byte{[]byte(e.RouteID), []byte(e.EndpointID)}
}

// DoSyncKernelLogs is a command event requesting that buffered container
// log lines be drained from Redis and persisted onto the kernel row.
type DoSyncKernelLogs struct {
	KernelID    string
	ContainerID string
}

func (e *DoSyncKernelLogs) Name() string { return "do_sync_kernel_logs" }
func (e *DoSyncKernelLogs) Serialize() [][]byte {
	return [][]byte{[]byte(e.KernelID), []byte(e.ContainerID)}
}
