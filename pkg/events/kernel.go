package events

func init() {
	register("kernel_preparing", func(f [][]byte) (Event, error) { return &KernelPreparing{KernelID: string(field(f, 0)), SessionID: string(field(f, 1))}, nil })
	register("kernel_pulling", func(f [][]byte) (Event, error) { return &KernelPulling{KernelID: string(field(f, 0)), SessionID: string(field(f, 1)), Image: string(field(f, 2))}, nil })
	register("kernel_creating", func(f [][]byte) (Event, error) { return &KernelCreating{KernelID: string(field(f, 0)), SessionID: string(field(f, 1))}, nil })
	register("kernel_started", func(f [][]byte) (Event, error) { return &KernelStarted{KernelID: string(field(f, 0)), SessionID: string(field(f, 1))}, nil })
	register("kernel_cancelled", func(f [][]byte) (Event, error) { return &KernelCancelled{KernelID: string(field(f, 0)), SessionID: string(field(f, 1)), Reason: string(field(f, 2))}, nil })
	register("kernel_terminating", func(f [][]byte) (Event, error) { return &KernelTerminating{KernelID: string(field(f, 0)), SessionID: string(field(f, 1)), Reason: string(field(f, 2))}, nil })
	register("kernel_terminated", func(f [][]byte) (Event, error) { return &KernelTerminated{KernelID: string(field(f, 0)), SessionID: string(field(f, 1)), Reason: string(field(f, 2))}, nil })
}

// KernelPreparing is published when a kernel is assigned an agent but
// hasn't started any image work yet.
type KernelPreparing struct {
	KernelID  string
	SessionID string
}

func (e *KernelPreparing) Name() string { return "kernel_preparing" }
func (e *KernelPreparing) Serialize() [][]byte {
	return [][]byte{[]byte(e.KernelID), []byte(e.SessionID)}
}

// KernelPulling is published on the first ImagePullStarted event observed
// for a kernel's agent+image pair.
type KernelPulling struct {
	KernelID  string
	SessionID string
	Image     string
}

func (e *KernelPulling) Name() string { return "kernel_pulling" }
func (e *KernelPulling) Serialize() [][]byte {
	return [][]byte{[]byte(e.KernelID), []byte(e.SessionID), []byte(e.Image)}
}

// KernelCreating is published once the per-agent create_kernels RPC has
// been issued for this kernel's agent.
type KernelCreating struct {
	KernelID  string
	SessionID string
}

func (e *KernelCreating) Name() string { return "kernel_creating" }
func (e *KernelCreating) Serialize() [][]byte {
	return [][]byte{[]byte(e.KernelID), []byte(e.SessionID)}
}

// KernelStarted is published once create_kernels succeeds for this kernel.
type KernelStarted struct {
	KernelID  string
	SessionID string
}

func (e *KernelStarted) Name() string { return "kernel_started" }
func (e *KernelStarted) Serialize() [][]byte {
	return [][]byte{[]byte(e.KernelID), []byte(e.SessionID)}
}

// KernelCancelled is published when a kernel is cancelled before it ever ran.
type KernelCancelled struct {
	KernelID  string
	SessionID string
	Reason    string
}

func (e *KernelCancelled) Name() string { return "kernel_cancelled" }
func (e *KernelCancelled) Serialize() [][]byte {
	return [][]byte{[]byte(e.KernelID), []byte(e.SessionID), []byte(e.Reason)}
}

// KernelTerminating is published when a destroy has been requested for a
// running kernel but the agent hasn't confirmed yet.
type KernelTerminating struct {
	KernelID  string
	SessionID string
	Reason    string
}

func (e *KernelTerminating) Name() string { return "kernel_terminating" }
func (e *KernelTerminating) Serialize() [][]byte {
	return [][]byte{[]byte(e.KernelID), []byte(e.SessionID), []byte(e.Reason)}
}

// KernelTerminated is published once the agent confirms the kernel's
// container has exited or been removed.
type KernelTerminated struct {
	KernelID  string
	SessionID string
	Reason    string
}

func (e *KernelTerminated) Name() string { return "kernel_terminated" }
func (e *KernelTerminated) Serialize() [][]byte {
	return [][]byte{[]byte(e.KernelID), []byte(e.SessionID), []byte(e.Reason)}
}
