package events

func init() {
	register("session_enqueued", func(f [][]byte) (Event, error) { return &SessionEnqueued{SessionID: string(field(f, 0)), CreationID: string(field(f, 1))}, nil })
	register("session_started", func(f [][]byte) (Event, error) { return &SessionStarted{SessionID: string(field(f, 0)), CreationID: string(field(f, 1))}, nil })
	register("session_terminating", func(f [][]byte) (Event, error) { return &SessionTerminating{SessionID: string(field(f, 0)), Reason: string(field(f, 1))}, nil })
	register("session_terminated", func(f [][]byte) (Event, error) { return &SessionTerminated{SessionID: string(field(f, 0)), Reason: string(field(f, 1))}, nil })
	register("session_cancelled", func(f [][]byte) (Event, error) { return &SessionCancelled{SessionID: string(field(f, 0)), CreationID: string(field(f, 1)), Reason: string(field(f, 2))}, nil })
	register("do_terminate_session", func(f [][]byte) (Event, error) { return &DoTerminateSession{SessionID: string(field(f, 0)), Reason: string(field(f, 1))}, nil })
}

// SessionEnqueued is published right after enqueue_session commits.
type SessionEnqueued struct {
	SessionID  string
	CreationID string
}

func (e *SessionEnqueued) Name() string { return "session_enqueued" }
func (e *SessionEnqueued) Serialize() [][]byte {
	return [][]byte{[]byte(e.SessionID), []byte(e.CreationID)}
}

// SessionStarted is published when aggregation first lands the session on
// RUNNING; it signals the create_session waiter via the creation tracker.
type SessionStarted struct {
	SessionID  string
	CreationID string
}

func (e *SessionStarted) Name() string { return "session_started" }
func (e *SessionStarted) Serialize() [][]byte {
	return [][]byte{[]byte(e.SessionID), []byte(e.CreationID)}
}

// SessionTerminating is published when destroy_session begins tearing a
// running session down.
type SessionTerminating struct {
	SessionID string
	Reason    string
}

func (e *SessionTerminating) Name() string { return "session_terminating" }
func (e *SessionTerminating) Serialize() [][]byte {
	return [][]byte{[]byte(e.SessionID), []byte(e.Reason)}
}

// SessionTerminated is published once aggregation lands the session on
// TERMINATED; handlers tear down any per-session network here.
type SessionTerminated struct {
	SessionID string
	Reason    string
}

func (e *SessionTerminated) Name() string { return "session_terminated" }
func (e *SessionTerminated) Serialize() [][]byte {
	return [][]byte{[]byte(e.SessionID), []byte(e.Reason)}
}

// SessionCancelled is published when a PENDING session is cancelled before
// ever scheduling; it also signals the create_session waiter.
type SessionCancelled struct {
	SessionID  string
	CreationID string
	Reason     string
}

func (e *SessionCancelled) Name() string { return "session_cancelled" }
func (e *SessionCancelled) Serialize() [][]byte {
	return [][]byte{[]byte(e.SessionID), []byte(e.CreationID), []byte(e.Reason)}
}

// DoTerminateSession is a command-style event: on receipt, handlers invoke
// destroy_session with reason KILLED_BY_EVENT.
type DoTerminateSession struct {
	SessionID string
	Reason    string
}

func (e *DoTerminateSession) Name() string { return "do_terminate_session" }
func (e *DoTerminateSession) Serialize() [][]byte {
	return [][]byte{[]byte(e.SessionID), []byte(e.Reason)}
}
