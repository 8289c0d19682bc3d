package leaderelect

import (
	"io"

	"github.com/hashicorp/raft"
)

// noopFSM satisfies raft.FSM without carrying any replicated state: this
// raft group exists only to elect a leader among manager worker processes,
// never to replicate session/kernel state (that lives in PostgreSQL).
type noopFSM struct{}

func (noopFSM) Apply(*raft.Log) interface{} { return nil }

func (noopFSM) Snapshot() (raft.FSMSnapshot, error) {
	return noopSnapshot{}, nil
}

func (noopFSM) Restore(rc io.ReadCloser) error {
	return rc.Close()
}

type noopSnapshot struct{}

func (noopSnapshot) Persist(sink raft.SnapshotSink) error {
	return sink.Close()
}

func (noopSnapshot) Release() {}
