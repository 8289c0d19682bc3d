// Package leaderelect elects, among the manager worker processes sharing a
// scaling group, the single process that drives the scheduler ticker. It
// carries no session or kernel state of its own —
// that lives in PostgreSQL — the raft log here only ever replicates no-ops,
// existing purely so the cluster agrees on one leader.
package leaderelect

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Config controls one node's participation in the election group.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Elector wraps a raft.Raft instance reduced to its leader-election role.
type Elector struct {
	nodeID string
	raft   *raft.Raft
	logDB  *raftboltdb.BoltStore
	stable *raftboltdb.BoltStore
}

// Bootstrap starts a new single-node election group that other nodes can
// later Join. Timeouts are tuned for fast failover between manager
// processes on the same local network, not for a wide-area cluster.
func Bootstrap(cfg Config) (*Elector, error) {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(cfg.NodeID)
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("leaderelect: resolve bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("leaderelect: new transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("leaderelect: new snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("leaderelect: new log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("leaderelect: new stable store: %w", err)
	}

	r, err := raft.NewRaft(config, noopFSM{}, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("leaderelect: new raft: %w", err)
	}

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: config.LocalID, Address: transport.LocalAddr()},
		},
	}
	future := r.BootstrapCluster(configuration)
	if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
		return nil, fmt.Errorf("leaderelect: bootstrap cluster: %w", err)
	}

	return &Elector{nodeID: cfg.NodeID, raft: r, logDB: logStore, stable: stableStore}, nil
}

// Join starts this node's raft instance without bootstrapping a new
// cluster, so that an existing leader can add it as a voter (via AddVoter
// on that node). Join does not contact the leader; the caller is
// responsible for that, and this function only prepares the local raft
// instance to accept the call.
func Join(cfg Config) (*Elector, error) {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(cfg.NodeID)
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("leaderelect: resolve bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("leaderelect: new transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("leaderelect: new snapshot store: %w", err)
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("leaderelect: new log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("leaderelect: new stable store: %w", err)
	}

	r, err := raft.NewRaft(config, noopFSM{}, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("leaderelect: new raft: %w", err)
	}

	return &Elector{nodeID: cfg.NodeID, raft: r, logDB: logStore, stable: stableStore}, nil
}

// AddVoter is called on the current leader to admit nodeID/addr as a
// voting member. Safe to call repeatedly; raft no-ops if already a member.
func (e *Elector) AddVoter(nodeID, addr string, timeout time.Duration) error {
	future := e.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, timeout)
	return future.Error()
}

// RemoveServer evicts a node from the election group, e.g. after it has
// been marked LOST for longer than the agent's grace period.
func (e *Elector) RemoveServer(nodeID string, timeout time.Duration) error {
	future := e.raft.RemoveServer(raft.ServerID(nodeID), 0, timeout)
	return future.Error()
}

// IsLeader reports whether this node currently holds leadership. Callers
// gate the scheduler ticker on this so exactly one manager process drives
// it at a time.
func (e *Elector) IsLeader() bool {
	return e.raft.State() == raft.Leader
}

// LeaderAddr returns the currently known leader's transport address, or
// "" if none is known yet (e.g. mid-election).
func (e *Elector) LeaderAddr() string {
	return string(e.raft.Leader())
}

// Servers returns the current voter configuration of the election group.
func (e *Elector) Servers() ([]raft.Server, error) {
	future := e.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, err
	}
	return future.Configuration().Servers, nil
}

// Shutdown gracefully leaves the election group and releases local state.
func (e *Elector) Shutdown() error {
	if err := e.raft.Shutdown().Error(); err != nil {
		return err
	}
	if err := e.logDB.Close(); err != nil {
		return err
	}
	return e.stable.Close()
}
