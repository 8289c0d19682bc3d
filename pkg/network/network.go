// Package network creates and tears down the per-session networks spec §4.4
// calls for: an agent-local bridge for a SINGLE_NODE, cluster_size>1
// session, or an overlay network spanning multiple agents for a
// MULTI_NODE session, selected by the session's cluster mode and size
// alone (no scaling-group network driver is consulted, and Record.Driver
// is left empty). The teacher's iptables-level host-port
// forwarding is the node-local mechanics an agent applies once a kernel is
// placed; this package only decides which network a session gets and
// records its lifetime, the manager-side half of that decision.
package network

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/backendai/manager/pkg/agentrpc"
	"github.com/backendai/manager/pkg/domain"
)

// Kind distinguishes the two network types spec §4.4 describes.
type Kind string

const (
	KindLocal   Kind = "local"
	KindOverlay Kind = "overlay"
)

// Record is the manager's bookkeeping for one session's network.
type Record struct {
	SessionID string
	Kind      Kind
	NetworkID string
	AgentID   string // only set for KindLocal
	Driver    string
}

// OverlayPlugin is the configured network plugin for MULTI_NODE sessions.
// The concrete overlay technology (vxlan, a CNI plugin, a cloud VPC peering
// call) is out of this module's scope per spec §1; this interface is the
// seam a real plugin would implement. defaultOverlayPlugin, used when
// NewManager is given nil, satisfies it with a manager-side id allocation
// only; the id is recorded here and is not sent to any agent.
type OverlayPlugin interface {
	Create(ctx context.Context, sessionID string) (networkID string, err error)
	Destroy(ctx context.Context, sessionID, networkID string) error
}

// defaultOverlayPlugin allocates a random overlay network id and performs
// no external provisioning; real deployments inject a driver-specific
// OverlayPlugin (e.g. one that calls a CNI daemon) at Manager construction.
type defaultOverlayPlugin struct{}

func (defaultOverlayPlugin) Create(_ context.Context, sessionID string) (string, error) {
	return "ovl-" + uuid.NewString(), nil
}

func (defaultOverlayPlugin) Destroy(_ context.Context, _, _ string) error { return nil }

// Manager creates and destroys per-session networks and tracks which one
// belongs to which session so SessionTerminated can tear it down.
type Manager struct {
	pool    *agentrpc.Pool
	overlay OverlayPlugin

	mu       sync.Mutex
	sessions map[string]Record
}

// NewManager builds a Manager that dials local networks through pool and
// overlay networks through overlay (nil selects the default no-op plugin).
func NewManager(pool *agentrpc.Pool, overlay OverlayPlugin) *Manager {
	if overlay == nil {
		overlay = defaultOverlayPlugin{}
	}
	return &Manager{pool: pool, overlay: overlay, sessions: make(map[string]Record)}
}

// CreateForSession provisions the network a session needs, per its cluster
// mode: SINGLE_NODE with cluster_size>1 gets an agent-local bridge on the
// chosen agent; MULTI_NODE gets an overlay network via the configured
// plugin. SINGLE_NODE with cluster_size==1 needs no network and returns a
// zero Record.
func (m *Manager) CreateForSession(ctx context.Context, sess *domain.Session, agentID string) (Record, error) {
	switch {
	case sess.ClusterMode == domain.ClusterModeSingleNode && sess.ClusterSize > 1:
		return m.createLocal(ctx, sess.ID, agentID)
	case sess.ClusterMode == domain.ClusterModeMultiNode:
		return m.createOverlay(ctx, sess.ID)
	default:
		return Record{}, nil
	}
}

func (m *Manager) createLocal(ctx context.Context, sessionID, agentID string) (Record, error) {
	name := "local-" + sessionID
	rpcCtx := m.pool.Invoke(agentID, sessionID, 0)
	if err := rpcCtx.CreateLocalNetwork(ctx, agentrpc.CreateLocalNetworkRequest{Name: name}); err != nil {
		return Record{}, fmt.Errorf("network: create local network for session %s: %w", sessionID, err)
	}
	rec := Record{SessionID: sessionID, Kind: KindLocal, NetworkID: name, AgentID: agentID}
	m.track(rec)
	return rec, nil
}

func (m *Manager) createOverlay(ctx context.Context, sessionID string) (Record, error) {
	id, err := m.overlay.Create(ctx, sessionID)
	if err != nil {
		return Record{}, fmt.Errorf("network: create overlay network for session %s: %w", sessionID, err)
	}
	rec := Record{SessionID: sessionID, Kind: KindOverlay, NetworkID: id}
	m.track(rec)
	return rec, nil
}

func (m *Manager) track(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[rec.SessionID] = rec
}

// DestroySession tears down a session's tracked network, if any. Called by
// the SessionTerminated handler (spec §4.6: "Tear down any volatile
// per-session network"). A session with no tracked network (SINGLE_NODE,
// cluster_size==1) is a no-op.
func (m *Manager) DestroySession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	rec, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	switch rec.Kind {
	case KindLocal:
		rpcCtx := m.pool.Invoke(rec.AgentID, sessionID, 0)
		if err := rpcCtx.DestroyLocalNetwork(ctx, agentrpc.DestroyLocalNetworkRequest{Name: rec.NetworkID}); err != nil {
			return fmt.Errorf("network: destroy local network for session %s: %w", sessionID, err)
		}
	case KindOverlay:
		if err := m.overlay.Destroy(ctx, sessionID, rec.NetworkID); err != nil {
			return fmt.Errorf("network: destroy overlay network for session %s: %w", sessionID, err)
		}
	}
	return nil
}

// Lookup returns the tracked network record for a session, if any.
func (m *Manager) Lookup(sessionID string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	return rec, ok
}
