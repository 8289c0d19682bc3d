package network

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backendai/manager/pkg/agentcache"
	"github.com/backendai/manager/pkg/agentrpc"
	"github.com/backendai/manager/pkg/domain"
)

func TestCreateForSessionSingleNodeSingleKernelIsNoop(t *testing.T) {
	mgr := NewManager(agentrpc.NewPool(agentcache.New()), nil)
	sess := &domain.Session{ID: "s1", ClusterMode: domain.ClusterModeSingleNode, ClusterSize: 1}

	rec, err := mgr.CreateForSession(context.Background(), sess, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, Record{}, rec)

	_, ok := mgr.Lookup("s1")
	assert.False(t, ok)
}

func TestCreateForSessionSingleNodeMultiKernelUsesLocalNetwork(t *testing.T) {
	mgr := NewManager(agentrpc.NewPool(agentcache.New()), nil)
	sess := &domain.Session{ID: "s2", ClusterMode: domain.ClusterModeSingleNode, ClusterSize: 2}

	// No agent address is cached, so the agent RPC dial fails and the error
	// should propagate rather than being swallowed.
	_, err := mgr.CreateForSession(context.Background(), sess, "agent-missing")
	assert.Error(t, err)
}

func TestCreateForSessionMultiNodeUsesOverlayPlugin(t *testing.T) {
	mgr := NewManager(agentrpc.NewPool(agentcache.New()), nil)
	sess := &domain.Session{ID: "s3", ClusterMode: domain.ClusterModeMultiNode, ClusterSize: 4}

	rec, err := mgr.CreateForSession(context.Background(), sess, "")
	require.NoError(t, err)
	assert.Equal(t, KindOverlay, rec.Kind)
	assert.NotEmpty(t, rec.NetworkID)

	got, ok := mgr.Lookup("s3")
	require.True(t, ok)
	assert.Equal(t, rec, got)
}

func TestDestroySessionUnknownSessionIsNoop(t *testing.T) {
	mgr := NewManager(agentrpc.NewPool(agentcache.New()), nil)
	assert.NoError(t, mgr.DestroySession(context.Background(), "no-such-session"))
}

func TestDestroySessionOverlayDelegatesToPlugin(t *testing.T) {
	plugin := &fakeOverlayPlugin{}
	mgr := NewManager(agentrpc.NewPool(agentcache.New()), plugin)
	sess := &domain.Session{ID: "s4", ClusterMode: domain.ClusterModeMultiNode}

	rec, err := mgr.CreateForSession(context.Background(), sess, "")
	require.NoError(t, err)

	require.NoError(t, mgr.DestroySession(context.Background(), "s4"))
	assert.Equal(t, []string{rec.NetworkID}, plugin.destroyed)

	_, ok := mgr.Lookup("s4")
	assert.False(t, ok)
}

type fakeOverlayPlugin struct {
	destroyed []string
}

func (f *fakeOverlayPlugin) Create(_ context.Context, sessionID string) (string, error) {
	return "ovl-" + sessionID, nil
}

func (f *fakeOverlayPlugin) Destroy(_ context.Context, _, networkID string) error {
	f.destroyed = append(f.destroyed, networkID)
	return nil
}
