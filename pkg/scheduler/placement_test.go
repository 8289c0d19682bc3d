package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backendai/manager/pkg/domain"
)

func agent(id string, available domain.ResourceSlot, occupied domain.ResourceSlot) *domain.Agent {
	return &domain.Agent{ID: id, Status: domain.AgentAlive, AvailableSlots: available, OccupiedSlots: occupied}
}

func kernel(id string, role domain.ClusterRole, idx int, requested domain.ResourceSlot) *domain.Kernel {
	return &domain.Kernel{ID: id, ClusterRole: role, ClusterIdx: idx, RequestedSlots: requested, Status: domain.StatusPending}
}

func TestPlaceSingleNodeSingleKernelPicksMostFreeSlots(t *testing.T) {
	sess := &domain.Session{ClusterMode: domain.ClusterModeSingleNode, ClusterSize: 1}
	k := kernel("k1", domain.ClusterRoleMain, 0, domain.ResourceSlot{"cpu": 2})
	agents := []*domain.Agent{
		agent("a-busy", domain.ResourceSlot{"cpu": 8}, domain.ResourceSlot{"cpu": 7}),
		agent("a-idle", domain.ResourceSlot{"cpu": 8}, domain.ResourceSlot{"cpu": 0}),
	}

	p, err := placeKernels(sess, []*domain.Kernel{k}, agents)
	require.NoError(t, err)
	assert.Equal(t, "a-idle", p.agentFor["k1"])
}

func TestPlaceSingleNodeSingleKernelTieBreaksByID(t *testing.T) {
	sess := &domain.Session{ClusterMode: domain.ClusterModeSingleNode, ClusterSize: 1}
	k := kernel("k1", domain.ClusterRoleMain, 0, domain.ResourceSlot{"cpu": 1})
	agents := []*domain.Agent{
		agent("b-agent", domain.ResourceSlot{"cpu": 4}, domain.ResourceSlot{}),
		agent("a-agent", domain.ResourceSlot{"cpu": 4}, domain.ResourceSlot{}),
	}

	p, err := placeKernels(sess, []*domain.Kernel{k}, agents)
	require.NoError(t, err)
	assert.Equal(t, "a-agent", p.agentFor["k1"])
}

func TestPlaceSingleNodeSingleKernelNoFitErrors(t *testing.T) {
	sess := &domain.Session{ClusterMode: domain.ClusterModeSingleNode, ClusterSize: 1}
	k := kernel("k1", domain.ClusterRoleMain, 0, domain.ResourceSlot{"cpu": 16})
	agents := []*domain.Agent{agent("a1", domain.ResourceSlot{"cpu": 8}, domain.ResourceSlot{})}

	_, err := placeKernels(sess, []*domain.Kernel{k}, agents)
	assert.Error(t, err)
}

func TestPlaceSingleNodeMultiKernelPicksOneAgentForAll(t *testing.T) {
	sess := &domain.Session{ClusterMode: domain.ClusterModeSingleNode, ClusterSize: 2}
	kernels := []*domain.Kernel{
		kernel("main", domain.ClusterRoleMain, 0, domain.ResourceSlot{"cpu": 2}),
		kernel("sub", domain.ClusterRoleSub, 1, domain.ResourceSlot{"cpu": 2}),
	}
	agents := []*domain.Agent{
		agent("small", domain.ResourceSlot{"cpu": 3}, domain.ResourceSlot{}),
		agent("big", domain.ResourceSlot{"cpu": 8}, domain.ResourceSlot{}),
	}

	p, err := placeKernels(sess, kernels, agents)
	require.NoError(t, err)
	assert.Equal(t, "big", p.agentFor["main"])
	assert.Equal(t, "big", p.agentFor["sub"])
	assert.Equal(t, []string{"main", "sub"}, p.order)
}

func TestPlaceMultiNodeBinPacksLargestFirst(t *testing.T) {
	sess := &domain.Session{ClusterMode: domain.ClusterModeMultiNode, ClusterSize: 3}
	kernels := []*domain.Kernel{
		kernel("main", domain.ClusterRoleMain, 0, domain.ResourceSlot{"cpu": 4}),
		kernel("sub1", domain.ClusterRoleSub, 1, domain.ResourceSlot{"cpu": 2}),
		kernel("sub2", domain.ClusterRoleSub, 2, domain.ResourceSlot{"cpu": 2}),
	}
	agents := []*domain.Agent{
		agent("a1", domain.ResourceSlot{"cpu": 4}, domain.ResourceSlot{}),
		agent("a2", domain.ResourceSlot{"cpu": 4}, domain.ResourceSlot{}),
	}

	p, err := placeKernels(sess, kernels, agents)
	require.NoError(t, err)
	assert.Equal(t, "a1", p.agentFor["main"])
	assert.NotEqual(t, p.agentFor["main"], p.agentFor["sub1"])
}

func TestPlaceMultiNodeNoCandidatesErrors(t *testing.T) {
	sess := &domain.Session{ClusterMode: domain.ClusterModeMultiNode, ClusterSize: 2}
	kernels := []*domain.Kernel{
		kernel("main", domain.ClusterRoleMain, 0, domain.ResourceSlot{"cpu": 4}),
		kernel("sub1", domain.ClusterRoleSub, 1, domain.ResourceSlot{"cpu": 4}),
	}
	agents := []*domain.Agent{agent("a1", domain.ResourceSlot{"cpu": 4}, domain.ResourceSlot{})}

	_, err := placeKernels(sess, kernels, agents)
	assert.Error(t, err)
}

func TestSortKernelsDeterministicMainFirst(t *testing.T) {
	kernels := []*domain.Kernel{
		kernel("sub2", domain.ClusterRoleSub, 2, nil),
		kernel("main", domain.ClusterRoleMain, 0, nil),
		kernel("sub1", domain.ClusterRoleSub, 1, nil),
	}
	sorted := sortKernelsDeterministic(kernels)
	assert.Equal(t, []string{"main", "sub1", "sub2"}, []string{sorted[0].ID, sorted[1].ID, sorted[2].ID})
}
