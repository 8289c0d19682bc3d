package scheduler

import (
	"fmt"
	"sort"

	"github.com/backendai/manager/pkg/domain"
)

// placement is the outcome of one scheduling decision: which agent each
// kernel lands on, in the deterministic order spec §4.4 requires (main
// kernel first, then cluster_idx ascending).
type placement struct {
	order    []string // kernel ids
	agentFor map[string]string
}

func sortKernelsDeterministic(kernels []*domain.Kernel) []*domain.Kernel {
	out := make([]*domain.Kernel, len(kernels))
	copy(out, kernels)
	sort.SliceStable(out, func(i, j int) bool {
		iMain, jMain := out[i].IsMain(), out[j].IsMain()
		if iMain != jMain {
			return iMain
		}
		return out[i].ClusterIdx < out[j].ClusterIdx
	})
	return out
}

// sortCandidatesDeterministic orders agents by free slots (summed across
// every slot name) descending, then by id ascending, matching the
// "(free slots desc, id asc)" tie-break rule.
func sortCandidatesDeterministic(agents []*domain.Agent) []*domain.Agent {
	out := make([]*domain.Agent, len(agents))
	copy(out, agents)
	sort.SliceStable(out, func(i, j int) bool {
		fi, fj := totalFree(out[i]), totalFree(out[j])
		if fi != fj {
			return fi > fj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func totalFree(a *domain.Agent) int64 {
	var sum int64
	for _, v := range a.FreeSlots() {
		sum += v
	}
	return sum
}

// placeKernels implements the agent-selection policy of spec §4.4: any
// candidate for a single-kernel SINGLE_NODE session, one agent that fits
// every kernel for a multi-kernel SINGLE_NODE session (plus a local
// network), or a largest-first bin-pack across candidates for MULTI_NODE
// (plus an overlay network).
func placeKernels(sess *domain.Session, kernels []*domain.Kernel, agents []*domain.Agent) (*placement, error) {
	kernels = sortKernelsDeterministic(kernels)
	candidates := sortCandidatesDeterministic(filterFit(agents, kernels))

	switch {
	case sess.ClusterMode == domain.ClusterModeSingleNode && sess.ClusterSize <= 1:
		return placeSingleKernel(kernels, agents)
	case sess.ClusterMode == domain.ClusterModeSingleNode:
		return placeAllOnOneAgent(kernels, agents)
	default:
		return placeBinPacked(kernels, candidates)
	}
}

// filterFit narrows agents down to ones that could conceivably host at
// least one of the kernels; used only to decide whether any candidate
// exists at all before bin-packing.
func filterFit(agents []*domain.Agent, kernels []*domain.Kernel) []*domain.Agent {
	var out []*domain.Agent
	for _, a := range agents {
		for _, k := range kernels {
			if a.CanFit(k.RequestedSlots) {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

func placeSingleKernel(kernels []*domain.Kernel, agents []*domain.Agent) (*placement, error) {
	k := kernels[0]
	var fit []*domain.Agent
	for _, a := range agents {
		if a.CanFit(k.RequestedSlots) {
			fit = append(fit, a)
		}
	}
	fit = sortCandidatesDeterministic(fit)
	if len(fit) == 0 {
		return nil, fmt.Errorf("scheduler: no agent can fit kernel %s", k.ID)
	}
	return &placement{
		order:    []string{k.ID},
		agentFor: map[string]string{k.ID: fit[0].ID},
	}, nil
}

// placeAllOnOneAgent picks the single agent that can host every kernel of
// a SINGLE_NODE, cluster_size>1 session, so a local network can be created
// on it.
func placeAllOnOneAgent(kernels []*domain.Kernel, agents []*domain.Agent) (*placement, error) {
	total := domain.Sum(kernelSlots(kernels)...)
	var fit []*domain.Agent
	for _, a := range agents {
		if a.CanFit(total) {
			fit = append(fit, a)
		}
	}
	fit = sortCandidatesDeterministic(fit)
	if len(fit) == 0 {
		return nil, fmt.Errorf("scheduler: no single agent can fit all %d kernels", len(kernels))
	}
	agentID := fit[0].ID
	order := make([]string, len(kernels))
	agentFor := make(map[string]string, len(kernels))
	for i, k := range kernels {
		order[i] = k.ID
		agentFor[k.ID] = agentID
	}
	return &placement{order: order, agentFor: agentFor}, nil
}

// placeBinPacked greedily assigns the largest-by-total-slots kernel first
// to the first candidate (in the deterministic free-slots-desc, id-asc
// order) that still fits it after prior assignments in this cycle are
// subtracted, matching the "bin-pack largest-first" rule for MULTI_NODE.
func placeBinPacked(kernels []*domain.Kernel, candidates []*domain.Agent) (*placement, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("scheduler: no candidate agents available")
	}
	remaining := make(map[string]domain.ResourceSlot, len(candidates))
	byID := make(map[string]*domain.Agent, len(candidates))
	for _, a := range candidates {
		remaining[a.ID] = a.FreeSlots()
		byID[a.ID] = a
	}

	byLargest := make([]*domain.Kernel, len(kernels))
	copy(byLargest, kernels)
	sort.SliceStable(byLargest, func(i, j int) bool {
		return totalSlots(byLargest[i].RequestedSlots) > totalSlots(byLargest[j].RequestedSlots)
	})

	agentFor := make(map[string]string, len(kernels))
	for _, k := range byLargest {
		assigned := ""
		for _, a := range candidates {
			if k.RequestedSlots.LessEqual(remaining[a.ID]) {
				assigned = a.ID
				remaining[a.ID] = remaining[a.ID].Sub(k.RequestedSlots)
				break
			}
		}
		if assigned == "" {
			return nil, fmt.Errorf("scheduler: no candidate agent fits kernel %s", k.ID)
		}
		agentFor[k.ID] = assigned
	}

	order := make([]string, len(kernels))
	for i, k := range sortKernelsDeterministic(kernels) {
		order[i] = k.ID
	}
	return &placement{order: order, agentFor: agentFor}, nil
}

func totalSlots(s domain.ResourceSlot) int64 {
	var sum int64
	for _, v := range s {
		sum += v
	}
	return sum
}
