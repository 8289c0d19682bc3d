package scheduler

import (
	"context"
	"fmt"

	"github.com/backendai/manager/pkg/domain"
	"github.com/backendai/manager/pkg/storage"
)

// settleAgentOccupancy reconciles each agent's occupied_slots against what
// create_kernels actually allocated, per spec §4.4's resource settle step:
// an agent may grant slightly less than requested (device granularity), so
// the delta between Σactual and Σrequested for its newly created kernels is
// applied to the agent row in one transaction.
func (s *Scheduler) settleAgentOccupancy(ctx context.Context, byAgent map[string][]*domain.Kernel) error {
	for agentID, kernels := range byAgent {
		kernelIDs := make(map[string]bool, len(kernels))
		for _, k := range kernels {
			kernelIDs[k.ID] = true
		}

		refreshed, err := s.Store.ListKernelsByAgent(ctx, agentID)
		if err != nil {
			return fmt.Errorf("settle: list kernels for agent %s: %w", agentID, err)
		}

		var requested, actual domain.ResourceSlot = domain.ResourceSlot{}, domain.ResourceSlot{}
		for _, k := range refreshed {
			if !kernelIDs[k.ID] {
				continue
			}
			requested = requested.Add(k.RequestedSlots)
			actual = actual.Add(k.OccupiedSlots)
		}
		delta := actual.Sub(requested)
		if delta.IsZero() {
			continue
		}

		err = s.Store.WithRetryTx(ctx, storage.RetryOpts{}, func(ctx context.Context) error {
			a, err := s.Store.GetAgent(ctx, agentID, true)
			if err != nil {
				return err
			}
			return s.Store.UpdateAgentOccupiedSlots(ctx, agentID, a.OccupiedSlots.Add(delta))
		})
		if err != nil {
			return fmt.Errorf("settle: update agent %s occupancy: %w", agentID, err)
		}
	}
	return nil
}
