package lifecycle

import (
	"context"
	"time"

	"github.com/backendai/manager/pkg/domain"
	"github.com/backendai/manager/pkg/storage"
)

// CascadeAgentTermination transitions the kernels hosted on agentID with
// reason AGENT_TERMINATION, as far as the transition table allows in one
// step: TERMINATING and ERROR kernels go to TERMINATED, CREATING and
// RUNNING kernels go to TERMINATING (not TERMINATED), and kernels in any
// other status (PENDING through PREPARED, or already terminal) are left
// unchanged.
// Each kernel transition registers its session in the updatable set, so a
// DrainUpdatableSet call after this one reflects the cascade in session
// status.
func (e *Engine) CascadeAgentTermination(ctx context.Context, agentID string) error {
	kernels, err := e.Store.ListKernelsByAgent(ctx, agentID)
	if err != nil {
		return err
	}
	for _, k := range kernels {
		target := domain.StatusTerminated
		if !domain.CanTransition(k.Status, target) {
			target = domain.StatusTerminating
			if !domain.CanTransition(k.Status, target) {
				continue
			}
		}
		if err := e.TransitionKernel(ctx, k.ID, target, domain.ReasonAgentTermination, nil); err != nil {
			return err
		}
	}
	return nil
}

// SetAgentStatus applies an agent status transition (ALIVE / LOST /
// RESTARTING / TERMINATED) inside a row-locked transaction; the
// AgentTerminated event handler calls it with the status the event's
// reason selects.
func (e *Engine) SetAgentStatus(ctx context.Context, agentID string, status domain.AgentStatus) error {
	return e.Store.WithRetryTx(ctx, storage.RetryOpts{}, func(ctx context.Context) error {
		a, err := e.Store.GetAgent(ctx, agentID, true)
		if err != nil {
			return err
		}
		a.Status = status
		now := time.Now()
		a.LastSeen = now
		if status == domain.AgentLost || status == domain.AgentTerminated {
			a.LostAt = &now
		} else {
			a.LostAt = nil
		}
		return e.Store.UpdateAgentHeartbeat(ctx, a)
	})
}
