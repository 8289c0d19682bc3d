package scheduler

import (
	"context"
	"fmt"

	"github.com/backendai/manager/pkg/agentrpc"
	"github.com/backendai/manager/pkg/domain"
)

type agentImagePair struct {
	agentID string
	image   domain.ImageRef
}

// triggerImagePulls issues one check_and_pull per distinct (agent, image)
// pair among the kernels this cycle just scheduled, per spec §4.4. The
// returned background task id isn't tracked here: the ImagePullStarted/
// Finished/Failed events the agent later publishes carry the (agent, image)
// key that pkg/handlers matches back to waiting kernels, not the task id.
func (s *Scheduler) triggerImagePulls(ctx context.Context, kernels []*domain.Kernel, p *placement) error {
	seen := make(map[agentImagePair]bool)
	var errs []error
	for _, k := range kernels {
		agentID, ok := p.agentFor[k.ID]
		if !ok {
			continue
		}
		pair := agentImagePair{agentID: agentID, image: k.Image}
		if seen[pair] {
			continue
		}
		seen[pair] = true

		rpcCtx := s.Pool.Invoke(agentID, k.ID, 0)
		if _, err := rpcCtx.CheckAndPull(ctx, agentrpc.CheckAndPullRequest{Image: k.Image}); err != nil {
			errs = append(errs, fmt.Errorf("check_and_pull on agent %s for image %s: %w", agentID, k.Image.Canonical, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("scheduler: %d image pull dispatch(es) failed: %v", len(errs), errs)
	}
	return nil
}
