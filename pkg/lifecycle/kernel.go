package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/backendai/manager/pkg/domain"
	"github.com/backendai/manager/pkg/storage"
)

// TransitionKernel moves one kernel to a new status inside a row-locked,
// retrying transaction. mutate, if non-nil, is applied to the locked
// kernel before the status write (e.g. to record an exit code). The
// kernel's owning session is registered in the pending updatable set so
// the next DrainUpdatableSet call recomputes its aggregate status.
func (e *Engine) TransitionKernel(ctx context.Context, kernelID string, to domain.Status, reason domain.Reason, mutate func(*domain.Kernel)) error {
	var sessionID string
	err := e.Store.WithRetryTx(ctx, storage.RetryOpts{}, func(ctx context.Context) error {
		k, err := e.Store.GetKernel(ctx, kernelID, true)
		if err != nil {
			return err
		}
		if k.Status == to {
			sessionID = k.SessionID
			return nil
		}
		if !domain.CanTransition(k.Status, to) {
			return fmt.Errorf("lifecycle: illegal kernel transition %s: %s -> %s", kernelID, k.Status, to)
		}
		if mutate != nil {
			mutate(k)
		}
		k.RecordStatus(to, reason, time.Now())
		if err := e.Store.UpdateKernelStatus(ctx, k); err != nil {
			return err
		}
		sessionID = k.SessionID
		return nil
	})
	if err != nil {
		return err
	}
	e.pending.Add(sessionID)
	return nil
}

// ApplyKernelCreated persists the fields the create_kernels RPC response
// fills in and transitions the kernel to RUNNING in the same transaction,
// matching the KernelStarted handler duty in §4.6.
func (e *Engine) ApplyKernelCreated(ctx context.Context, kernelID string, occupied domain.ResourceSlot, ports []domain.ServicePort, containerID string) error {
	var sessionID string
	err := e.Store.WithRetryTx(ctx, storage.RetryOpts{}, func(ctx context.Context) error {
		k, err := e.Store.GetKernel(ctx, kernelID, true)
		if err != nil {
			return err
		}
		if !domain.CanTransition(k.Status, domain.StatusRunning) {
			return fmt.Errorf("lifecycle: illegal kernel transition %s: %s -> %s", kernelID, k.Status, domain.StatusRunning)
		}
		k.OccupiedSlots = occupied
		k.ServicePorts = ports
		k.ContainerID = containerID
		if err := e.Store.UpdateKernelCreated(ctx, k); err != nil {
			return err
		}
		k.RecordStatus(domain.StatusRunning, domain.ReasonTaskFinished, time.Now())
		if err := e.Store.UpdateKernelStatus(ctx, k); err != nil {
			return err
		}
		sessionID = k.SessionID
		return nil
	})
	if err != nil {
		return err
	}
	e.pending.Add(sessionID)
	return nil
}

// TransitionKernelsByAgentImage moves every SCHEDULED/PULLING kernel bound
// to an (agent, image) pair to a new status, matching the
// ImagePullStarted/Finished/Failed handler duty: a single background pull
// task feeds every kernel waiting on that same image. mutate, if non-nil,
// is applied to each matching kernel before its transition (e.g. to record
// the pull failure detail on ImagePullFailed).
func (e *Engine) TransitionKernelsByAgentImage(ctx context.Context, agentID, imageCanonical string, from []domain.Status, to domain.Status, reason domain.Reason, mutate func(*domain.Kernel)) error {
	kernels, err := e.Store.ListKernelsByAgent(ctx, agentID)
	if err != nil {
		return err
	}
	fromSet := make(map[domain.Status]bool, len(from))
	for _, st := range from {
		fromSet[st] = true
	}
	for _, k := range kernels {
		if k.Image.Canonical != imageCanonical || !fromSet[k.Status] {
			continue
		}
		if err := e.TransitionKernel(ctx, k.ID, to, reason, mutate); err != nil {
			return err
		}
	}
	return nil
}
