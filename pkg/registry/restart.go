package registry

import (
	"context"
	"fmt"

	"github.com/backendai/manager/pkg/agentrpc"
	"github.com/backendai/manager/pkg/apierrors"
	"github.com/backendai/manager/pkg/domain"
	"github.com/backendai/manager/pkg/events"
)

// RestartSessionRequest carries restart_session's inputs.
type RestartSessionRequest struct {
	SessionID string
}

// RestartSession implements spec §4.5's restart_session: restart every
// kernel in place via the agent's restart_kernel RPC, persist the fresh
// container id and ports, re-emit SessionStarted, and re-trigger batch
// execution for BATCH sessions. The status alphabet has no RESTARTING
// session status distinct from RUNNING (§4.3's table is fixed and §3's
// RESTARTING value belongs to Agent, not Session), so a session being
// restarted stays at RUNNING throughout; status_history records no new
// entry, matching destroy_session's "transition" language only where the
// FSM actually has a status to move to.
func (r *Registry) RestartSession(ctx context.Context, req RestartSessionRequest) error {
	sess, err := r.Store.GetSession(ctx, req.SessionID, false)
	if err != nil {
		return err
	}
	if sess.Status != domain.StatusRunning {
		return apierrors.NewInvalidArgument("session %s is not running", sess.ID)
	}

	kernels, err := r.Store.ListKernelsBySession(ctx, sess.ID, false)
	if err != nil {
		return err
	}

	var errs []error
	var main *domain.Kernel
	for _, k := range kernels {
		if k.AgentID == nil {
			errs = append(errs, fmt.Errorf("kernel %s has no agent binding", k.ID))
			continue
		}
		rpcCtx := r.Pool.Invoke(*k.AgentID, sess.ID, r.WriteTimeout)
		resp, err := rpcCtx.RestartKernel(ctx, agentrpc.RestartKernelRequest{KernelID: k.ID})
		if err != nil {
			errs = append(errs, fmt.Errorf("restart_kernel on agent %s for kernel %s: %w", *k.AgentID, k.ID, err))
			continue
		}
		k.ContainerID = resp.ContainerID
		k.ServicePorts = resp.ServicePorts
		if err := r.Store.UpdateKernelCreated(ctx, k); err != nil {
			errs = append(errs, err)
			continue
		}
		if k.IsMain() {
			main = k
		}
	}
	if len(errs) > 0 {
		return &apierrors.MultiAgentError{Errors: errs}
	}

	if r.Bus != nil {
		if err := r.Bus.Produce(ctx, &events.SessionStarted{SessionID: sess.ID, CreationID: sess.ID}, events.ManagerSource); err != nil {
			r.logger().Warn().Err(err).Str("session_id", sess.ID).Msg("publish session_started failed")
		}
	}

	if sess.Type == domain.SessionTypeBatch && main != nil && main.StartupCommand != "" {
		rpcCtx := r.Pool.Invoke(*main.AgentID, sess.ID, r.WriteTimeout)
		if _, err := rpcCtx.Execute(ctx, agentrpc.ExecuteRequest{KernelID: main.ID, Code: main.StartupCommand, Mode: "batch"}); err != nil {
			return fmt.Errorf("registry: restart: re-trigger batch execution: %w", err)
		}
	}
	return nil
}
