package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/backendai/manager/pkg/agentrpc"
	"github.com/backendai/manager/pkg/apierrors"
	"github.com/backendai/manager/pkg/domain"
	"github.com/backendai/manager/pkg/events"
	"github.com/backendai/manager/pkg/storage"
)

// DestroySessionRequest carries destroy_session's inputs.
type DestroySessionRequest struct {
	SessionID    string
	Forced       bool
	Reason       string
	IsSuperAdmin bool
}

// DestroySession implements spec §4.5's destroy_session status-dependent
// branches.
func (r *Registry) DestroySession(ctx context.Context, req DestroySessionRequest) error {
	sess, err := r.Store.GetSession(ctx, req.SessionID, false)
	if err != nil {
		return err
	}

	reason := domain.Reason(req.Reason)
	if reason == "" {
		reason = domain.ReasonUserRequested
	}

	switch sess.Status {
	case domain.StatusTerminated, domain.StatusCancelled:
		return apierrors.NewInvalidArgument("session %s is already terminal", sess.ID)

	case domain.StatusPending:
		return r.cancelPending(ctx, sess, reason)

	case domain.StatusRunning:
		return r.destroyRunning(ctx, sess, reason)

	default: // SCHEDULED, PREPARING, PULLING, PREPARED, CREATING, TERMINATING, ERROR
		if !req.Forced {
			return apierrors.NewInvalidArgument("session %s in status %s requires forced=true to destroy", sess.ID, sess.Status)
		}
		if req.IsSuperAdmin {
			return r.forceTerminate(ctx, sess)
		}
		return r.beginTerminating(ctx, sess, reason)
	}
}

func (r *Registry) cancelPending(ctx context.Context, sess *domain.Session, reason domain.Reason) error {
	if err := r.Store.WithRetryTx(ctx, storage.RetryOpts{}, func(ctx context.Context) error {
		locked, err := r.Store.GetSession(ctx, sess.ID, true)
		if err != nil {
			return err
		}
		if locked.Status != domain.StatusPending {
			return nil
		}
		now := time.Now()
		locked.RecordStatus(domain.StatusCancelled, reason, now)
		if err := r.Store.UpdateSessionStatus(ctx, locked); err != nil {
			return err
		}
		kernels, err := r.Store.ListKernelsBySession(ctx, sess.ID, true)
		if err != nil {
			return err
		}
		for _, k := range kernels {
			k.RecordStatus(domain.StatusCancelled, reason, now)
			if err := r.Store.UpdateKernelStatus(ctx, k); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}
	return r.afterDestroy(ctx, sess)
}

func (r *Registry) destroyRunning(ctx context.Context, sess *domain.Session, reason domain.Reason) error {
	if err := r.Engine.TransitionSession(ctx, sess.ID, domain.StatusTerminating, reason); err != nil {
		return err
	}
	if r.Bus != nil {
		if err := r.Bus.Produce(ctx, &events.SessionTerminating{SessionID: sess.ID, Reason: string(reason)}, events.ManagerSource); err != nil {
			r.logger().Warn().Err(err).Msg("publish session_terminating failed")
		}
	}

	kernels, err := r.Store.ListKernelsBySession(ctx, sess.ID, false)
	if err != nil {
		return err
	}
	byAgent := make(map[string][]*domain.Kernel)
	for _, k := range kernels {
		if k.AgentID == nil || domain.IsTerminal(k.Status) {
			continue
		}
		byAgent[*k.AgentID] = append(byAgent[*k.AgentID], k)
	}

	var errs []error
	for agentID, agentKernels := range byAgent {
		rpcCtx := r.Pool.Invoke(agentID, sess.ID, r.WriteTimeout)
		for _, k := range agentKernels {
			err := rpcCtx.DestroyKernel(ctx, agentrpc.DestroyKernelRequest{KernelID: k.ID, SessionID: sess.ID, Reason: string(reason)})
			if err != nil {
				errs = append(errs, fmt.Errorf("destroy_kernel on agent %s for kernel %s: %w", agentID, k.ID, err))
				continue
			}
			if err := r.Engine.TransitionKernel(ctx, k.ID, domain.StatusTerminated, reason, nil); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if err := r.afterDestroy(ctx, sess); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return &apierrors.MultiAgentError{Errors: errs}
	}
	return nil
}

func (r *Registry) forceTerminate(ctx context.Context, sess *domain.Session) error {
	if err := r.Store.WithRetryTx(ctx, storage.RetryOpts{}, func(ctx context.Context) error {
		locked, err := r.Store.GetSession(ctx, sess.ID, true)
		if err != nil {
			return err
		}
		now := time.Now()
		locked.RecordStatus(domain.StatusTerminated, domain.ReasonForceTerminated, now)
		if err := r.Store.UpdateSessionStatus(ctx, locked); err != nil {
			return err
		}
		kernels, err := r.Store.ListKernelsBySession(ctx, sess.ID, true)
		if err != nil {
			return err
		}
		for _, k := range kernels {
			if domain.IsTerminal(k.Status) {
				continue
			}
			k.RecordStatus(domain.StatusTerminated, domain.ReasonForceTerminated, now)
			if err := r.Store.UpdateKernelStatus(ctx, k); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}
	if err := r.afterDestroy(ctx, sess); err != nil {
		return err
	}
	return r.RecalcResourceUsage(ctx)
}

// beginTerminating handles destroy_session(forced=true) on a non-admin
// caller for every session status not given its own branch in
// DestroySession, CREATING, TERMINATING and ERROR included. It forces the
// session to TERMINATING whether or not the transition table allows that
// from the current status (it does not from SCHEDULED/PREPARING/PULLING/
// PREPARED).
func (r *Registry) beginTerminating(ctx context.Context, sess *domain.Session, reason domain.Reason) error {
	if err := r.Engine.ForceTransitionSession(ctx, sess.ID, domain.StatusTerminating, reason); err != nil {
		return err
	}
	if r.Bus == nil {
		return nil
	}
	return r.Bus.Produce(ctx, &events.SessionTerminating{SessionID: sess.ID, Reason: string(reason)}, events.ManagerSource)
}

// afterDestroy decrements the keypair concurrency counters exactly once
// per destroy request, matching spec §4.5's closing guarantee.
func (r *Registry) afterDestroy(ctx context.Context, sess *domain.Session) error {
	if r.Bus == nil {
		return nil
	}
	return r.Bus.DecrKeypairConcurrency(ctx, sess.AccessKey, sess.Type)
}
