// Package handlers wires the event bus's catalog of published events into
// calls on the Session Lifecycle Manager and the Registry, per spec §4.6.
// Each handler is deliberately small: the FSM and Registry own the actual
// state transitions, this package only routes.
package handlers

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/backendai/manager/pkg/domain"
	"github.com/backendai/manager/pkg/eventbus"
	"github.com/backendai/manager/pkg/events"
	"github.com/backendai/manager/pkg/lifecycle"
	"github.com/backendai/manager/pkg/log"
	"github.com/backendai/manager/pkg/metrics"
	"github.com/backendai/manager/pkg/network"
	"github.com/backendai/manager/pkg/registry"
	"github.com/backendai/manager/pkg/waiter"
)

// Handlers bundles the dependencies every registered handler closes over.
type Handlers struct {
	Bus      *eventbus.Bus
	Engine   *lifecycle.Engine
	Registry *registry.Registry
	Network  *network.Manager
}

func (h *Handlers) logger() zerolog.Logger {
	return log.WithComponent("handlers")
}

// Register subscribes every handler in spec §4.6's table onto the bus.
// Kernel/session lifecycle events are consumed (exactly-once across the
// deployment, since they drive durable state); callback/log-sync style
// side effects are also consumed rather than broadcast, since doing them
// twice would be wrong, not just redundant.
func (h *Handlers) Register() {
	h.Bus.Consume("kernel_preparing", nil, eventbus.CoalesceOpts{}, h.onKernelPreparing)
	h.Bus.Consume("kernel_pulling", nil, eventbus.CoalesceOpts{}, h.onKernelPulling)
	h.Bus.Consume("kernel_creating", nil, eventbus.CoalesceOpts{}, h.onKernelCreating)
	h.Bus.Consume("kernel_started", nil, eventbus.CoalesceOpts{}, h.onKernelStarted)
	h.Bus.Consume("kernel_cancelled", nil, eventbus.CoalesceOpts{}, h.onKernelCancelled)
	h.Bus.Consume("kernel_terminating", nil, eventbus.CoalesceOpts{}, h.onKernelTerminating)
	h.Bus.Consume("kernel_terminated", nil, eventbus.CoalesceOpts{}, h.onKernelTerminated)

	h.Bus.Consume("session_started", nil, eventbus.CoalesceOpts{}, h.onSessionStarted)
	h.Bus.Consume("session_cancelled", nil, eventbus.CoalesceOpts{}, h.onSessionCancelled)
	h.Bus.Consume("session_terminated", nil, eventbus.CoalesceOpts{}, h.onSessionTerminated)
	h.Bus.Consume("do_terminate_session", nil, eventbus.CoalesceOpts{}, h.onDoTerminateSession)

	h.Bus.Consume("image_pull_started", nil, eventbus.CoalesceOpts{}, h.onImagePullStarted)
	h.Bus.Consume("image_pull_finished", nil, eventbus.CoalesceOpts{}, h.onImagePullFinished)
	h.Bus.Consume("image_pull_failed", nil, eventbus.CoalesceOpts{}, h.onImagePullFailed)

	h.Bus.Consume("agent_heartbeat", nil, eventbus.CoalesceOpts{}, h.onAgentHeartbeat)
	h.Bus.Consume("agent_terminated", nil, eventbus.CoalesceOpts{}, h.onAgentTerminated)

	h.Bus.Consume("route_created", nil, eventbus.CoalesceOpts{}, h.onRouteCreated)
	h.Bus.Consume("do_sync_kernel_logs", nil, eventbus.CoalesceOpts{}, h.onDoSyncKernelLogs)
}

func (h *Handlers) forEach(batch []events.Envelope, f func(events.Envelope)) {
	for _, env := range batch {
		f(env)
	}
	// Re-aggregate every session the batch touched, once per batch.
	if h.Engine != nil {
		if err := h.Engine.DrainUpdatableSet(context.Background()); err != nil {
			h.logger().Warn().Err(err).Msg("drain updatable set after event batch failed")
		}
	}
}

// onKernelPreparing is a metrics-only no-op: the transition to PREPARING is
// driven by the scheduler itself, not by this event.
func (h *Handlers) onKernelPreparing(_ context.Context, batch []events.Envelope) {
	metrics.KernelsTotal.WithLabelValues(string(domain.StatusPreparing)).Add(float64(len(batch)))
}

func (h *Handlers) onKernelPulling(ctx context.Context, batch []events.Envelope) {
	h.forEach(batch, func(env events.Envelope) {
		ev := env.Event.(*events.KernelPulling)
		if err := h.Engine.TransitionKernel(ctx, ev.KernelID, domain.StatusPulling, domain.ReasonUserRequested, nil); err != nil {
			h.logger().Warn().Err(err).Str("kernel_id", ev.KernelID).Msg("kernel_pulling transition failed")
			return
		}
		h.Engine.RegisterForAggregation(ev.SessionID)
	})
}

func (h *Handlers) onKernelCreating(ctx context.Context, batch []events.Envelope) {
	h.forEach(batch, func(env events.Envelope) {
		ev := env.Event.(*events.KernelCreating)
		if err := h.Engine.TransitionKernel(ctx, ev.KernelID, domain.StatusCreating, domain.ReasonUserRequested, nil); err != nil {
			h.logger().Warn().Err(err).Str("kernel_id", ev.KernelID).Msg("kernel_creating transition failed")
		}
	})
}

// onKernelStarted moves the kernel to RUNNING. The KernelStarted event
// carries only the kernel and session ids, so this handler persists no
// slots, service ports or container id; those are written only where
// ApplyKernelCreated is called.
func (h *Handlers) onKernelStarted(ctx context.Context, batch []events.Envelope) {
	h.forEach(batch, func(env events.Envelope) {
		ev := env.Event.(*events.KernelStarted)
		if err := h.Engine.TransitionKernel(ctx, ev.KernelID, domain.StatusRunning, domain.ReasonTaskFinished, nil); err != nil {
			h.logger().Warn().Err(err).Str("kernel_id", ev.KernelID).Msg("kernel_started transition failed")
		}
	})
}

func (h *Handlers) onKernelCancelled(_ context.Context, batch []events.Envelope) {
	h.forEach(batch, func(env events.Envelope) {
		ev := env.Event.(*events.KernelCancelled)
		h.logger().Info().Str("kernel_id", ev.KernelID).Str("reason", ev.Reason).Msg("kernel cancelled")
	})
}

// onKernelTerminating is a no-op at the DB level: destroy_session already
// set the kernel/session status before publishing this event.
func (h *Handlers) onKernelTerminating(_ context.Context, batch []events.Envelope) {}

// onKernelTerminated transitions the kernel to TERMINATED, reads (and so
// clears) its last resource-usage sample from Redis, and recomputes agent
// occupancy and keypair concurrency via RecalcResourceUsage, in a separate
// transaction from the transition. The sample is only logged at debug
// level; it is not written to the kernel row.
func (h *Handlers) onKernelTerminated(ctx context.Context, batch []events.Envelope) {
	h.forEach(batch, func(env events.Envelope) {
		ev := env.Event.(*events.KernelTerminated)
		reason := domain.Reason(ev.Reason)
		if err := h.Engine.TransitionKernel(ctx, ev.KernelID, domain.StatusTerminated, reason, nil); err != nil {
			h.logger().Warn().Err(err).Str("kernel_id", ev.KernelID).Msg("kernel_terminated transition failed")
			return
		}
		if h.Bus != nil {
			if stat, err := h.Bus.LastKernelStat(ctx, ev.KernelID); err != nil {
				h.logger().Warn().Err(err).Str("kernel_id", ev.KernelID).Msg("read last kernel stat failed")
			} else if len(stat) > 0 {
				h.logger().Debug().Str("kernel_id", ev.KernelID).Interface("stat", stat).Msg("kernel last stat")
			}
		}
		if h.Registry != nil {
			if err := h.Registry.RecalcResourceUsage(ctx); err != nil {
				h.logger().Warn().Err(err).Msg("recalc resource usage after kernel_terminated failed")
			}
		}
	})
}

// onSessionStarted/onSessionCancelled signal the create_session waiter
// keyed by the creation id. onSessionStarted also passes the session to
// postCallback, which only logs the callback url; no HTTP request is made.
// onSessionCancelled does not touch the callback url.
func (h *Handlers) onSessionStarted(ctx context.Context, batch []events.Envelope) {
	h.forEach(batch, func(env events.Envelope) {
		ev := env.Event.(*events.SessionStarted)
		h.resolveWaiter(ev.CreationID, waiter.OutcomeStarted)
		h.postCallback(ctx, ev.SessionID)
	})
}

func (h *Handlers) onSessionCancelled(ctx context.Context, batch []events.Envelope) {
	h.forEach(batch, func(env events.Envelope) {
		ev := env.Event.(*events.SessionCancelled)
		h.resolveWaiter(ev.CreationID, waiter.OutcomeCancelled)
	})
}

func (h *Handlers) resolveWaiter(creationID string, outcome waiter.Outcome) {
	if h.Registry == nil || h.Registry.Waiter == nil || creationID == "" {
		return
	}
	h.Registry.Waiter.Resolve(creationID, outcome)
}

// postCallback is a placeholder for create_session's optional callback_url
// POST: the HTTP client used to make that call is out of this module's
// scope (no HTTP frontend is implemented here), so this only logs the
// intent to call it.
func (h *Handlers) postCallback(ctx context.Context, sessionID string) {
	sess, err := h.Registry.Store.GetSession(ctx, sessionID, false)
	if err != nil || sess.CallbackURL == "" {
		return
	}
	h.logger().Info().Str("session_id", sessionID).Str("url", sess.CallbackURL).Msg("would post session callback")
}

// onSessionTerminated tears down any volatile per-session network.
func (h *Handlers) onSessionTerminated(ctx context.Context, batch []events.Envelope) {
	h.forEach(batch, func(env events.Envelope) {
		ev := env.Event.(*events.SessionTerminated)
		if h.Network == nil {
			return
		}
		if err := h.Network.DestroySession(ctx, ev.SessionID); err != nil {
			h.logger().Warn().Err(err).Str("session_id", ev.SessionID).Msg("destroy session network failed")
		}
	})
}

// onDoTerminateSession is the command-style event an idle-timeout or
// dependency-failure sweep publishes to ask for a KILLED_BY_EVENT destroy.
func (h *Handlers) onDoTerminateSession(ctx context.Context, batch []events.Envelope) {
	h.forEach(batch, func(env events.Envelope) {
		ev := env.Event.(*events.DoTerminateSession)
		if h.Registry == nil {
			return
		}
		err := h.Registry.DestroySession(ctx, registry.DestroySessionRequest{
			SessionID: ev.SessionID,
			Forced:    true,
			Reason:    string(domain.ReasonKilledByEvent),
		})
		if err != nil {
			h.logger().Warn().Err(err).Str("session_id", ev.SessionID).Msg("do_terminate_session destroy failed")
		}
	})
}

func (h *Handlers) onImagePullStarted(ctx context.Context, batch []events.Envelope) {
	h.forEach(batch, func(env events.Envelope) {
		ev := env.Event.(*events.ImagePullStarted)
		err := h.Engine.TransitionKernelsByAgentImage(ctx, ev.AgentID, ev.Image,
			[]domain.Status{domain.StatusScheduled}, domain.StatusPulling, domain.ReasonUserRequested, nil)
		if err != nil {
			h.logger().Warn().Err(err).Str("agent_id", ev.AgentID).Str("image", ev.Image).Msg("image_pull_started transition failed")
		}
	})
}

func (h *Handlers) onImagePullFinished(ctx context.Context, batch []events.Envelope) {
	h.forEach(batch, func(env events.Envelope) {
		ev := env.Event.(*events.ImagePullFinished)
		err := h.Engine.TransitionKernelsByAgentImage(ctx, ev.AgentID, ev.Image,
			[]domain.Status{domain.StatusPulling}, domain.StatusPrepared, domain.ReasonTaskFinished, nil)
		if err != nil {
			h.logger().Warn().Err(err).Str("agent_id", ev.AgentID).Str("image", ev.Image).Msg("image_pull_finished transition failed")
		}
	})
}

func (h *Handlers) onImagePullFailed(ctx context.Context, batch []events.Envelope) {
	h.forEach(batch, func(env events.Envelope) {
		ev := env.Event.(*events.ImagePullFailed)
		err := h.Engine.TransitionKernelsByAgentImage(ctx, ev.AgentID, ev.Image,
			[]domain.Status{domain.StatusScheduled, domain.StatusPulling}, domain.StatusCancelled, domain.ReasonImagePullFailed,
			func(k *domain.Kernel) { k.StatusErrorRepr = ev.Detail })
		if err != nil {
			h.logger().Warn().Err(err).Str("agent_id", ev.AgentID).Str("image", ev.Image).Str("detail", ev.Detail).Msg("image_pull_failed transition failed")
		}
	})
}

// onAgentHeartbeat does nothing: the AgentHeartbeat event carries only the
// agent id, and Registry.HandleHeartbeat is not called from here or from
// any other handler in this package.
func (h *Handlers) onAgentHeartbeat(_ context.Context, batch []events.Envelope) {}

// onAgentTerminated cascades the agent's kernels, records the agent's new
// status (LOST for reason "agent-lost", RESTARTING for "agent-restart",
// TERMINATED otherwise), and drops the agent from the image index.

func (h *Handlers) onAgentTerminated(ctx context.Context, batch []events.Envelope) {
	h.forEach(batch, func(env events.Envelope) {
		ev := env.Event.(*events.AgentTerminated)
		if err := h.Engine.CascadeAgentTermination(ctx, ev.AgentID); err != nil {
			h.logger().Warn().Err(err).Str("agent_id", ev.AgentID).Msg("cascade agent termination failed")
			return
		}
		status := domain.AgentTerminated
		switch ev.Reason {
		case "agent-lost":
			status = domain.AgentLost
		case "agent-restart":
			status = domain.AgentRestarting
		}
		if err := h.Engine.SetAgentStatus(ctx, ev.AgentID, status); err != nil {
			h.logger().Warn().Err(err).Str("agent_id", ev.AgentID).Msg("set agent status after agent_terminated failed")
		}
		if err := h.Engine.DrainUpdatableSet(ctx); err != nil {
			h.logger().Warn().Err(err).Msg("drain updatable set after agent_terminated failed")
		}
		if h.Bus != nil {
			if err := h.Bus.RemoveAgentFromAllImages(ctx, ev.AgentID); err != nil {
				h.logger().Warn().Err(err).Str("agent_id", ev.AgentID).Msg("remove agent from image index failed")
			}
		}
	})
}

// onRouteCreated builds the backing inference session for a newly
// provisioned Route: image, vfolder mount, BACKEND_MODEL_NAME env var, and
// the endpoint's resource slots come straight off the Endpoint row. A
// failure to create the session bumps the endpoint's retry counter and
// marks the route FAILED_TO_START rather than leaving it stuck in
// PROVISIONING forever.
func (h *Handlers) onRouteCreated(ctx context.Context, batch []events.Envelope) {
	h.forEach(batch, func(env events.Envelope) {
		ev := env.Event.(*events.RouteCreated)
		if h.Registry == nil {
			return
		}
		ep, err := h.Registry.Store.GetEndpoint(ctx, ev.EndpointID)
		if err != nil {
			h.logger().Warn().Err(err).Str("endpoint_id", ev.EndpointID).Msg("route_created: endpoint lookup failed")
			h.failRoute(ctx, ev.EndpointID, ev.RouteID)
			return
		}

		environ := map[string]string{"BACKEND_MODEL_NAME": ep.ModelName}
		var mounts []domain.VFolderMount
		if ep.ModelVFolder != "" {
			mounts = append(mounts, domain.VFolderMount{VFolderID: ep.ModelVFolder, MountPath: "/home/work/" + ep.ModelVFolder})
		}

		result, err := h.Registry.CreateSession(ctx, registry.CreateSessionRequest{
			Name:           ep.Name + "-" + ev.RouteID,
			AccessKey:      ep.AccessKey,
			Domain:         ep.Domain,
			Project:        ep.Project,
			Type:           domain.SessionTypeInference,
			ClusterMode:    domain.ClusterModeSingleNode,
			ClusterSize:    1,
			Image:          ep.Image,
			VFolderMounts:  mounts,
			Environ:        environ,
			RequestedSlots: ep.RequestedSlots,
			EnqueueOnly:    true,
		})
		if err != nil {
			h.logger().Warn().Err(err).Str("endpoint_id", ev.EndpointID).Str("route_id", ev.RouteID).Msg("route_created: create_session failed")
			h.failRoute(ctx, ev.EndpointID, ev.RouteID)
			return
		}
		if err := h.Registry.Store.BindRouteSession(ctx, ev.RouteID, result.SessionID); err != nil {
			h.logger().Warn().Err(err).Str("route_id", ev.RouteID).Msg("route_created: bind session failed")
		}
	})
}

func (h *Handlers) failRoute(ctx context.Context, endpointID, routeID string) {
	if err := h.Registry.Store.IncrementEndpointRetries(ctx, endpointID); err != nil {
		h.logger().Warn().Err(err).Str("endpoint_id", endpointID).Msg("increment endpoint retries failed")
	}
	if err := h.Registry.Store.UpdateRouteStatus(ctx, routeID, domain.RouteFailedToStart, 0); err != nil {
		h.logger().Warn().Err(err).Str("route_id", routeID).Msg("mark route failed_to_start failed")
	}
}

// onDoSyncKernelLogs drains the agent-side Redis log buffer for a
// container, concatenates the chunks, and persists the result onto the
// kernel row; DrainContainerLog deletes the Redis list as part of the
// drain, bounding its memory.
func (h *Handlers) onDoSyncKernelLogs(ctx context.Context, batch []events.Envelope) {
	h.forEach(batch, func(env events.Envelope) {
		ev := env.Event.(*events.DoSyncKernelLogs)
		if h.Bus == nil {
			return
		}
		logs, err := h.Bus.DrainContainerLog(ctx, ev.ContainerID, 1000)
		if err != nil {
			h.logger().Warn().Err(err).Str("kernel_id", ev.KernelID).Msg("drain container log failed")
			return
		}
		if h.Registry == nil || logs == "" {
			return
		}
		if err := h.Registry.Store.AppendKernelLogs(ctx, ev.KernelID, logs); err != nil {
			h.logger().Warn().Err(err).Str("kernel_id", ev.KernelID).Msg("persist kernel logs failed")
		}
	})
}
