package registry

import (
	"context"
	"errors"
	"time"

	"github.com/backendai/manager/pkg/agentcache"
	"github.com/backendai/manager/pkg/domain"
	"github.com/backendai/manager/pkg/events"
	"github.com/backendai/manager/pkg/storage"
)

// HeartbeatRequest is the payload HandleHeartbeat takes. The AgentHeartbeat
// event handler does not build one or call HandleHeartbeat.
type HeartbeatRequest struct {
	AgentID        string
	Address        string
	PublicKey      []byte
	ScalingGroup   string
	Architecture   string
	Version        string
	AvailableSlots domain.ResourceSlot
	Images         []string // canonical names the agent reports having locally
}

// HandleHeartbeat implements handle_heartbeat: refresh the process-local
// liveness map, then reconcile the agent row under a row lock (insert on
// first contact, update in place while ALIVE, or rejoin from LOST/
// TERMINATED), and finally update the image→agents reverse index.
func (r *Registry) HandleHeartbeat(ctx context.Context, req HeartbeatRequest) error {
	now := time.Now()
	if r.Liveness != nil {
		r.Liveness.Touch(req.AgentID, now)
	}

	if err := r.Store.WithRetryTx(ctx, storage.RetryOpts{}, func(ctx context.Context) error {
		existing, err := r.Store.GetAgent(ctx, req.AgentID, true)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			a := &domain.Agent{
				ID:             req.AgentID,
				Address:        req.Address,
				PublicKey:      req.PublicKey,
				ScalingGroup:   req.ScalingGroup,
				Status:         domain.AgentAlive,
				AvailableSlots: req.AvailableSlots,
				OccupiedSlots:  domain.ResourceSlot{},
				Architecture:   req.Architecture,
				Version:        req.Version,
				LastSeen:       now,
				CreatedAt:      now,
			}
			if err := r.Store.InsertAgent(ctx, a); err != nil {
				return err
			}
			r.logger().Info().Str("agent_id", req.AgentID).Msg("agent join")
			return r.emitAgentStarted(ctx, req.AgentID, "join")
		}

		changedIdentity := r.Cache != nil && r.Cache.Changed(req.AgentID, req.Address, req.PublicKey)

		switch existing.Status {
		case domain.AgentAlive:
			existing.Address = req.Address
			existing.PublicKey = req.PublicKey
			existing.AvailableSlots = req.AvailableSlots
			existing.ScalingGroup = req.ScalingGroup
			existing.Version = req.Version
			existing.LastSeen = now
			if err := r.Store.UpdateAgentHeartbeat(ctx, existing); err != nil {
				return err
			}
			if changedIdentity && r.Cache != nil {
				r.Cache.Invalidate(req.AgentID)
			}
			return nil

		case domain.AgentLost, domain.AgentTerminated:
			existing.Status = domain.AgentAlive
			existing.Address = req.Address
			existing.PublicKey = req.PublicKey
			existing.AvailableSlots = req.AvailableSlots
			existing.ScalingGroup = req.ScalingGroup
			existing.Version = req.Version
			existing.LastSeen = now
			existing.LostAt = nil
			if err := r.Store.UpdateAgentHeartbeat(ctx, existing); err != nil {
				return err
			}
			r.logger().Info().Str("agent_id", req.AgentID).Msg("agent rejoin")
			return r.emitAgentStarted(ctx, req.AgentID, "revived")

		default: // RESTARTING: not yet ready to rejoin, leave untouched
			return nil
		}
	}); err != nil {
		return err
	}

	if r.Cache != nil {
		r.Cache.Put(req.AgentID, agentcache.Entry{Address: req.Address, PublicKey: req.PublicKey})
	}
	if r.Bus == nil {
		return nil
	}
	for _, image := range req.Images {
		if err := r.Bus.AddAgentToImageIndex(ctx, image, req.AgentID); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) emitAgentStarted(ctx context.Context, agentID, reason string) error {
	if r.Bus == nil {
		return nil
	}
	return r.Bus.Produce(ctx, &events.AgentStarted{AgentID: agentID, Reason: reason}, events.ManagerSource)
}
