package registry

import (
	"context"
	"fmt"

	"github.com/backendai/manager/pkg/domain"
	"github.com/backendai/manager/pkg/eventbus"
	"github.com/backendai/manager/pkg/storage"
)

// occupancyStatuses mirrors the scheduler's own list: the non-terminal
// statuses a session occupies resources under.
var occupancyStatuses = []domain.Status{
	domain.StatusScheduled,
	domain.StatusPreparing,
	domain.StatusPulling,
	domain.StatusPrepared,
	domain.StatusCreating,
	domain.StatusRunning,
	domain.StatusTerminating,
}

// RecalcResourceUsage implements spec §4.5's recalc_resource_usage: re-sum
// every occupancy-relevant kernel's occupied_slots per agent, write each
// agent's occupied_slots back (zeroing any agent with nothing on it), and
// recompute the Redis keypair concurrency counters from the session rows
// rather than trusting their accumulated INCR/DECR history.
func (r *Registry) RecalcResourceUsage(ctx context.Context) error {
	sessions, err := r.Store.ListSessionsByStatuses(ctx, occupancyStatuses)
	if err != nil {
		return fmt.Errorf("registry: recalc: list sessions: %w", err)
	}

	byAgent := make(map[string]domain.ResourceSlot)
	byKeypair := make(map[string]int64)

	for _, sess := range sessions {
		kernels, err := r.Store.ListKernelsBySession(ctx, sess.ID, false)
		if err != nil {
			return fmt.Errorf("registry: recalc: list kernels for %s: %w", sess.ID, err)
		}
		for _, k := range kernels {
			if k.AgentID == nil || domain.IsTerminal(k.Status) {
				continue
			}
			byAgent[*k.AgentID] = byAgent[*k.AgentID].Add(k.OccupiedSlots)
		}
		byKeypair[concurrencyGroupKey(sess.AccessKey, sess.Type)]++
	}

	agents, err := r.Store.ListAllAgents(ctx)
	if err != nil {
		return fmt.Errorf("registry: recalc: list agents: %w", err)
	}
	for _, a := range agents {
		occupied := byAgent[a.ID]
		if occupied == nil {
			occupied = domain.ResourceSlot{}
		}
		if err := r.Store.WithRetryTx(ctx, storage.RetryOpts{}, func(ctx context.Context) error {
			if _, err := r.Store.GetAgent(ctx, a.ID, true); err != nil {
				return err
			}
			return r.Store.UpdateAgentOccupiedSlots(ctx, a.ID, occupied)
		}); err != nil {
			return fmt.Errorf("registry: recalc: update agent %s: %w", a.ID, err)
		}
	}

	if r.Bus == nil {
		return nil
	}
	for key, count := range byKeypair {
		accessKey, kind := splitConcurrencyGroupKey(key)
		if err := r.Bus.SetKeypairConcurrency(ctx, accessKey, kind, count); err != nil {
			return fmt.Errorf("registry: recalc: set keypair concurrency for %s: %w", accessKey, err)
		}
	}

	// Zero out counters for keypairs that dropped out of byKeypair entirely
	// (no more occupancy-relevant session of that kind), so recalc is a
	// strict fixed point rather than leaving a stale nonzero count behind.
	existing, err := r.Bus.ListKeypairConcurrencyCounters(ctx)
	if err != nil {
		return fmt.Errorf("registry: recalc: list keypair concurrency counters: %w", err)
	}
	for _, c := range existing {
		key := concurrencyGroupKey(c.AccessKey, sessionTypeForCounterKind(c.Kind))
		if _, ok := byKeypair[key]; ok {
			continue
		}
		if c.Count == 0 {
			continue
		}
		if err := r.Bus.SetKeypairConcurrency(ctx, c.AccessKey, c.Kind, 0); err != nil {
			return fmt.Errorf("registry: recalc: zero keypair concurrency for %s: %w", c.AccessKey, err)
		}
	}
	return nil
}

// sessionTypeForCounterKind picks a representative domain.SessionType that
// concurrencyGroupKey will classify back into kind, so an already-computed
// eventbus.CounterKind can be looked up in byKeypair without reversing the
// group-key encoding a second way.
func sessionTypeForCounterKind(kind eventbus.CounterKind) domain.SessionType {
	if kind == eventbus.CounterSystem {
		return domain.SessionTypeInference
	}
	return domain.SessionTypeInteractive
}

// concurrencyGroupKey/splitConcurrencyGroupKey round-trip an (access key,
// counter kind) pair through a single map key, since Go maps can't be keyed
// on a struct with an unexported eventbus.CounterKind conversion function.
func concurrencyGroupKey(accessKey string, sessType domain.SessionType) string {
	kind := eventbus.CounterCompute
	if sessType == domain.SessionTypeInference {
		kind = eventbus.CounterSystem
	}
	return string(kind) + "\x00" + accessKey
}

func splitConcurrencyGroupKey(key string) (accessKey string, kind eventbus.CounterKind) {
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return key[i+1:], eventbus.CounterKind(key[:i])
		}
	}
	return key, eventbus.CounterCompute
}
