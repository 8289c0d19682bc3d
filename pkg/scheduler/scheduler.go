// Package scheduler implements the dispatcher half of the session
// lifecycle: scaling-group choice, quota checks, agent selection, image
// pull orchestration, kernel creation, and the resource settle step. The
// tick loop drives scheduling and image pulls; kernel creation and the
// settle step (CreateSessionKernels) are not called from the tick.
// Only the elected leader manager process should run a Scheduler's ticker;
// pkg/leaderelect decides that, this package does not check it itself.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/backendai/manager/pkg/agentrpc"
	"github.com/backendai/manager/pkg/domain"
	"github.com/backendai/manager/pkg/eventbus"
	"github.com/backendai/manager/pkg/lifecycle"
	"github.com/backendai/manager/pkg/log"
	"github.com/backendai/manager/pkg/metrics"
	"github.com/backendai/manager/pkg/network"
	"github.com/backendai/manager/pkg/storage"
)

// occupancyStatuses are the non-terminal statuses a session occupies
// resources under; quota checks and recalc_resource_usage both sum over
// exactly this set.
var occupancyStatuses = []domain.Status{
	domain.StatusScheduled,
	domain.StatusPreparing,
	domain.StatusPulling,
	domain.StatusPrepared,
	domain.StatusCreating,
	domain.StatusRunning,
	domain.StatusTerminating,
}

// Scheduler assigns agents to a session's kernels and drives them through
// image pull and creation.
type Scheduler struct {
	Store   *storage.Store
	Bus     *eventbus.Bus
	Pool    *agentrpc.Pool
	Engine  *lifecycle.Engine
	Network *network.Manager

	TickInterval time.Duration

	logger zerolog.Logger
	mu     sync.Mutex
	stopCh chan struct{}
}

// New builds a Scheduler over an already-wired engine, pool, and network
// manager.
func New(store *storage.Store, bus *eventbus.Bus, pool *agentrpc.Pool, engine *lifecycle.Engine, netMgr *network.Manager, tickInterval time.Duration) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = 5 * time.Second
	}
	return &Scheduler{
		Store:        store,
		Bus:          bus,
		Pool:         pool,
		Engine:       engine,
		Network:      netMgr,
		TickInterval: tickInterval,
		logger:       log.WithComponent("scheduler"),
		stopCh:       make(chan struct{}),
	}
}

// Start begins the tick loop in a background goroutine.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop ends the tick loop.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx := context.Background()
			if err := s.Tick(ctx); err != nil {
				s.logger.Error().Err(err).Msg("scheduling cycle failed")
			}
			if err := s.Engine.DrainUpdatableSet(ctx); err != nil {
				s.logger.Error().Err(err).Msg("updatable set drain failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// Tick runs one scheduling cycle: every PENDING session with its
// dependencies satisfied is considered for scheduling, in creation order
// so older requests are served first.
func (s *Scheduler) Tick(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.Store.ListSessionsByStatuses(ctx, []domain.Status{domain.StatusPending})
	if err != nil {
		return fmt.Errorf("scheduler: list pending sessions: %w", err)
	}

	for _, sess := range sessions {
		ready, err := s.Engine.DependenciesSatisfied(ctx, sess.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("session_id", sess.ID).Msg("dependency check failed")
			continue
		}
		if !ready {
			continue
		}
		if err := s.scheduleSession(ctx, sess); err != nil {
			metrics.SessionsFailed.Inc()
			s.logger.Warn().Err(err).Str("session_id", sess.ID).Msg("session not scheduled this tick")
			continue
		}
	}
	return nil
}

// scheduleSession resolves the scaling group, checks quota, selects
// agents, transitions every kernel to SCHEDULED, provisions the session's
// network, and kicks off image pulls.
func (s *Scheduler) scheduleSession(ctx context.Context, sess *domain.Session) error {
	kernels, err := s.Store.ListKernelsBySession(ctx, sess.ID, false)
	if err != nil {
		return fmt.Errorf("list kernels: %w", err)
	}
	if len(kernels) == 0 {
		return fmt.Errorf("session %s has no kernels", sess.ID)
	}

	if sess.ScalingGroup == "" {
		sg, err := s.chooseScalingGroup(ctx, sess)
		if err != nil {
			return err
		}
		sess.ScalingGroup = sg.Name
	}

	requested := domain.Sum(kernelSlots(kernels)...)
	if err := s.checkQuota(ctx, sess, requested, len(kernels)); err != nil {
		return err
	}

	agents, err := s.Store.ListAliveAgentsByScalingGroup(ctx, sess.ScalingGroup)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}

	placement, err := placeKernels(sess, kernels, agents)
	if err != nil {
		return err
	}

	for _, kernelID := range placement.order {
		agentID := placement.agentFor[kernelID]
		if err := s.Store.AssignKernelAgent(ctx, kernelID, agentID); err != nil {
			return fmt.Errorf("assign kernel %s to agent %s: %w", kernelID, agentID, err)
		}
		if err := s.Engine.TransitionKernel(ctx, kernelID, domain.StatusScheduled, domain.ReasonUserRequested, nil); err != nil {
			return fmt.Errorf("transition kernel %s to scheduled: %w", kernelID, err)
		}
	}

	if s.Network != nil && len(placement.order) > 0 {
		mainAgent := placement.agentFor[placement.order[0]]
		if _, err := s.Network.CreateForSession(ctx, sess, mainAgent); err != nil {
			return fmt.Errorf("provision network: %w", err)
		}
	}

	metrics.SessionsScheduled.Inc()
	if err := s.triggerImagePulls(ctx, kernels, placement); err != nil {
		s.logger.Error().Err(err).Str("session_id", sess.ID).Msg("image pull dispatch failed")
	}
	return nil
}

func kernelSlots(kernels []*domain.Kernel) []domain.ResourceSlot {
	out := make([]domain.ResourceSlot, len(kernels))
	for i, k := range kernels {
		out[i] = k.RequestedSlots
	}
	return out
}

func (s *Scheduler) chooseScalingGroup(ctx context.Context, sess *domain.Session) (*domain.ScalingGroup, error) {
	kp, err := s.Store.GetKeyPair(ctx, sess.AccessKey)
	if err != nil {
		return nil, err
	}
	policy, err := s.Store.GetKeypairResourcePolicy(ctx, kp.ResourcePolicy)
	if err != nil {
		return nil, err
	}
	groups, err := s.Store.ListActiveScalingGroups(ctx)
	if err != nil {
		return nil, err
	}
	for _, sg := range groups {
		if !policy.AllowsScalingGroup(sg.Name) {
			continue
		}
		if sg.AllowsSessionType(sess.Type) {
			return sg, nil
		}
	}
	return nil, &scalingGroupNotFoundError{sessionID: sess.ID}
}

type scalingGroupNotFoundError struct {
	sessionID string
}

func (e *scalingGroupNotFoundError) Error() string {
	return fmt.Sprintf("scheduler: no scaling group accepts session %s", e.sessionID)
}
