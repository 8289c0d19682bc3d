package lifecycle

import (
	"context"
	"time"

	"github.com/backendai/manager/pkg/domain"
	"github.com/backendai/manager/pkg/events"
	"github.com/backendai/manager/pkg/storage"
)

// RegisterForAggregation adds sessionID to the pending updatable set
// without performing a transition, for handlers that only need to note
// "something about this session may have changed" (e.g. KernelPulling).
func (e *Engine) RegisterForAggregation(sessionID string) {
	e.pending.Add(sessionID)
}

// DrainUpdatableSet recomputes the aggregate status of every session
// registered since the last drain, transitioning and persisting each one
// that changed, and emitting the matching SessionStarted/Terminated/
// Cancelled event. Aggregation of a given session happens at most once
// per call, matching the "once per (event-batch, session)" ordering rule.
func (e *Engine) DrainUpdatableSet(ctx context.Context) error {
	for _, sessionID := range e.pending.DrainAll() {
		if err := e.aggregateOne(ctx, sessionID); err != nil {
			e.logger().Error().Err(err).Str("session_id", sessionID).Msg("aggregation failed")
			return err
		}
	}
	return nil
}

func (e *Engine) aggregateOne(ctx context.Context, sessionID string) error {
	return e.Store.WithRetryTx(ctx, storage.RetryOpts{}, func(ctx context.Context) error {
		sess, err := e.Store.GetSession(ctx, sessionID, true)
		if err != nil {
			return err
		}
		kernels, err := e.Store.ListKernelsBySession(ctx, sessionID, true)
		if err != nil {
			return err
		}
		statuses := make([]domain.Status, len(kernels))
		for i, k := range kernels {
			statuses[i] = k.Status
		}
		next := domain.AggregateStatus(statuses)
		if next == sess.Status {
			return nil
		}
		if !domain.CanTransition(sess.Status, next) {
			// A kernel batch can jump straight past an intermediate session
			// status (e.g. one kernel ERRORs while another is still PULLING);
			// the aggregate rule is authoritative over the transition table
			// in that case, so record it directly instead of rejecting it.
			e.logger().Warn().Str("session_id", sessionID).
				Str("from", string(sess.Status)).Str("to", string(next)).
				Msg("aggregate status bypasses transition table")
		}
		reason := sess.StatusReason
		sess.RecordStatus(next, reason, time.Now())
		if err := e.Store.UpdateSessionStatus(ctx, sess); err != nil {
			return err
		}
		return e.emitSessionEvent(ctx, sess)
	})
}

func (e *Engine) emitSessionEvent(ctx context.Context, sess *domain.Session) error {
	if e.Bus == nil {
		return nil
	}
	switch sess.Status {
	case domain.StatusRunning:
		return e.Bus.Produce(ctx, &events.SessionStarted{SessionID: sess.ID, CreationID: sess.ID}, events.ManagerSource)
	case domain.StatusTerminated:
		return e.Bus.Produce(ctx, &events.SessionTerminated{SessionID: sess.ID, Reason: string(sess.StatusReason)}, events.ManagerSource)
	case domain.StatusCancelled:
		return e.Bus.Produce(ctx, &events.SessionCancelled{SessionID: sess.ID, CreationID: sess.ID, Reason: string(sess.StatusReason)}, events.ManagerSource)
	}
	return nil
}
