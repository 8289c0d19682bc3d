package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/backendai/manager/pkg/domain"
	"github.com/backendai/manager/pkg/storage"
)

// TransitionSession moves a session directly to a new status inside a
// row-locked, retrying transaction, without touching its kernels. Used by
// commands that drive session status ahead of kernel aggregation — e.g.
// destroy_session setting RUNNING -> TERMINATING before it has torn any
// kernel down. A no-op if the session is already at `to`.
func (e *Engine) TransitionSession(ctx context.Context, sessionID string, to domain.Status, reason domain.Reason) error {
	return e.transitionSession(ctx, sessionID, to, reason, false)
}

// ForceTransitionSession moves a session directly to `to` regardless of the
// transition table, logging a warning when the table wouldn't otherwise
// allow it. destroy_session's forced=true path is, by spec, authoritative
// over the FSM table for any non-terminal status — the same authority the
// table already grants ERROR's own force-terminate escape hatch.
func (e *Engine) ForceTransitionSession(ctx context.Context, sessionID string, to domain.Status, reason domain.Reason) error {
	return e.transitionSession(ctx, sessionID, to, reason, true)
}

func (e *Engine) transitionSession(ctx context.Context, sessionID string, to domain.Status, reason domain.Reason, force bool) error {
	return e.Store.WithRetryTx(ctx, storage.RetryOpts{}, func(ctx context.Context) error {
		sess, err := e.Store.GetSession(ctx, sessionID, true)
		if err != nil {
			return err
		}
		if sess.Status == to {
			return nil
		}
		if !domain.CanTransition(sess.Status, to) {
			if !force {
				return fmt.Errorf("lifecycle: illegal session transition %s: %s -> %s", sessionID, sess.Status, to)
			}
			e.logger().Warn().Str("session_id", sessionID).
				Str("from", string(sess.Status)).Str("to", string(to)).
				Msg("forced session transition bypasses transition table")
		}
		sess.RecordStatus(to, reason, time.Now())
		return e.Store.UpdateSessionStatus(ctx, sess)
	})
}
