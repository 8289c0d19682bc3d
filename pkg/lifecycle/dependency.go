package lifecycle

import (
	"context"

	"github.com/backendai/manager/pkg/domain"
)

// successTerminalStatuses are the statuses §4.3's scheduling edge case
// treats as "S1 finished successfully" for dependency gating: TERMINATED
// only. The status reason is not checked, so a session that reached
// TERMINATED with any reason satisfies the edge. A session that lands on
// ERROR or CANCELLED never satisfies a depends_on edge.
var successTerminalStatuses = map[domain.Status]bool{
	domain.StatusTerminated: true,
}

// DependenciesSatisfied reports whether every session sessionID depends on
// has reached a success-terminal status, gating the scheduler tick's
// PENDING -> SCHEDULED transition per §7's dependency scenario.
func (e *Engine) DependenciesSatisfied(ctx context.Context, sessionID string) (bool, error) {
	deps, err := e.Store.ListDependencies(ctx, sessionID)
	if err != nil {
		return false, err
	}
	for _, depID := range deps {
		dep, err := e.Store.GetSession(ctx, depID, false)
		if err != nil {
			return false, err
		}
		if !successTerminalStatuses[dep.Status] {
			return false, nil
		}
	}
	return true, nil
}
