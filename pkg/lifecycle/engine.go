// Package lifecycle is the Session Lifecycle Manager: it enforces the
// status transition table over sessions and kernels, aggregates kernel
// status into session status, and emits the derived SessionX/KernelX
// events that the rest of the system reacts to. Every transition commits
// inside a single retrying transaction holding the relevant row locks.
package lifecycle

import (
	"github.com/rs/zerolog"

	"github.com/backendai/manager/pkg/eventbus"
	"github.com/backendai/manager/pkg/log"
	"github.com/backendai/manager/pkg/storage"
)

// Engine is the FSM's handle on persistence and the event bus. One Engine
// per manager process; its UpdatableSet is process-local, which is safe
// because aggregation is idempotent and re-derived entirely from the DB.
type Engine struct {
	Store   *storage.Store
	Bus     *eventbus.Bus
	pending *UpdatableSet
}

// New builds an Engine over an already-open store and bus.
func New(store *storage.Store, bus *eventbus.Bus) *Engine {
	return &Engine{
		Store:   store,
		Bus:     bus,
		pending: NewUpdatableSet(),
	}
}

func (e *Engine) logger() zerolog.Logger {
	return log.WithComponent("lifecycle")
}
