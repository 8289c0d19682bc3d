// Package registry implements the core's public command surface: the
// create/destroy/restart lifecycle of a session, the thin per-kernel RPC
// wrappers (execute, upload_file, get_logs, ...), agent heartbeat handling,
// and resource-usage reconciliation (RecalcResourceUsage, run after kernel
// termination and forced destroys, not on a timer). It is the layer an
// API frontend (out of scope for this module) calls into; everything here
// assumes its caller has already authenticated the request and resolved
// the keypair.
package registry

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/backendai/manager/pkg/agentcache"
	"github.com/backendai/manager/pkg/agentrpc"
	"github.com/backendai/manager/pkg/config"
	"github.com/backendai/manager/pkg/eventbus"
	"github.com/backendai/manager/pkg/lifecycle"
	"github.com/backendai/manager/pkg/log"
	"github.com/backendai/manager/pkg/network"
	"github.com/backendai/manager/pkg/storage"
	"github.com/backendai/manager/pkg/waiter"
)

// Registry holds every dependency the command handlers need. One instance
// per manager process, shared with pkg/handlers.
type Registry struct {
	Store   *storage.Store
	Engine  *lifecycle.Engine
	Bus     *eventbus.Bus
	Pool    *agentrpc.Pool
	Cache   *agentcache.Cache
	Network *network.Manager
	Waiter   *waiter.Registry
	Config   config.RegistryConfig
	Liveness *Liveness

	// ReadTimeout/WriteTimeout bound the thin-wrapper RPC calls (spec §5:
	// 10s reads, 30s writes).
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New builds a Registry from its already-open dependencies.
func New(store *storage.Store, engine *lifecycle.Engine, bus *eventbus.Bus, pool *agentrpc.Pool, cache *agentcache.Cache, net *network.Manager, w *waiter.Registry, cfg config.RegistryConfig) *Registry {
	return &Registry{
		Store:        store,
		Engine:       engine,
		Bus:          bus,
		Pool:         pool,
		Cache:        cache,
		Network:      net,
		Waiter:       w,
		Config:       cfg,
		Liveness:     NewLiveness(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

func (r *Registry) logger() zerolog.Logger {
	return log.WithComponent("registry")
}

// knownSlots returns r.Config.KnownSlotNames as a set for
// domain.ResourceSlot.Known.
func (r *Registry) knownSlots() map[string]struct{} {
	out := make(map[string]struct{}, len(r.Config.KnownSlotNames))
	for _, name := range r.Config.KnownSlotNames {
		out[name] = struct{}{}
	}
	return out
}
