// Package waiter implements the bounded wait create_session performs after
// enqueuing a session: a caller can block for up to max_wait_seconds for the
// session to leave PENDING, and gets back "TIMEOUT" rather than an error if
// it doesn't, without cancelling the enqueue itself. The teacher's
// pkg/events Broker is a fire-and-forget broadcast to every subscriber;
// a wait here is keyed and answered exactly once, so this registry holds
// one single-slot channel per creation id instead of a fan-out channel set.
package waiter

import (
	"context"
	"sync"
)

// Outcome is what a registered wait resolves to.
type Outcome string

const (
	OutcomeStarted   Outcome = "STARTED"
	OutcomeCancelled Outcome = "CANCELLED"
	OutcomeTimeout   Outcome = "TIMEOUT"
)

// Registry is a LifecycleWaiterRegistry: a set of single-fire waiters keyed
// by creation id (a session id, in practice). Registering a key twice
// replaces the former waiter; Resolve is a no-op for an unregistered key,
// which happens whenever the caller already gave up and deregistered.
type Registry struct {
	mu      sync.Mutex
	waiters map[string]chan Outcome
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{waiters: make(map[string]chan Outcome)}
}

// Register opens a new wait slot for key, replacing any previous one.
func (r *Registry) Register(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waiters[key] = make(chan Outcome, 1)
}

// Resolve delivers outcome to key's waiter, if one is registered. Safe to
// call even if nobody is waiting (handlers always call this unconditionally
// on SessionStarted/Cancelled; most of the time no command is blocked on it).
func (r *Registry) Resolve(key string, outcome Outcome) {
	r.mu.Lock()
	ch, ok := r.waiters[key]
	if ok {
		delete(r.waiters, key)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- outcome:
	default:
	}
}

// Wait blocks until key resolves, ctx is cancelled, or ctx's deadline (the
// caller's max_wait_seconds) passes. A ctx deadline expiring yields
// OutcomeTimeout, not an error: the enqueued session is left running and a
// later poll or event will still observe its real outcome.
func (r *Registry) Wait(ctx context.Context, key string) Outcome {
	r.mu.Lock()
	ch, ok := r.waiters[key]
	r.mu.Unlock()
	if !ok {
		return OutcomeTimeout
	}
	select {
	case outcome := <-ch:
		return outcome
	case <-ctx.Done():
		return OutcomeTimeout
	}
}

// Deregister removes key's wait slot without resolving it, for a caller
// that stops waiting on its own (e.g. a client disconnect) before any
// outcome arrived.
func (r *Registry) Deregister(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiters, key)
}
