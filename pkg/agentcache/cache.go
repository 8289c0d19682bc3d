// Package agentcache is a process-local map from agent id to its
// last-known network address and public key, used to open short-lived RPC
// contexts without a storage round trip on every call.
package agentcache

import "sync"

// Entry is the cached identity of one agent.
type Entry struct {
	Address   string
	PublicKey []byte
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]Entry)}
}

// Put records or refreshes an agent's identity, called on every heartbeat.
func (c *Cache) Put(agentID string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[agentID] = entry
}

// Get returns the cached identity, or ok=false if the agent isn't cached
// (not yet seen, or invalidated).
func (c *Cache) Get(agentID string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[agentID]
	return e, ok
}

// Invalidate drops an agent's cached identity. Called when an agent is
// marked LOST or TERMINATED, or when its address/public key changes on
// heartbeat (the caller re-Puts the fresh value immediately after).
func (c *Cache) Invalidate(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, agentID)
}

// Changed reports whether a heartbeat-reported address/public key differs
// from what's cached, the trigger condition for cache invalidation in
// handle_heartbeat.
func (c *Cache) Changed(agentID, address string, publicKey []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[agentID]
	if !ok {
		return true
	}
	if e.Address != address {
		return true
	}
	if len(e.PublicKey) != len(publicKey) {
		return true
	}
	for i := range e.PublicKey {
		if e.PublicKey[i] != publicKey[i] {
			return true
		}
	}
	return false
}
