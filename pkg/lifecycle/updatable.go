package lifecycle

import "sync"

// UpdatableSet is a deduplicated set of session ids whose aggregate status
// may need recomputing. Event handlers register a session id here whenever
// they mutate one of its kernels; the set is drained after each event batch
// (and on each scheduler tick) so a session with many kernel mutations in
// flight is only re-aggregated once per drain instead of once per mutation.
type UpdatableSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewUpdatableSet returns an empty set.
func NewUpdatableSet() *UpdatableSet {
	return &UpdatableSet{ids: make(map[string]struct{})}
}

// Add registers a session id for recomputation.
func (u *UpdatableSet) Add(sessionID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ids[sessionID] = struct{}{}
}

// DrainAll empties the set and returns the ids it held, in no particular
// order. Concurrent Add calls made during the drain land in the next
// drain, not this one, since they race the mutex against the swap below.
func (u *UpdatableSet) DrainAll() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(u.ids))
	for id := range u.ids {
		out = append(out, id)
	}
	u.ids = make(map[string]struct{})
	return out
}
