package eventbus

import (
	"context"
	"fmt"
	"strings"

	"github.com/backendai/manager/pkg/domain"
)

// CounterKind distinguishes the two keypair concurrency counters spec §5
// calls for: ordinary compute sessions (interactive/batch) versus the
// system-reserved pool backing inference sessions.
type CounterKind string

const (
	CounterCompute CounterKind = "compute"
	CounterSystem  CounterKind = "system"
)

// counterKindFor classifies a session type into the counter bucket
// destroy_session/create_session increment and decrement.
func counterKindFor(t domain.SessionType) CounterKind {
	if t == domain.SessionTypeInference {
		return CounterSystem
	}
	return CounterCompute
}

func concurrencyKey(accessKey string, kind CounterKind) string {
	return fmt.Sprintf("keypair.concurrency_used.%s.%s", kind, accessKey)
}

// IncrKeypairConcurrency increments the counter for a newly-enqueued
// session's keypair, used by create_session's enqueue step.
func (b *Bus) IncrKeypairConcurrency(ctx context.Context, accessKey string, sessType domain.SessionType) error {
	return b.client.Incr(ctx, concurrencyKey(accessKey, counterKindFor(sessType))).Err()
}

// DecrKeypairConcurrency decrements the counter exactly once per
// destroy_session call, matching spec §4.5's "exactly once per destroy
// request" requirement.
func (b *Bus) DecrKeypairConcurrency(ctx context.Context, accessKey string, sessType domain.SessionType) error {
	return b.client.Decr(ctx, concurrencyKey(accessKey, counterKindFor(sessType))).Err()
}

// SetKeypairConcurrency overwrites a keypair's counter with an
// authoritative value, used by recalc_resource_usage to recover from
// drift by recomputing from the session rows rather than trusting the
// accumulated INCR/DECR history.
func (b *Bus) SetKeypairConcurrency(ctx context.Context, accessKey string, kind CounterKind, count int64) error {
	return b.client.Set(ctx, concurrencyKey(accessKey, kind), count, 0).Err()
}

// KeypairCounter is one (access key, counter kind) pair's current value, as
// returned by ListKeypairConcurrencyCounters.
type KeypairCounter struct {
	AccessKey string
	Kind      CounterKind
	Count     int64
}

// ListKeypairConcurrencyCounters scans every keypair.concurrency_used.* key
// currently in Redis, used by recalc_resource_usage to find counters for
// keypairs that no longer have any occupancy-relevant session (and so won't
// appear in a freshly recomputed tally) so they can be zeroed instead of
// left at a stale nonzero value.
func (b *Bus) ListKeypairConcurrencyCounters(ctx context.Context) ([]KeypairCounter, error) {
	var (
		cursor  uint64
		out     []KeypairCounter
		pattern = "keypair.concurrency_used.*"
	)
	for {
		keys, next, err := b.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("eventbus: scan keypair concurrency counters: %w", err)
		}
		for _, key := range keys {
			accessKey, kind, ok := parseConcurrencyKey(key)
			if !ok {
				continue
			}
			count, err := b.client.Get(ctx, key).Int64()
			if err != nil {
				return nil, fmt.Errorf("eventbus: read keypair concurrency counter %s: %w", key, err)
			}
			out = append(out, KeypairCounter{AccessKey: accessKey, Kind: kind, Count: count})
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

func parseConcurrencyKey(key string) (accessKey string, kind CounterKind, ok bool) {
	const prefix = "keypair.concurrency_used."
	if !strings.HasPrefix(key, prefix) {
		return "", "", false
	}
	rest := key[len(prefix):]
	i := strings.IndexByte(rest, '.')
	if i < 0 {
		return "", "", false
	}
	return rest[i+1:], CounterKind(rest[:i]), true
}

func imageAgentsKey(imageCanonical string) string {
	return "image.agents." + imageCanonical
}

func agentImagesKey(agentID string) string {
	return "agent.images." + agentID
}

// AddAgentToImageIndex records that agentID now has imageCanonical
// available locally, maintained as a Redis set per spec §5 ("reverse
// image→agents index ... updated on heartbeat (add)"). The mirror set
// keyed by agent lets RemoveAgentFromAllImages undo every membership
// without a full SCAN.
func (b *Bus) AddAgentToImageIndex(ctx context.Context, imageCanonical, agentID string) error {
	if err := b.client.SAdd(ctx, imageAgentsKey(imageCanonical), agentID).Err(); err != nil {
		return fmt.Errorf("eventbus: add agent to image index: %w", err)
	}
	if err := b.client.SAdd(ctx, agentImagesKey(agentID), imageCanonical).Err(); err != nil {
		return fmt.Errorf("eventbus: track agent's image membership: %w", err)
	}
	return nil
}

// RemoveAgentFromAllImages removes agentID from every image set it had
// joined, per spec §5 ("remove-all for that agent" on agent termination).
func (b *Bus) RemoveAgentFromAllImages(ctx context.Context, agentID string) error {
	images, err := b.client.SMembers(ctx, agentImagesKey(agentID)).Result()
	if err != nil {
		return fmt.Errorf("eventbus: list agent's images: %w", err)
	}
	for _, img := range images {
		if err := b.client.SRem(ctx, imageAgentsKey(img), agentID).Err(); err != nil {
			return fmt.Errorf("eventbus: remove agent from image index: %w", err)
		}
	}
	return b.client.Del(ctx, agentImagesKey(agentID)).Err()
}

// AgentsWithImage returns the agent ids that have reported having
// imageCanonical, the candidate set check_and_pull consults before asking
// an agent to pull from a registry.
func (b *Bus) AgentsWithImage(ctx context.Context, imageCanonical string) ([]string, error) {
	return b.client.SMembers(ctx, imageAgentsKey(imageCanonical)).Result()
}

// DrainContainerLog implements DoSyncKernelLogs: it pops up to maxChunks
// entries from the container's Redis log list, concatenates them, and
// deletes the list so the next sync starts clean.
func (b *Bus) DrainContainerLog(ctx context.Context, containerID string, maxChunks int64) (string, error) {
	key := "containerlog." + containerID
	chunks, err := b.client.LRange(ctx, key, 0, maxChunks-1).Result()
	if err != nil {
		return "", fmt.Errorf("eventbus: read container log: %w", err)
	}
	if len(chunks) == 0 {
		return "", nil
	}
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return "", fmt.Errorf("eventbus: clear container log: %w", err)
	}
	var out string
	for _, c := range chunks {
		out += c
	}
	return out, nil
}

// LastKernelStat fetches and clears the most recent resource-usage sample
// an agent reported for a kernel (hash fields such as cpu_used,
// io_read_bytes), persisted to the kernel row by the KernelTerminated
// handler before the kernel's row disappears from active tracking.
func (b *Bus) LastKernelStat(ctx context.Context, kernelID string) (map[string]string, error) {
	key := "kernel.last_stat." + kernelID
	stat, err := b.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("eventbus: read kernel last_stat: %w", err)
	}
	if len(stat) > 0 {
		if err := b.client.Del(ctx, key).Err(); err != nil {
			return nil, fmt.Errorf("eventbus: clear kernel last_stat: %w", err)
		}
	}
	return stat, nil
}
