package eventbus

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/backendai/manager/pkg/domain"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	mr := miniredis.RunT(t)
	bus, err := New(context.Background(), Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestKeypairConcurrencyIncrDecr(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, bus.IncrKeypairConcurrency(ctx, "ak1", domain.SessionTypeInteractive))
	require.NoError(t, bus.IncrKeypairConcurrency(ctx, "ak1", domain.SessionTypeInteractive))
	v, err := bus.client.Get(ctx, concurrencyKey("ak1", CounterCompute)).Int64()
	require.NoError(t, err)
	require.EqualValues(t, 2, v)

	require.NoError(t, bus.DecrKeypairConcurrency(ctx, "ak1", domain.SessionTypeInteractive))
	v, err = bus.client.Get(ctx, concurrencyKey("ak1", CounterCompute)).Int64()
	require.NoError(t, err)
	require.EqualValues(t, 1, v)
}

func TestKeypairConcurrencySystemBucketForInference(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, bus.IncrKeypairConcurrency(ctx, "ak1", domain.SessionTypeInference))
	computeVal, _ := bus.client.Get(ctx, concurrencyKey("ak1", CounterCompute)).Int64()
	systemVal, err := bus.client.Get(ctx, concurrencyKey("ak1", CounterSystem)).Int64()
	require.NoError(t, err)
	require.EqualValues(t, 0, computeVal)
	require.EqualValues(t, 1, systemVal)
}

func TestSetKeypairConcurrencyOverwrites(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, bus.IncrKeypairConcurrency(ctx, "ak1", domain.SessionTypeBatch))
	require.NoError(t, bus.SetKeypairConcurrency(ctx, "ak1", CounterCompute, 7))
	v, err := bus.client.Get(ctx, concurrencyKey("ak1", CounterCompute)).Int64()
	require.NoError(t, err)
	require.EqualValues(t, 7, v)
}

func TestListKeypairConcurrencyCountersReturnsAllSetCounters(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, bus.IncrKeypairConcurrency(ctx, "ak1", domain.SessionTypeInteractive))
	require.NoError(t, bus.IncrKeypairConcurrency(ctx, "ak1", domain.SessionTypeInteractive))
	require.NoError(t, bus.IncrKeypairConcurrency(ctx, "ak2", domain.SessionTypeInference))

	counters, err := bus.ListKeypairConcurrencyCounters(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []KeypairCounter{
		{AccessKey: "ak1", Kind: CounterCompute, Count: 2},
		{AccessKey: "ak2", Kind: CounterSystem, Count: 1},
	}, counters)
}

func TestImageAgentIndexAddAndRemoveAll(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, bus.AddAgentToImageIndex(ctx, "python:3.11", "agent-1"))
	require.NoError(t, bus.AddAgentToImageIndex(ctx, "tensorflow:2", "agent-1"))
	require.NoError(t, bus.AddAgentToImageIndex(ctx, "python:3.11", "agent-2"))

	agents, err := bus.AgentsWithImage(ctx, "python:3.11")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"agent-1", "agent-2"}, agents)

	require.NoError(t, bus.RemoveAgentFromAllImages(ctx, "agent-1"))

	agents, err = bus.AgentsWithImage(ctx, "python:3.11")
	require.NoError(t, err)
	require.Equal(t, []string{"agent-2"}, agents)

	agents, err = bus.AgentsWithImage(ctx, "tensorflow:2")
	require.NoError(t, err)
	require.Empty(t, agents)
}

func TestDrainContainerLogConcatenatesAndClears(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, bus.client.RPush(ctx, "containerlog.c1", "hello ", "world").Err())

	log, err := bus.DrainContainerLog(ctx, "c1", 100)
	require.NoError(t, err)
	require.Equal(t, "hello world", log)

	exists, err := bus.client.Exists(ctx, "containerlog.c1").Result()
	require.NoError(t, err)
	require.Zero(t, exists)
}

func TestDrainContainerLogEmptyListReturnsEmptyString(t *testing.T) {
	bus := newTestBus(t)
	log, err := bus.DrainContainerLog(context.Background(), "no-such-container", 100)
	require.NoError(t, err)
	require.Empty(t, log)
}

func TestLastKernelStatReadsAndClears(t *testing.T) {
	bus := newTestBus(t)
	ctx := context.Background()

	require.NoError(t, bus.client.HSet(ctx, "kernel.last_stat.k1", "cpu_used", "1500").Err())

	stat, err := bus.LastKernelStat(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, "1500", stat["cpu_used"])

	exists, err := bus.client.Exists(ctx, "kernel.last_stat.k1").Result()
	require.NoError(t, err)
	require.Zero(t, exists)
}
