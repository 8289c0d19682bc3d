package agentrpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/backendai/manager/pkg/agentcache"
)

func TestInvokeWithoutCachedAgentReturnsTransportError(t *testing.T) {
	pool := NewPool(agentcache.New())
	rpcCtx := pool.Invoke("agent-unknown", "sess-1", 0)

	err := rpcCtx.DestroyKernel(context.Background(), DestroyKernelRequest{KernelID: "k1"})
	assert.Error(t, err)
	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
}

func TestOrderLockReusesSameMutexForSameKey(t *testing.T) {
	pool := NewPool(agentcache.New())
	a := pool.orderLock("sess-1")
	b := pool.orderLock("sess-1")
	assert.Same(t, a, b)

	c := pool.orderLock("sess-2")
	assert.NotSame(t, a, c)
}

func TestOrderLockEmptyKeyIsNoop(t *testing.T) {
	pool := NewPool(agentcache.New())
	assert.Nil(t, pool.orderLock(""))
}
