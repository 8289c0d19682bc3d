// Package agentrpc is the manager's RPC client to agent nodes: named
// procedure calls over gRPC, dialed per agent address and keyed by an
// opaque order_key so that calls sharing a key (typically a session id)
// are delivered FIFO. The wire format is a JSON codec; the framing and
// transport are gRPC's, but this module does not define any .proto
// contract — only the call semantics the spec requires.
package agentrpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/backendai/manager/pkg/agentcache"
)

// DefaultInvokeTimeout is used when a call site doesn't specify one.
const DefaultInvokeTimeout = 20 * time.Second

// Pool dials and caches one gRPC connection per agent address, and
// maintains the per-order_key FIFO queues used to serialize related calls.
type Pool struct {
	cache *agentcache.Cache

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
	order map[string]*sync.Mutex
}

// NewPool builds a Pool backed by the given agent identity cache.
func NewPool(cache *agentcache.Cache) *Pool {
	return &Pool{
		cache: cache,
		conns: make(map[string]*grpc.ClientConn),
		order: make(map[string]*sync.Mutex),
	}
}

func (p *Pool) connFor(agentID string) (*grpc.ClientConn, error) {
	entry, ok := p.cache.Get(agentID)
	if !ok {
		return nil, &TransportError{AgentID: agentID, Method: "dial", Err: fmt.Errorf("no cached address for agent %s", agentID)}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.conns[agentID]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(entry.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodec{}.Name())),
	)
	if err != nil {
		return nil, &TransportError{AgentID: agentID, Method: "dial", Err: err}
	}
	p.conns[agentID] = conn
	return conn, nil
}

func (p *Pool) orderLock(orderKey string) *sync.Mutex {
	if orderKey == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.order[orderKey]
	if !ok {
		l = &sync.Mutex{}
		p.order[orderKey] = l
	}
	return l
}

// Context is a handle bound to one agent and one order_key on which named
// procedure calls are invoked.
type Context struct {
	pool         *Pool
	agentID      string
	orderKey     string
	invokeTimeout time.Duration
}

// Invoke opens an RPC context for agentID. orderKey, if non-empty, is an
// opaque hint serializing calls that share it (e.g. all RPCs for a
// session id) into FIFO order. A zero invokeTimeout uses
// DefaultInvokeTimeout.
func (p *Pool) Invoke(agentID string, orderKey string, invokeTimeout time.Duration) *Context {
	if invokeTimeout <= 0 {
		invokeTimeout = DefaultInvokeTimeout
	}
	return &Context{pool: p, agentID: agentID, orderKey: orderKey, invokeTimeout: invokeTimeout}
}

// Call fire-and-awaits a named procedure call, translating connection and
// deadline failures into TransportError. If lock is non-nil (orderKey was
// set), it is held for the call's duration to guarantee FIFO delivery
// relative to other calls sharing the same key.
func (c *Context) Call(ctx context.Context, method string, req, resp interface{}) error {
	lock := c.pool.orderLock(c.orderKey)
	if lock != nil {
		lock.Lock()
		defer lock.Unlock()
	}

	conn, err := c.pool.connFor(c.agentID)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.invokeTimeout)
	defer cancel()

	fullMethod := fmt.Sprintf("/backendai.agent.AgentService/%s", method)
	if err := conn.Invoke(callCtx, fullMethod, req, resp); err != nil {
		return &TransportError{AgentID: c.agentID, Method: method, Err: err}
	}
	return nil
}

// Close releases every pooled connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, conn := range p.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
