package eventbus

import (
	"sync"
	"time"

	"github.com/backendai/manager/pkg/events"
)

// coalescer buffers envelopes for one handler registration and flushes
// either when max_batch_size accumulates or max_wait elapses since the
// first buffered event, whichever comes first. Distinct coalescers run
// independently, so flushes for different events never block each other.
type coalescer struct {
	opts  CoalesceOpts
	flush func(batch []events.Envelope)

	mu        sync.Mutex
	buf       []events.Envelope
	timer     *time.Timer
	timerDone bool
}

func newCoalescer(opts CoalesceOpts, flush func(batch []events.Envelope)) *coalescer {
	return &coalescer{opts: opts, flush: flush}
}

// Add appends env to the buffer, flushing immediately if the batch is full
// or arming a wait timer if this is the first buffered event.
func (c *coalescer) Add(env events.Envelope) {
	c.mu.Lock()
	c.buf = append(c.buf, env)
	full := len(c.buf) >= c.opts.effectiveBatchSize()
	first := len(c.buf) == 1
	if full {
		batch := c.buf
		c.buf = nil
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		c.mu.Unlock()
		c.flush(batch)
		return
	}
	if first && c.opts.MaxWait > 0 {
		c.timer = time.AfterFunc(c.opts.MaxWait, c.flushOnTimeout)
	}
	c.mu.Unlock()
}

func (c *coalescer) flushOnTimeout() {
	c.mu.Lock()
	batch := c.buf
	c.buf = nil
	c.timer = nil
	c.mu.Unlock()
	if len(batch) > 0 {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				observer(batch[0].Event.Name(), time.Since(start), errToErr(r))
			}
		}()
		c.flush(batch)
	}
}
