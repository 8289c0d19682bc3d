package eventbus

import (
	"context"
	"time"

	"github.com/backendai/manager/pkg/events"
)

// Handler processes one or more coalesced envelopes for a registered event
// name. It runs synchronously: a batch completed by an arriving event is
// handled before that event's group message is acked, while a batch flushed
// by the MaxWait timer is handled after the messages in it were acked.
type Handler func(ctx context.Context, batch []events.Envelope)

// Matcher is an optional predicate over a decoded event; a non-matching
// event is skipped without affecting group acknowledgement.
type Matcher func(ev events.Event) bool

// CoalesceOpts batches a handler's invocations: it fires on whichever of
// MaxBatchSize or MaxWait is reached first. A zero value means "invoke
// immediately, one event per call".
type CoalesceOpts struct {
	MaxWait      time.Duration
	MaxBatchSize int
}

func (o CoalesceOpts) effectiveBatchSize() int {
	if o.MaxBatchSize <= 0 {
		return 1
	}
	return o.MaxBatchSize
}

type consumeReg struct {
	handler  Handler
	matcher  Matcher
	coalesce CoalesceOpts
	buf      *coalescer
}

type subscribeReg struct {
	handler  Handler
	matcher  Matcher
	coalesce CoalesceOpts
	buf      *coalescer
}

// Consume registers a handler in the bus's consumer group: across every
// worker process sharing this group, each published event of this name is
// delivered to exactly one of them.
func (b *Bus) Consume(name string, matcher Matcher, opts CoalesceOpts, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	reg := &consumeReg{handler: h, matcher: matcher, coalesce: opts}
	reg.buf = newCoalescer(opts, func(batch []events.Envelope) { h(context.Background(), batch) })
	b.consumers[name] = append(b.consumers[name], reg)
}

// Subscribe registers a handler that fires on every worker process for
// every matching event (broadcast).
func (b *Bus) Subscribe(name string, matcher Matcher, opts CoalesceOpts, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	reg := &subscribeReg{handler: h, matcher: matcher, coalesce: opts}
	reg.buf = newCoalescer(opts, func(batch []events.Envelope) { h(context.Background(), batch) })
	b.subscribers[name] = append(b.subscribers[name], reg)
}
