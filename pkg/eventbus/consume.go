package eventbus

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/backendai/manager/pkg/events"
	"github.com/backendai/manager/pkg/log"
)

// FailureObserver is notified whenever a handler panics or the envelope
// fails to decode; it never affects acknowledgement.
type FailureObserver func(eventName string, duration time.Duration, err error)

// observer is invoked on handler failures; handlers needing retry must
// re-publish the event themselves, the bus never retries.
var observer FailureObserver = func(eventName string, duration time.Duration, err error) {
	log.Errorf("eventbus: handler failed for %s after %s: %v", eventName, duration, err)
}

// SetFailureObserver overrides the package-wide handler failure observer.
func SetFailureObserver(o FailureObserver) {
	if o != nil {
		observer = o
	}
}

func (b *Bus) runConsumerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.groupName,
			Consumer: b.consumerID,
			Streams:  []string{StreamName, ">"},
			Count:    64,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			log.Errorf("eventbus: XReadGroup error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				b.handleGroupMessage(ctx, msg)
			}
		}
	}
}

func (b *Bus) handleGroupMessage(ctx context.Context, msg redis.XMessage) {
	// Always ack: the bus does not retry failed or unmatched deliveries.
	defer func() {
		_ = b.client.XAck(ctx, StreamName, b.groupName, msg.ID)
	}()

	ev, source, err := parseEnvelope(msg.Values)
	if err != nil {
		observer("unknown", 0, err)
		return
	}

	b.mu.Lock()
	regs := append([]*consumeReg(nil), b.consumers[ev.Name()]...)
	b.mu.Unlock()

	env := events.Envelope{Event: ev, Source: source}
	start := time.Now()
	for _, reg := range regs {
		if reg.matcher != nil && !reg.matcher(ev) {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					observer(ev.Name(), time.Since(start), errToErr(r))
				}
			}()
			reg.buf.Add(env)
		}()
	}
}

func errToErr(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return errors.New("eventbus: handler panic")
}
