package eventbus

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/backendai/manager/pkg/events"
	"github.com/backendai/manager/pkg/log"
)

// runSubscribeLoop implements the broadcast fan-out mode: unlike the
// consumer-group loop, this process tracks its own independent read
// cursor over the stream, so every process sees every entry rather than
// sharing delivery with the rest of the group.
func (b *Bus) runSubscribeLoop(ctx context.Context) {
	lastID := "$"
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := b.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{StreamName, lastID},
			Count:   64,
			Block:   2 * time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			log.Errorf("eventbus: XRead error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				b.handleBroadcastMessage(msg)
			}
		}
	}
}

func (b *Bus) handleBroadcastMessage(msg redis.XMessage) {
	ev, source, err := parseEnvelope(msg.Values)
	if err != nil {
		observer("unknown", 0, err)
		return
	}

	b.mu.Lock()
	regs := append([]*subscribeReg(nil), b.subscribers[ev.Name()]...)
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
