package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/backendai/manager/pkg/events"
)

func TestCoalescerFlushesOnBatchSize(t *testing.T) {
	var mu sync.Mutex
	var flushed []events.Envelope
	c := newCoalescer(CoalesceOpts{MaxBatchSize: 2}, func(batch []events.Envelope) {
		mu.Lock()
		flushed = append(flushed, batch...)
		mu.Unlock()
	})

	c.Add(events.Envelope{Event: &events.KernelStarted{KernelID: "k1"}})
	mu.Lock()
	assert.Empty(t, flushed)
	mu.Unlock()

	c.Add(events.Envelope{Event: &events.KernelStarted{KernelID: "k2"}})
	mu.Lock()
	assert.Len(t, flushed, 2)
	mu.Unlock()
}

func TestCoalescerFlushesOnMaxWait(t *testing.T) {
	done := make(chan []events.Envelope, 1)
	c := newCoalescer(CoalesceOpts{MaxBatchSize: 100, MaxWait: 20 * time.Millisecond}, func(batch []events.Envelope) {
		done <- batch
	})
	c.Add(events.Envelope{Event: &events.KernelStarted{KernelID: "k1"}})

	select {
	case batch := <-done:
		assert.Len(t, batch, 1)
	case <-time.After(time.Second):
		t.Fatal("coalescer did not flush within max_wait")
	}
}

func TestCoalescerDefaultFlushesImmediately(t *testing.T) {
	var got []events.Envelope
	c := newCoalescer(CoalesceOpts{}, func(batch []events.Envelope) {
		got = batch
	})
	c.Add(events.Envelope{Event: &events.KernelStarted{KernelID: "k1"}})
	assert.Len(t, got, 1)
}
