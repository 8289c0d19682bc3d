package waiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitResolvesToRegisteredOutcome(t *testing.T) {
	r := New()
	r.Register("sess-1")

	go r.Resolve("sess-1", OutcomeStarted)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Equal(t, OutcomeStarted, r.Wait(ctx, "sess-1"))
}

func TestWaitTimesOutWithoutResolve(t *testing.T) {
	r := New()
	r.Register("sess-2")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, OutcomeTimeout, r.Wait(ctx, "sess-2"))
}

func TestWaitUnregisteredKeyTimesOutImmediately(t *testing.T) {
	r := New()
	ctx := context.Background()
	assert.Equal(t, OutcomeTimeout, r.Wait(ctx, "never-registered"))
}

func TestResolveWithoutWaiterIsNoop(t *testing.T) {
	r := New()
	// No Register call; Resolve should not panic or block.
	r.Resolve("sess-3", OutcomeCancelled)
}

func TestRegisterTwiceReplacesPreviousWaiter(t *testing.T) {
	r := New()
	r.Register("sess-4")
	r.Register("sess-4")

	r.Resolve("sess-4", OutcomeCancelled)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, OutcomeCancelled, r.Wait(ctx, "sess-4"))
}

func TestDeregisterRemovesWaiterWithoutResolving(t *testing.T) {
	r := New()
	r.Register("sess-5")
	r.Deregister("sess-5")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, OutcomeTimeout, r.Wait(ctx, "sess-5"))
}
