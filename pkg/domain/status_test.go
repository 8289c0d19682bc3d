package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPending, StatusScheduled))
	assert.True(t, CanTransition(StatusPending, StatusCancelled))
	assert.False(t, CanTransition(StatusPending, StatusRunning))
	assert.False(t, CanTransition(StatusTerminated, StatusRunning))
	assert.True(t, CanTransition(StatusError, StatusTerminating))
	assert.True(t, CanTransition(StatusError, StatusTerminated))
	assert.False(t, CanTransition(StatusError, StatusRunning))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StatusTerminated))
	assert.True(t, IsTerminal(StatusCancelled))
	assert.False(t, IsTerminal(StatusError))
	assert.False(t, IsTerminal(StatusRunning))
}

func TestStatusOrder(t *testing.T) {
	assert.True(t, StatusPending.Before(StatusScheduled))
	assert.True(t, StatusScheduled.Before(StatusRunning))
	assert.False(t, StatusRunning.Before(StatusPending))
}

func TestAggregateStatus(t *testing.T) {
	cases := []struct {
		name   string
		in     []Status
		expect Status
	}{
		{"single pending", []Status{StatusPending}, StatusPending},
		{"any error wins", []Status{StatusRunning, StatusError}, StatusError},
		{"all terminated", []Status{StatusTerminated, StatusTerminated}, StatusTerminated},
		{"all cancelled", []Status{StatusCancelled, StatusCancelled}, StatusCancelled},
		{"minimum of mixed", []Status{StatusRunning, StatusPulling, StatusScheduled}, StatusScheduled},
		{"main running sub creating", []Status{StatusRunning, StatusCreating}, StatusCreating},
		{"empty defaults pending", nil, StatusPending},
		{"any terminating wins over pending", []Status{StatusPending, StatusTerminating}, StatusTerminating},
		{"any terminating wins over running", []Status{StatusRunning, StatusTerminating}, StatusTerminating},
		{"mixed terminated and cancelled falls back to terminated", []Status{StatusTerminated, StatusCancelled}, StatusTerminated},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expect, AggregateStatus(c.in))
		})
	}
}
