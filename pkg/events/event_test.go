package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	cases := []Event{
		&KernelStarted{KernelID: "k1", SessionID: "s1"},
		&KernelTerminated{KernelID: "k1", SessionID: "s1", Reason: "FORCE_TERMINATED"},
		&SessionEnqueued{SessionID: "s1", CreationID: "c1"},
		&AgentHeartbeat{AgentID: "a1"},
		&ImagePullFailed{AgentID: "a1", Image: "python:3.11", TaskID: "t1", Detail: "manifest not found"},
	}
	for _, want := range cases {
		got, err := Deserialize(want.Name(), want.Serialize())
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestDeserializeUnknownName(t *testing.T) {
	_, err := Deserialize("no_such_event", nil)
	assert.Error(t, err)
}

func TestDeserializeTruncatedTupleToleratesMissingFields(t *testing.T) {
	// A publisher running an older version of this event (before Detail was
	// added) should still decode: trailing fields come back as empty.
	ev, err := Deserialize("image_pull_failed", [][]byte{[]byte("a1"), []byte("python:3.11")})
	assert.NoError(t, err)
	failed := ev.(*ImagePullFailed)
	assert.Equal(t, "a1", failed.AgentID)
	assert.Equal(t, "python:3.11", failed.Image)
	assert.Equal(t, "", failed.TaskID)
	assert.Equal(t, "", failed.Detail)
}
