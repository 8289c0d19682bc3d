// Package events defines the concrete event catalog carried over the
// event bus: one Go type per event name, each able to serialize itself to
// the wire tuple the bus transports and rebuild itself from it.
package events

import (
	"fmt"
)

// Event is anything that can be named, attributed to a source, and
// round-tripped through the bus's length-stable binary tuple encoding.
type Event interface {
	// Name is the stream-level discriminator, e.g. "kernel_started".
	Name() string
	// Serialize returns the event's fields as an ordered byte-tuple.
	Serialize() [][]byte
}

// Source tags who published an event: an agent id, or the literal
// "manager" for manager-originated events.
type Source string

const ManagerSource Source = "manager"

// Envelope is what actually rides the stream: the decoded Event plus its
// source tag, as delivered to a handler.
type Envelope struct {
	Event  Event
	Source Source
}

// Factory builds a zero Event of a given name so Deserialize can populate
// it from the wire tuple. Registered by init() in each event's file.
type Factory func(fields [][]byte) (Event, error)

var registry = map[string]Factory{}

func register(name string, f Factory) {
	registry[name] = f
}

// Deserialize rebuilds a named event from its wire tuple. Decoders tolerate
// a tuple with fewer fields than the current definition expects, reading
// missing trailing fields as zero values, so a manager in the middle of a
// rolling upgrade can still understand events from an older publisher.
func Deserialize(name string, fields [][]byte) (Event, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("events: unknown event name %q", name)
	}
	return f(fields)
}

func field(fields [][]byte, i int) []byte {
	if i < len(fields) {
		return fields[i]
	}
	return nil
}
