package events

import "marketd/core/types"

// Event represents a structured state change emitted by the marketplace.
type Event interface {
	EventType() string
}

// PayloadEvent is implemented by events that can render themselves into the
// wire-level representation consumed by RPC and the websocket stream.
type PayloadEvent interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
