// Package es provides core event sourcing interfaces and types.
package es

import (
	"github.com/google/uuid"
)

// Event represents an immutable domain event as read off an append-only
// events table. It carries only the fields a MessageSource needs to
// hand a row to the tracking processor as a track.TrackedEvent.
type Event struct {
	// EventType identifies the type of event
	EventType string

	// Payload contains the event data
	// Store as BYTEA/BLOB for flexibility - allows any serialization format
	Payload []byte

	// GlobalPosition is assigned by the store upon persistence
	// This field is read-only and set after successful append
	GlobalPosition int64

	// AggregateID uniquely identifies the aggregate instance
	AggregateID uuid.UUID
}

// PersistedEvent represents an event that has been stored.
// It includes the GlobalPosition assigned by the event store.
type PersistedEvent struct {
	Event
	// GlobalPosition is guaranteed to be set for persisted events
}
