package xpub

import (
	"time"
)

// EventType enumerates publisher lifecycle events for the Observer pattern.
type EventType string

const (
	PublishStart    EventType = "publish_start"
	PublishDone     EventType = "publish_done"
	BatchRejected   EventType = "batch_rejected"
	ReadDone        EventType = "read_done"
	ReadFailed      EventType = "read_failed"
	RegistryBuilt   EventType = "registry_built"
	DuplicateIgnore EventType = "duplicate_ignored"
)

// Event carries telemetry for observers.
type Event struct {
	Type        EventType
	Bus         string
	Publisher   string
	Destination string
	MessageType string
	// CorrelationID is the id carried on ctx, or the first message's.
	CorrelationID string
	// Count is the number of messages in the publish call.
	Count    int
	Bytes    int
	Duration time.Duration
	// Code is set on failure events.
	Code ErrorCode
	Err  error
}
