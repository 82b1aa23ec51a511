package xpub

import (
	"bytes"
	"maps"
	"time"
)

// Message is the capability set every publishable type satisfies.
//
// MessageType returns the type tag used for registry lookup and for the
// envelope subject. It must be constant per Go type and safe to call on the
// zero value, since the registry derives default publisher names from it.
type Message interface {
	MessageID() string
	CorrelationID() string
	MessageType() string
}

// SessionMessage is a Message with session/partition affinity.
type SessionMessage interface {
	Message
	SessionKey() string
}

// Envelope is the wire-level wrapper around an encoded message.
type Envelope struct {
	// ID is the message identity (a UUID is assigned when the message has none).
	ID string
	// CorrelationID links related messages across services.
	CorrelationID string
	// Subject carries the message type tag.
	Subject string
	// SessionKey routes to a single ordered consumer (Service Bus session id, NATS/Redis header).
	SessionKey string
	// PartitionKey selects a partition on partitioned entities.
	PartitionKey string
	// ContentType names the codec that produced Body.
	ContentType string
	// Body is the encoded message.
	Body []byte
	// Metadata is a bag for custom headers.
	Metadata map[string]string
	// ProducedAt is stamped from the publisher clock.
	ProducedAt time.Time
}

// envelopeOverhead approximates the fixed framing cost providers charge per message.
const envelopeOverhead = 64

// Size estimates the number of bytes the envelope occupies inside a batch.
func (e *Envelope) Size() int {
	n := envelopeOverhead + len(e.Body) +
		len(e.ID) + len(e.CorrelationID) + len(e.Subject) +
		len(e.SessionKey) + len(e.PartitionKey) + len(e.ContentType)
	for k, v := range e.Metadata {
		n += len(k) + len(v)
	}
	return n
}

// Clone returns a deep copy; Body and Metadata are not shared with e.
func (e *Envelope) Clone() *Envelope {
	cp := *e
	if e.Body != nil {
		cp.Body = bytes.Clone(e.Body)
	}
	cp.Metadata = maps.Clone(e.Metadata)
	return &cp
}

// SetMetadata sets a header, allocating the map on first use.
func (e *Envelope) SetMetadata(key, value string) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string, 4)
	}
	e.Metadata[key] = value
}

// EnvelopeMutator adjusts an outgoing envelope before it is added to the
// batch. It runs synchronously on the publish path and must not fail for
// valid input.
type EnvelopeMutator func(msg Message, env *Envelope)

// StampSessionKey copies the session key of a SessionMessage onto the
// envelope session and partition keys. It is the default mutator.
func StampSessionKey(msg Message, env *Envelope) {
	sm, ok := msg.(SessionMessage)
	if !ok {
		return
	}
	key := sm.SessionKey()
	if key == "" {
		return
	}
	env.SessionKey = key
	env.PartitionKey = key
}

// ChainMutators runs the given mutators in order, skipping nil entries.
func ChainMutators(mutators ...EnvelopeMutator) EnvelopeMutator {
	return func(msg Message, env *Envelope) {
		for _, m := range mutators {
			if m != nil {
				m(msg, env)
			}
		}
	}
}

// WithHeaders returns a mutator that stamps fixed headers on every envelope.
func WithHeaders(headers map[string]string) EnvelopeMutator {
	return func(_ Message, env *Envelope) {
		for k, v := range headers {
			env.SetMetadata(k, v)
		}
	}
}
