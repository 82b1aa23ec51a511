package servicebus

import (
	"fmt"

	"github.com/Azure/go-amqp"

	"github.com/trickstertwo/xpub"
)

const (
	annotationPartitionKey = "x-opt-partition-key"

	// batchMessageFormat marks a message whose data sections are encoded
	// messages, accepted by Service Bus as one atomic batch.
	batchMessageFormat uint32 = 0x80013700

	// Encoded size of a data section wrapping one message: descriptor (3),
	// vbin32 constructor (1) and length (4).
	dataSectionOverhead = 8

	// Room kept for the batch message's own properties and annotations.
	batchEnvelopeOverhead = 512
)

// toAMQP maps env onto an AMQP message.
func toAMQP(env *xpub.Envelope) *amqp.Message {
	msg := amqp.NewMessage(env.Body)
	props := &amqp.MessageProperties{}
	if env.ID != "" {
		props.MessageID = env.ID
	}
	if env.CorrelationID != "" {
		props.CorrelationID = env.CorrelationID
	}
	if env.Subject != "" {
		props.Subject = strPtr(env.Subject)
	}
	if env.ContentType != "" {
		props.ContentType = strPtr(env.ContentType)
	}
	if env.SessionKey != "" {
		props.GroupID = strPtr(env.SessionKey)
	}
	if !env.ProducedAt.IsZero() {
		t := env.ProducedAt.UTC()
		props.CreationTime = &t
	}
	msg.Properties = props

	if env.PartitionKey != "" {
		msg.Annotations = amqp.Annotations{annotationPartitionKey: env.PartitionKey}
	}
	if len(env.Metadata) > 0 {
		msg.ApplicationProperties = make(map[string]any, len(env.Metadata))
		for k, v := range env.Metadata {
			msg.ApplicationProperties[k] = v
		}
	}
	return msg
}

// EnvelopeFromAMQP rebuilds an envelope from a received message.
// Non-string application properties are formatted with %v.
func EnvelopeFromAMQP(msg *amqp.Message) *xpub.Envelope {
	env := &xpub.Envelope{}
	if len(msg.Data) > 0 {
		env.Body = msg.Data[0]
	}
	if p := msg.Properties; p != nil {
		env.ID = idString(p.MessageID)
		env.CorrelationID = idString(p.CorrelationID)
		env.Subject = deref(p.Subject)
		env.ContentType = deref(p.ContentType)
		env.SessionKey = deref(p.GroupID)
		if p.CreationTime != nil {
			env.ProducedAt = *p.CreationTime
		}
	}
	if v, ok := msg.Annotations[annotationPartitionKey].(string); ok {
		env.PartitionKey = v
	}
	for k, v := range msg.ApplicationProperties {
		if s, ok := v.(string); ok {
			env.SetMetadata(k, s)
		} else {
			env.SetMetadata(k, fmt.Sprintf("%v", v))
		}
	}
	return env
}

// batchMessage wraps encoded messages into one Service Bus batch message.
// The first message's session and partition key route the batch.
func batchMessage(first *amqp.Message, encoded [][]byte) *amqp.Message {
	out := &amqp.Message{
		Format: batchMessageFormat,
		Data:   encoded,
	}
	if first.Properties != nil {
		out.Properties = &amqp.MessageProperties{
			MessageID: first.Properties.MessageID,
			GroupID:   first.Properties.GroupID,
		}
	}
	if pk, ok := first.Annotations[annotationPartitionKey]; ok {
		out.Annotations = amqp.Annotations{annotationPartitionKey: pk}
	}
	return out
}

// Batch accumulates encoded messages up to the link limit.
type Batch struct {
	maxBytes    int
	maxMessages int

	envs    []*xpub.Envelope
	first   *amqp.Message
	encoded [][]byte
	size    int
}

var _ xpub.Batch = (*Batch)(nil)

func newBatch(maxBytes, maxMessages int) *Batch {
	return &Batch{maxBytes: maxBytes, maxMessages: maxMessages, size: batchEnvelopeOverhead}
}

// TryAdd encodes env and keeps it when the batch stays within bounds.
// An envelope that cannot be encoded is rejected like one that does not fit.
func (b *Batch) TryAdd(env *xpub.Envelope) bool {
	if b.maxMessages > 0 && len(b.envs) >= b.maxMessages {
		return false
	}
	msg := toAMQP(env)
	raw, err := msg.MarshalBinary()
	if err != nil {
		return false
	}
	n := len(raw) + dataSectionOverhead
	if b.maxBytes > 0 && b.size+n > b.maxBytes {
		return false
	}
	if b.first == nil {
		b.first = msg
	}
	b.envs = append(b.envs, env)
	b.encoded = append(b.encoded, raw)
	b.size += n
	return true
}

func (b *Batch) Len() int                    { return len(b.envs) }
func (b *Batch) Size() int                   { return b.size }
func (b *Batch) Envelopes() []*xpub.Envelope { return b.envs }

// message returns what goes on the wire: the single message itself, or a
// batch message for more than one.
func (b *Batch) message() *amqp.Message {
	if len(b.envs) == 1 {
		return b.first
	}
	return batchMessage(b.first, b.encoded)
}

func strPtr(s string) *string { return &s }

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func idString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	default:
		return fmt.Sprintf("%v", id)
	}
}
