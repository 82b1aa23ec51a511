package natsbus

import (
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/trickstertwo/xpub"
)

// Header names carrying envelope fields.
const (
	HeaderMessageID     = "Nats-Msg-Id"
	HeaderCorrelationID = "Xpub-Correlation-Id"
	HeaderSubject       = "Xpub-Subject"
	HeaderSessionKey    = "Xpub-Session-Key"
	HeaderPartitionKey  = "Xpub-Partition-Key"
	HeaderContentType   = "Content-Type"
	HeaderProducedAt    = "Xpub-Produced-At"
	HeaderMetaPrefix    = "Xpub-Meta-"
)

// toMsg maps env onto a NATS message for subject.
func toMsg(subject string, env *xpub.Envelope) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = env.Body

	set := func(k, v string) {
		if v != "" {
			msg.Header.Set(k, v)
		}
	}
	set(HeaderMessageID, env.ID)
	set(HeaderCorrelationID, env.CorrelationID)
	set(HeaderSubject, env.Subject)
	set(HeaderSessionKey, env.SessionKey)
	set(HeaderPartitionKey, env.PartitionKey)
	set(HeaderContentType, env.ContentType)
	if !env.ProducedAt.IsZero() {
		msg.Header.Set(HeaderProducedAt, env.ProducedAt.UTC().Format(time.RFC3339Nano))
	}
	for k, v := range env.Metadata {
		msg.Header.Set(HeaderMetaPrefix+k, v)
	}
	return msg
}

// EnvelopeFromMsg rebuilds an envelope from a message published by this
// transport. Unknown headers are ignored.
func EnvelopeFromMsg(msg *nats.Msg) *xpub.Envelope {
	env := &xpub.Envelope{Body: msg.Data}
	for k, vs := range msg.Header {
		if len(vs) == 0 {
			continue
		}
		v := vs[0]
		switch k {
		case HeaderMessageID:
			env.ID = v
		case HeaderCorrelationID:
			env.CorrelationID = v
		case HeaderSubject:
			env.Subject = v
		case HeaderSessionKey:
			env.SessionKey = v
		case HeaderPartitionKey:
			env.PartitionKey = v
		case HeaderContentType:
			env.ContentType = v
		case HeaderProducedAt:
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				env.ProducedAt = t
			}
		default:
			if strings.HasPrefix(k, HeaderMetaPrefix) {
				env.SetMetadata(strings.TrimPrefix(k, HeaderMetaPrefix), v)
			}
		}
	}
	return env
}
