package redisstream

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/trickstertwo/xpub"
)

// Entry is one stream record read back by Read.
type Entry struct {
	// StreamID is the id Redis assigned on XADD ("1700000000000-0").
	StreamID string
	Envelope *xpub.Envelope
}

// encodeEnvelope flattens env into XADD field/value pairs. Metadata keys get
// the meta: prefix so they never collide with the fixed fields.
func encodeEnvelope(env *xpub.Envelope) map[string]any {
	vals := make(map[string]any, 8+len(env.Metadata))
	if env.ID != "" {
		vals[fieldID] = env.ID
	}
	if env.Subject != "" {
		vals[fieldSubject] = env.Subject
	}
	if env.CorrelationID != "" {
		vals[fieldCorrelationID] = env.CorrelationID
	}
	if env.SessionKey != "" {
		vals[fieldSessionKey] = env.SessionKey
	}
	if env.PartitionKey != "" {
		vals[fieldPartitionKey] = env.PartitionKey
	}
	if env.ContentType != "" {
		vals[fieldContentType] = env.ContentType
	}
	vals[fieldBody] = env.Body
	if !env.ProducedAt.IsZero() {
		vals[fieldProducedAt] = env.ProducedAt.UnixNano()
	}
	for k, v := range env.Metadata {
		vals[fieldMetaPrefix+k] = v
	}
	return vals
}

// decodeEnvelope reconstructs an envelope from stream entry values.
func decodeEnvelope(vals map[string]any) *xpub.Envelope {
	env := &xpub.Envelope{}

	for k, v := range vals {
		switch k {
		case fieldID:
			env.ID = asString(v)
		case fieldSubject:
			env.Subject = asString(v)
		case fieldCorrelationID:
			env.CorrelationID = asString(v)
		case fieldSessionKey:
			env.SessionKey = asString(v)
		case fieldPartitionKey:
			env.PartitionKey = asString(v)
		case fieldContentType:
			env.ContentType = asString(v)
		case fieldBody:
			switch p := v.(type) {
			case []byte:
				env.Body = p
			case string:
				env.Body = []byte(p)
			}
		case fieldProducedAt:
			if ns, ok := toInt64(v); ok && ns > 0 {
				env.ProducedAt = time.Unix(0, ns)
			}
		default:
			if strings.HasPrefix(k, fieldMetaPrefix) {
				env.SetMetadata(strings.TrimPrefix(k, fieldMetaPrefix), asString(v))
			}
		}
	}

	return env
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		if n == "" {
			return 0, false
		}
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return int64(f), true
		}
	case []byte:
		return toInt64(string(n))
	}
	return 0, false
}
