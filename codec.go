package xpub

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"unicode"
)

// Codec is the Strategy for encoding/decoding message bodies on the wire.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
	ContentType() string
}

// CodecFactory constructs codecs via Factory pattern.
type CodecFactory func() Codec

var (
	codecRegistryMu sync.RWMutex
	codecRegistry   = map[string]CodecFactory{
		"json":     func() Codec { return NewJSONCodec(DefaultSerializerOptions()) },
		"msgpack":  func() Codec { return MsgpackCodec{} },
		"protobuf": func() Codec { return ProtobufCodec{} },
	}
)

// RegisterCodec registers a codec factory by name. Re-registering a name replaces it.
func RegisterCodec(name string, factory CodecFactory) error {
	if name == "" {
		return errors.New("xpub: codec name must not be empty")
	}
	if factory == nil {
		return errors.New("xpub: codec factory must not be nil")
	}
	codecRegistryMu.Lock()
	codecRegistry[name] = factory
	codecRegistryMu.Unlock()
	return nil
}

// NewCodec constructs a codec by name or returns an error.
func NewCodec(name string) (Codec, error) {
	codecRegistryMu.RLock()
	f, ok := codecRegistry[name]
	codecRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownCodec{name: name}
	}
	return f(), nil
}

// CodecForContentType finds a registered codec producing the given content type.
func CodecForContentType(contentType string) (Codec, bool) {
	if contentType == "" {
		return nil, false
	}
	codecRegistryMu.RLock()
	defer codecRegistryMu.RUnlock()
	for _, f := range codecRegistry {
		if c := f(); c.ContentType() == contentType {
			return c, true
		}
	}
	return nil, false
}

// NamingPolicy controls how object keys are written by JSONCodec.
type NamingPolicy string

const (
	NamingCamelCase  NamingPolicy = "camelCase"
	NamingAsDeclared NamingPolicy = "asDeclared"
)

// SerializerOptions configures JSONCodec.
type SerializerOptions struct {
	NamingPolicy   NamingPolicy `yaml:"propertyNamingPolicy" json:"propertyNamingPolicy"`
	OmitNullFields bool         `yaml:"omitNullFields" json:"omitNullFields"`
	Indent         bool         `yaml:"indent" json:"indent"`
}

// DefaultSerializerOptions: camelCase keys, nulls omitted, compact output.
func DefaultSerializerOptions() SerializerOptions {
	return SerializerOptions{
		NamingPolicy:   NamingCamelCase,
		OmitNullFields: true,
		Indent:         false,
	}
}

// JSONCodec is the default codec. The naming policy renames struct fields
// that have no explicit json name; tagged fields and map keys are written
// as they are. OmitNullFields drops null struct fields only, so map entries
// with nil values survive a round trip.
type JSONCodec struct {
	opts SerializerOptions
}

func NewJSONCodec(opts SerializerOptions) JSONCodec {
	if opts.NamingPolicy == "" {
		opts.NamingPolicy = NamingAsDeclared
	}
	return JSONCodec{opts: opts}
}

func (c JSONCodec) Options() SerializerOptions { return c.opts }

func (c JSONCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if c.opts.NamingPolicy == NamingCamelCase || c.opts.OmitNullFields {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var tree any
		if err := dec.Decode(&tree); err != nil {
			return nil, err
		}
		if tree, err = rewriteJSON(tree, reflect.ValueOf(v), c.opts); err != nil {
			return nil, err
		}
		if data, err = json.Marshal(tree); err != nil {
			return nil, err
		}
	}
	if c.opts.Indent {
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return data, nil
}

// Unmarshal relies on encoding/json's case-insensitive field matching, so
// camelCased keys land on their declared fields.
func (c JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (JSONCodec) Name() string        { return "json" }
func (JSONCodec) ContentType() string { return "application/json" }

// camelCase lowercases the leading run of upper-case letters, keeping the
// last one when it starts the next word: "OrderID" -> "orderID",
// "URLValue" -> "urlValue", "ID" -> "id".
func camelCase(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	if !unicode.IsUpper(r[0]) {
		return s
	}
	for i := 0; i < len(r); i++ {
		if i == 1 && !unicode.IsUpper(r[i]) {
			break
		}
		hasNext := i+1 < len(r)
		if i > 0 && hasNext && !unicode.IsUpper(r[i+1]) {
			if r[i+1] == ' ' {
				r[i] = unicode.ToLower(r[i])
			}
			break
		}
		r[i] = unicode.ToLower(r[i])
	}
	return string(r)
}
