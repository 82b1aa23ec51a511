package xpub

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// ProtobufCodec encodes generated protobuf messages. Message types used with
// it must implement proto.Message in addition to Message.
type ProtobufCodec struct{}

func (ProtobufCodec) Marshal(v any) ([]byte, error) {
	if m, ok := v.(proto.Message); ok {
		return proto.Marshal(m)
	}
	return nil, fmt.Errorf("%w: %T does not implement proto.Message", ErrUnsupportedMessage, v)
}

func (ProtobufCodec) Unmarshal(data []byte, v any) error {
	if m, ok := v.(proto.Message); ok {
		return proto.Unmarshal(data, m)
	}
	return fmt.Errorf("%w: %T does not implement proto.Message", ErrUnsupportedMessage, v)
}

func (ProtobufCodec) Name() string        { return "protobuf" }
func (ProtobufCodec) ContentType() string { return "application/x-protobuf" }
