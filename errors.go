package xpub

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable discriminator carried by a Failure.
type ErrorCode string

const (
	// CodeTooManyMessagesInBatch: the provider batch limit was reached before any send.
	CodeTooManyMessagesInBatch ErrorCode = "TooManyMessagesInBatch"
	// CodeMessagePublishError: the transport send failed after it was attempted.
	CodeMessagePublishError ErrorCode = "MessagePublishError"
	// CodeInvalidMessageSchema: an inbound envelope could not be decoded.
	CodeInvalidMessageSchema ErrorCode = "InvalidMessageSchema"
	// CodePublisherNotFound mirrors ErrPublisherNotFound for callers that surface it as a Failure.
	CodePublisherNotFound ErrorCode = "PublisherNotFound"
	// CodeMessageSerializationError: the codec rejected an outgoing message.
	CodeMessageSerializationError ErrorCode = "MessageSerializationError"
	// CodePublishCanceled: ctx was done before the batch was handed to the transport.
	CodePublishCanceled ErrorCode = "PublishCanceled"
	// CodeReadCanceled: ctx was done before an inbound envelope was decoded.
	CodeReadCanceled ErrorCode = "ReadCanceled"
)

var (
	ErrPublisherNotFound     = errors.New("xpub: publisher not found")
	ErrInvalidConfig         = errors.New("xpub: invalid configuration")
	ErrNoBusConfigured       = errors.New("xpub: no bus configured")
	ErrTransportClosed       = errors.New("xpub: transport closed")
	ErrSenderClosed          = errors.New("xpub: sender closed")
	ErrForeignBatch          = errors.New("xpub: batch was not created by this sender")
	ErrMessageTooLarge       = errors.New("xpub: message exceeds the transport size limit")
	ErrUnsupportedMessage    = errors.New("xpub: value not supported by codec")
	ErrNilHandler            = errors.New("xpub: match handler must not be nil")
	// ErrJSONNameConflict: two struct fields would serialize under names a
	// decoder cannot tell apart after renaming.
	ErrJSONNameConflict = errors.New("xpub: json property names collide after renaming")

	ErrObserverPoolShutdownTimeout = errors.New("xpub: observer pool shutdown timeout")
)

// ErrUnknownTransport is returned when a bus names a transport nobody registered.
type ErrUnknownTransport struct{ name string }

func (e ErrUnknownTransport) Error() string { return fmt.Sprintf("xpub: unknown transport: %s", e.name) }

// ErrUnknownCodec is returned when a publisher names a codec nobody registered.
type ErrUnknownCodec struct{ name string }

func (e ErrUnknownCodec) Error() string { return fmt.Sprintf("xpub: codec %q not registered", e.name) }

// PublisherNotFoundError reports a registry lookup for a (bus, name, type)
// combination that was never registered, or was registered for another type.
type PublisherNotFoundError struct {
	Bus         string
	Name        string
	MessageType string
}

func (e *PublisherNotFoundError) Error() string {
	return fmt.Sprintf("xpub: no publisher %q for message type %q on bus %q", e.Name, e.MessageType, e.Bus)
}

func (e *PublisherNotFoundError) Is(target error) bool { return target == ErrPublisherNotFound }

func invalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
