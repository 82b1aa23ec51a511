package xpub

import (
	"bytes"
	"context"
	"fmt"
	"reflect"

	"github.com/trickstertwo/xlog"
)

var jsonNull = []byte("null")

// Reader decodes inbound envelopes into T.
type Reader[T Message] struct {
	codec       Codec
	negotiate   bool
	messageType string
	logger      *xlog.Logger
	observers   *observerSet
}

// ReaderOption configures a Reader.
type ReaderOption func(*readerOptions)

type readerOptions struct {
	codec     Codec
	negotiate bool
	logger    *xlog.Logger
	observers []Observer
}

// WithReaderCodec fixes the codec instead of the default JSON codec.
func WithReaderCodec(c Codec) ReaderOption {
	return func(o *readerOptions) { o.codec = c }
}

// WithReaderSerializer uses a JSON codec with the given options.
func WithReaderSerializer(opts SerializerOptions) ReaderOption {
	return func(o *readerOptions) { o.codec = NewJSONCodec(opts) }
}

// WithContentTypeNegotiation picks the codec from the envelope content type
// when a registered codec matches it, falling back to the configured one.
func WithContentTypeNegotiation() ReaderOption {
	return func(o *readerOptions) { o.negotiate = true }
}

func WithReaderLogger(l *xlog.Logger) ReaderOption {
	return func(o *readerOptions) { o.logger = l }
}

func WithReaderObserver(obs ...Observer) ReaderOption {
	return func(o *readerOptions) { o.observers = append(o.observers, obs...) }
}

// NewReader returns a Reader using the same default serializer options as
// publishers unless configured otherwise.
func NewReader[T Message](opts ...ReaderOption) *Reader[T] {
	o := readerOptions{}
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	if o.codec == nil {
		o.codec = NewJSONCodec(DefaultSerializerOptions())
	}
	if o.logger == nil {
		o.logger = xlog.Default()
	}
	set := &observerSet{}
	for _, obs := range o.observers {
		set.add(obs)
	}
	mt := MessageTypeOf[T]()
	return &Reader[T]{
		codec:       o.codec,
		negotiate:   o.negotiate,
		messageType: mt,
		logger:      o.logger.With(xlog.Str("message_type", mt)),
		observers:   set,
	}
}

// Read decodes env. A decode error, an empty body or a null result yields
// InvalidMessageSchema; Read never panics on malformed input.
func (r *Reader[T]) Read(ctx context.Context, env *Envelope) (res ValueResult[T]) {
	ev := Event{Type: ReadDone, MessageType: r.messageType, Count: 1}
	if id, ok := CorrelationIDFromContext(ctx); ok {
		ev.CorrelationID = id
	}
	defer func() {
		if rec := recover(); rec != nil {
			res = r.invalid(ev, env, "decoder panicked", fmt.Errorf("%v", rec))
		}
	}()

	if err := ctx.Err(); err != nil {
		return r.fail(ev, env, CodeReadCanceled, "read canceled", err)
	}
	if env == nil || len(env.Body) == 0 {
		return r.invalid(ev, env, "empty message body", nil)
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = env.CorrelationID
	}
	ev.Bytes = len(env.Body)

	codec := r.codec
	if r.negotiate && env.ContentType != "" && env.ContentType != codec.ContentType() {
		if c, ok := CodecForContentType(env.ContentType); ok {
			codec = c
		}
	}

	if codec.ContentType() == "application/json" && bytes.Equal(bytes.TrimSpace(env.Body), jsonNull) {
		return r.invalid(ev, env, "body decoded to null", nil)
	}
	v, err := decodeInto[T](codec, env.Body)
	if err != nil {
		return r.invalid(ev, env, "decode "+codec.Name()+" body", err)
	}
	if isNil(v) {
		return r.invalid(ev, env, "body decoded to null", nil)
	}
	r.observers.notify(ev)
	return OkValue(v)
}

// ReadAll decodes envelopes in order, returning one result per envelope.
func (r *Reader[T]) ReadAll(ctx context.Context, envs []*Envelope) []ValueResult[T] {
	out := make([]ValueResult[T], 0, len(envs))
	for _, env := range envs {
		out = append(out, r.Read(ctx, env))
	}
	return out
}

func (r *Reader[T]) invalid(ev Event, env *Envelope, msg string, cause error) ValueResult[T] {
	return r.fail(ev, env, CodeInvalidMessageSchema, msg, cause)
}

func (r *Reader[T]) fail(ev Event, env *Envelope, code ErrorCode, msg string, cause error) ValueResult[T] {
	id := ""
	if env != nil {
		id = env.ID
		if ev.CorrelationID == "" {
			ev.CorrelationID = env.CorrelationID
		}
	}
	r.logger.Warn().Err(cause).Str("message_id", id).Str("code", string(code)).Msg("xpub: " + msg)
	ev.Type, ev.Code, ev.Err = ReadFailed, code, cause
	r.observers.notify(ev)
	return FailValue[T](code, msg, cause)
}

// decodeInto allocates pointer targets so codecs that need a concrete value
// (protobuf) receive one.
func decodeInto[T any](c Codec, data []byte) (T, error) {
	var v T
	if rt := reflect.TypeOf(v); rt != nil && rt.Kind() == reflect.Pointer {
		pv := reflect.New(rt.Elem())
		if err := c.Unmarshal(data, pv.Interface()); err != nil {
			return v, err
		}
		return pv.Interface().(T), nil
	}
	if err := c.Unmarshal(data, &v); err != nil {
		return v, err
	}
	return v, nil
}

// Decode unmarshals env.Body into T with the given codec (JSON defaults when nil).
func Decode[T any](c Codec, env *Envelope) (T, error) {
	if c == nil {
		c = NewJSONCodec(DefaultSerializerOptions())
	}
	return decodeInto[T](c, env.Body)
}
