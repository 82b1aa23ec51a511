package xpub

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// PublisherConfig associates a message type and publisher name with its
// destination and serialization settings.
type PublisherConfig struct {
	// Name is the logical publisher name. Empty means the message type tag.
	Name string
	// Bus names the transport endpoint. Empty means DefaultBus.
	Bus string
	// PublishTo is the queue, topic or stream name. Required.
	PublishTo string
	// Codec selects a registered codec by name. Empty means "json".
	Codec string
	// Serializer overrides the JSON serializer options for this publisher.
	Serializer *SerializerOptions
	// Mutate runs on every outgoing envelope. Nil means StampSessionKey.
	Mutate EnvelopeMutator
}

func (c PublisherConfig) withDefaults(messageType string) PublisherConfig {
	if c.Name == "" {
		c.Name = messageType
	}
	if c.Bus == "" {
		c.Bus = DefaultBus
	}
	if c.Mutate == nil {
		c.Mutate = StampSessionKey
	}
	return c
}

// Validate checks the invariants that do not depend on a live bus.
func (c PublisherConfig) Validate() error {
	if c.PublishTo == "" {
		return invalidConfig("publisher %q: PublishTo must not be empty", c.Name)
	}
	if c.Serializer != nil && c.Codec != "" && c.Codec != "json" {
		return invalidConfig("publisher %q: serializer options require the json codec, got %q", c.Name, c.Codec)
	}
	return nil
}

func (c PublisherConfig) codec() (Codec, error) {
	switch {
	case c.Serializer != nil:
		return NewJSONCodec(*c.Serializer), nil
	case c.Codec != "":
		return NewCodec(c.Codec)
	default:
		return NewJSONCodec(DefaultSerializerOptions()), nil
	}
}

// PublisherOption configures ambient dependencies of a standalone publisher.
type PublisherOption func(*publisherDeps)

type publisherDeps struct {
	logger    *xlog.Logger
	clock     xclock.Clock
	observers *observerSet
}

// WithPublisherLogger overrides the default xlog logger.
func WithPublisherLogger(l *xlog.Logger) PublisherOption {
	return func(d *publisherDeps) { d.logger = l }
}

// WithPublisherClock overrides the clock used for timestamps and send timings.
func WithPublisherClock(c xclock.Clock) PublisherOption {
	return func(d *publisherDeps) { d.clock = c }
}

// WithPublisherObserver attaches observers in the order given.
func WithPublisherObserver(obs ...Observer) PublisherOption {
	return func(d *publisherDeps) {
		for _, o := range obs {
			d.observers.add(o)
		}
	}
}

// Publisher serializes messages of type T, packs them into a single
// provider-bounded batch and sends it through its Sender. It is safe for
// concurrent use: every Publish call builds its own batch.
type Publisher[T Message] struct {
	name        string
	bus         string
	messageType string
	sender      Sender
	codec       Codec
	mutate      EnvelopeMutator
	clock       xclock.Clock
	logger      *xlog.Logger
	observers   *observerSet
	closeOnce   sync.Once
	closeErr    error
}

// NewPublisher builds a publisher over an open sender. The publisher owns
// the sender and closes it in Close.
func NewPublisher[T Message](sender Sender, cfg PublisherConfig, opts ...PublisherOption) (*Publisher[T], error) {
	if sender == nil {
		return nil, invalidConfig("publisher %q: sender must not be nil", cfg.Name)
	}
	deps := publisherDeps{observers: &observerSet{}}
	for _, o := range opts {
		if o != nil {
			o(&deps)
		}
	}
	return newPublisher[T](sender, cfg, deps)
}

func newPublisher[T Message](sender Sender, cfg PublisherConfig, deps publisherDeps) (*Publisher[T], error) {
	mt := MessageTypeOf[T]()
	cfg = cfg.withDefaults(mt)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := cfg.codec()
	if err != nil {
		return nil, err
	}
	if deps.clock == nil {
		deps.clock = xclock.Default()
	}
	if deps.logger == nil {
		deps.logger = xlog.Default()
	}
	return &Publisher[T]{
		name:        cfg.Name,
		bus:         cfg.Bus,
		messageType: mt,
		sender:      sender,
		codec:       codec,
		mutate:      cfg.Mutate,
		clock:       deps.clock,
		logger: deps.logger.With(
			xlog.Str("bus", cfg.Bus),
			xlog.Str("publisher", cfg.Name),
			xlog.Str("destination", sender.Destination()),
		),
		observers: deps.observers,
	}, nil
}

func (p *Publisher[T]) Name() string        { return p.name }
func (p *Publisher[T]) BusName() string     { return p.bus }
func (p *Publisher[T]) MessageType() string { return p.messageType }
func (p *Publisher[T]) Destination() string { return p.sender.Destination() }
func (p *Publisher[T]) Codec() Codec        { return p.codec }

// Publish sends msgs as one batch, in input order.
//
// The first message that does not fit the provider batch aborts the call
// with TooManyMessagesInBatch before anything is sent. A send error yields
// MessagePublishError with the transport error as cause. Nothing is retried.
// An empty slice succeeds without touching the transport.
func (p *Publisher[T]) Publish(ctx context.Context, msgs []T) Result {
	if len(msgs) == 0 {
		return Ok()
	}
	corr := correlationFor(ctx, msgs)
	ev := Event{
		Bus:           p.bus,
		Publisher:     p.name,
		Destination:   p.sender.Destination(),
		MessageType:   p.messageType,
		CorrelationID: corr,
		Count:         len(msgs),
	}

	if err := ctx.Err(); err != nil {
		return p.canceled(ev, err)
	}
	batch, err := p.sender.CreateBatch(ctx)
	if err != nil {
		return p.sendFailed(ev, corr, "create batch", err)
	}

	for i, m := range msgs {
		if err := ctx.Err(); err != nil {
			return p.canceled(ev, err)
		}
		env, err := p.envelope(m)
		if err != nil {
			ev.Type, ev.Code, ev.Err = PublishDone, CodeMessageSerializationError, err
			p.observers.notify(ev)
			return Fail(CodeMessageSerializationError, fmt.Sprintf("serialize message %d of %d", i+1, len(msgs)), err)
		}
		if !batch.TryAdd(env) {
			ev.Type, ev.Code, ev.Bytes = BatchRejected, CodeTooManyMessagesInBatch, batch.Size()
			p.observers.notify(ev)
			return Fail(CodeTooManyMessagesInBatch, fmt.Sprintf(
				"message %d of %d does not fit in the batch for %q (%d messages, %d bytes accepted)",
				i+1, len(msgs), p.sender.Destination(), batch.Len(), batch.Size()), nil)
		}
	}

	ev.Bytes = batch.Size()
	start := p.clock.Now()
	ev.Type = PublishStart
	p.observers.notify(ev)

	err = p.sender.SendBatch(ctx, batch)
	ev.Duration = p.clock.Since(start)
	if err != nil {
		return p.sendFailed(ev, corr, "send batch", err)
	}

	ev.Type = PublishDone
	p.observers.notify(ev)
	return Ok()
}

// PublishOne publishes a single message as a one-element batch.
func (p *Publisher[T]) PublishOne(ctx context.Context, msg T) Result {
	return p.Publish(ctx, []T{msg})
}

// Close releases the owned sender. It is idempotent.
func (p *Publisher[T]) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.closeErr = p.sender.Close(ctx)
	})
	return p.closeErr
}

func (p *Publisher[T]) envelope(m T) (*Envelope, error) {
	if isNil(m) {
		return nil, fmt.Errorf("%w: nil message", ErrUnsupportedMessage)
	}
	body, err := p.codec.Marshal(m)
	if err != nil {
		return nil, err
	}
	id := m.MessageID()
	if id == "" {
		id = uuid.NewString()
	}
	env := &Envelope{
		ID:            id,
		CorrelationID: m.CorrelationID(),
		Subject:       m.MessageType(),
		ContentType:   p.codec.ContentType(),
		Body:          body,
		ProducedAt:    p.clock.Now(),
	}
	p.mutate(m, env)
	return env, nil
}

func (p *Publisher[T]) canceled(ev Event, err error) Result {
	ev.Type, ev.Code, ev.Err = PublishDone, CodePublishCanceled, err
	p.observers.notify(ev)
	return Fail(CodePublishCanceled, "publish canceled before send", err)
}

func (p *Publisher[T]) sendFailed(ev Event, corr, op string, err error) Result {
	p.logger.Error().
		Err(err).
		Str("correlation_id", corr).
		Str("message_type", p.messageType).
		Msg("xpub: " + op + " failed")
	ev.Type, ev.Code, ev.Err = PublishDone, CodeMessagePublishError, err
	p.observers.notify(ev)
	return Fail(CodeMessagePublishError, fmt.Sprintf("%s: %d messages to %q", op, ev.Count, p.sender.Destination()), err)
}

// PublisherHandle is the type-erased view of a *Publisher[T] the registry groups on.
type PublisherHandle interface {
	Name() string
	BusName() string
	MessageType() string
	Destination() string
	Close(ctx context.Context) error
}

var _ PublisherHandle = (*Publisher[Message])(nil)

func correlationFor[T Message](ctx context.Context, msgs []T) string {
	if id, ok := CorrelationIDFromContext(ctx); ok {
		return id
	}
	if len(msgs) > 0 && !isNil(msgs[0]) {
		return msgs[0].CorrelationID()
	}
	return ""
}

// MessageTypeOf returns the type tag of T, read from its zero value.
func MessageTypeOf[T Message]() string {
	var zero T
	if rt := reflect.TypeOf(zero); rt != nil && rt.Kind() == reflect.Pointer {
		zero = reflect.New(rt.Elem()).Interface().(T)
	}
	if any(zero) == nil {
		return ""
	}
	return zero.MessageType()
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
