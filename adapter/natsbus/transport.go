package natsbus

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/trickstertwo/xpub"
)

const TransportName = "nats"

func init() {
	if err := xpub.RegisterTransport(TransportName, func(_ context.Context, cfg map[string]any) (xpub.Transport, error) {
		return NewTransport(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xpub/natsbus: failed to register transport: %w", err))
	}
}

// Transport publishes envelopes to NATS subjects over one connection.
type Transport struct {
	cfg  Config
	conn *nats.Conn
	own  bool

	closed atomic.Bool

	batches       atomic.Uint64
	published     atomic.Uint64
	publishErrors atomic.Uint64
}

var _ xpub.Transport = (*Transport)(nil)

// NewTransport connects to NATS.
func NewTransport(cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", xpub.ErrInvalidConfig, err)
	}
	conn, err := nats.Connect(cfg.URL, cfg.options()...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Transport{cfg: cfg, conn: conn, own: true}, nil
}

// NewTransportWithConn wraps a connection owned by the caller; Close leaves
// it open.
func NewTransportWithConn(cfg Config, conn *nats.Conn) *Transport {
	return &Transport{cfg: cfg, conn: conn}
}

// Conn exposes the underlying connection.
func (t *Transport) Conn() *nats.Conn { return t.conn }

func (t *Transport) NewSender(_ context.Context, subject string) (xpub.Sender, error) {
	if t.closed.Load() {
		return nil, xpub.ErrTransportClosed
	}
	if subject == "" {
		return nil, fmt.Errorf("xpub/natsbus: subject must not be empty")
	}
	return &sender{t: t, subject: subject}, nil
}

// Close drains the connection when the transport owns it.
func (t *Transport) Close(_ context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}
	if !t.own {
		return nil
	}
	if err := t.conn.Drain(); err != nil {
		t.conn.Close()
		return err
	}
	return nil
}

// Stats returns transport telemetry.
type Stats struct {
	Batches       uint64
	Published     uint64
	PublishErrors uint64
}

func (t *Transport) Stats() Stats {
	return Stats{
		Batches:       t.batches.Load(),
		Published:     t.published.Load(),
		PublishErrors: t.publishErrors.Load(),
	}
}

// maxPayload is the server limit for one message, 0 when unknown.
func (t *Transport) maxPayload() int {
	return int(t.conn.MaxPayload())
}

func (t *Transport) publish(ctx context.Context, subject string, envs []*xpub.Envelope) error {
	if t.closed.Load() {
		return xpub.ErrTransportClosed
	}
	for _, env := range envs {
		if err := t.conn.PublishMsg(toMsg(subject, env)); err != nil {
			t.publishErrors.Add(uint64(len(envs)))
			return fmt.Errorf("failed to publish to %s: %w", subject, err)
		}
	}
	fctx := ctx
	if _, ok := ctx.Deadline(); !ok && t.cfg.FlushTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, t.cfg.FlushTimeout)
		defer cancel()
	}
	if err := t.conn.FlushWithContext(fctx); err != nil {
		t.publishErrors.Add(uint64(len(envs)))
		return fmt.Errorf("failed to flush: %w", err)
	}
	t.published.Add(uint64(len(envs)))
	return nil
}

// payloadBatch adds the per-message server limit to SizedBatch.
type payloadBatch struct {
	*xpub.SizedBatch
	maxPayload int
}

func (b *payloadBatch) TryAdd(env *xpub.Envelope) bool {
	if b.maxPayload > 0 && env.Size() > b.maxPayload {
		return false
	}
	return b.SizedBatch.TryAdd(env)
}

type sender struct {
	t       *Transport
	subject string
	closed  atomic.Bool
}

func (s *sender) Destination() string { return s.subject }

func (s *sender) CreateBatch(_ context.Context) (xpub.Batch, error) {
	if s.closed.Load() {
		return nil, xpub.ErrSenderClosed
	}
	return &payloadBatch{
		SizedBatch: xpub.NewSizedBatch(s.t.cfg.MaxBatchBytes, s.t.cfg.MaxBatchMessages),
		maxPayload: s.t.maxPayload(),
	}, nil
}

func (s *sender) SendBatch(ctx context.Context, batch xpub.Batch) error {
	if s.closed.Load() {
		return xpub.ErrSenderClosed
	}
	if _, ok := batch.(*payloadBatch); !ok {
		return xpub.ErrForeignBatch
	}
	if err := s.t.publish(ctx, s.subject, batch.Envelopes()); err != nil {
		return err
	}
	s.t.batches.Add(1)
	return nil
}

func (s *sender) Send(ctx context.Context, env *xpub.Envelope) error {
	if s.closed.Load() {
		return xpub.ErrSenderClosed
	}
	if mp := s.t.maxPayload(); mp > 0 && env.Size() > mp {
		return xpub.ErrMessageTooLarge
	}
	return s.t.publish(ctx, s.subject, []*xpub.Envelope{env})
}

func (s *sender) Close(_ context.Context) error {
	s.closed.Store(true)
	return nil
}

// Subscription reads envelopes published on a subject.
type Subscription struct {
	sub *nats.Subscription
}

// Subscribe opens a synchronous subscription on subject, mainly for tools
// and tests that read back what publishers sent.
func (t *Transport) Subscribe(subject string) (*Subscription, error) {
	if t.closed.Load() {
		return nil, xpub.ErrTransportClosed
	}
	sub, err := t.conn.SubscribeSync(subject)
	if err != nil {
		return nil, err
	}
	return &Subscription{sub: sub}, nil
}

// Next blocks until the next envelope arrives or ctx is done.
func (s *Subscription) Next(ctx context.Context) (*xpub.Envelope, error) {
	msg, err := s.sub.NextMsgWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return EnvelopeFromMsg(msg), nil
}

func (s *Subscription) Close() error {
	return s.sub.Unsubscribe()
}
