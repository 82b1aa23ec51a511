package servicebus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Azure/go-amqp"

	"github.com/trickstertwo/xpub"
)

const TransportName = "azure-servicebus"

func init() {
	if err := xpub.RegisterTransport(TransportName, func(ctx context.Context, cfg map[string]any) (xpub.Transport, error) {
		return NewTransport(ctx, ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xpub/servicebus: failed to register transport: %w", err))
	}
}

// Transport holds one AMQP connection and session to a namespace. Each
// sender is one AMQP link.
type Transport struct {
	cfg     Config
	conn    *amqp.Conn
	session *amqp.Session

	mu      sync.Mutex
	senders map[*sender]struct{}

	closed atomic.Bool

	batches       atomic.Uint64
	published     atomic.Uint64
	publishErrors atomic.Uint64
}

var _ xpub.Transport = (*Transport)(nil)

// NewTransport dials the namespace named by the connection string.
func NewTransport(ctx context.Context, cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", xpub.ErrInvalidConfig, err)
	}
	cs, _ := ParseConnectionString(cfg.ConnectionString)

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}

	conn, err := amqp.Dial(ctx, cs.Address(), &amqp.ConnOptions{
		SASLType: amqp.SASLTypePlain(cs.KeyName, cs.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("servicebus: dial %s: %w", cs.Host, err)
	}
	session, err := conn.NewSession(ctx, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("servicebus: open session: %w", err)
	}
	return &Transport{
		cfg:     cfg,
		conn:    conn,
		session: session,
		senders: make(map[*sender]struct{}),
	}, nil
}

// NewSender opens a sending link to a queue or topic.
func (t *Transport) NewSender(ctx context.Context, entity string) (xpub.Sender, error) {
	if t.closed.Load() {
		return nil, xpub.ErrTransportClosed
	}
	if entity == "" {
		return nil, fmt.Errorf("xpub/servicebus: entity must not be empty")
	}
	link, err := t.session.NewSender(ctx, entity, nil)
	if err != nil {
		return nil, fmt.Errorf("servicebus: open sender %q: %w", entity, err)
	}
	s := &sender{t: t, entity: entity, link: link}
	t.mu.Lock()
	t.senders[s] = struct{}{}
	t.mu.Unlock()
	return s, nil
}

// Close closes open links, then the session and connection.
func (t *Transport) Close(ctx context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	open := make([]*sender, 0, len(t.senders))
	for s := range t.senders {
		open = append(open, s)
	}
	t.mu.Unlock()
	for _, s := range open {
		_ = s.Close(ctx)
	}
	_ = t.session.Close(ctx)
	return t.conn.Close()
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

type sender struct {
	t      *Transport
	entity string
	link   *amqp.Sender

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

func (s *sender) Destination() string { return s.entity }

// maxBytes is the smaller of the configured bound and the link limit.
func (s *sender) maxBytes() int {
	limit := s.t.cfg.MaxBatchBytes
	if linkMax := s.link.MaxMessageSize(); linkMax > 0 && (limit <= 0 || uint64(limit) > linkMax) {
		limit = int(linkMax)
	}
	return limit
}

func (s *sender) CreateBatch(_ context.Context) (xpub.Batch, error) {
	if s.closed.Load() {
		return nil, xpub.ErrSenderClosed
	}
	return newBatch(s.maxBytes(), s.t.cfg.MaxBatchMessages), nil
}

func (s *sender) SendBatch(ctx context.Context, batch xpub.Batch) error {
	if s.closed.Load() {
		return xpub.ErrSenderClosed
	}
	b, ok := batch.(*Batch)
	if !ok {
		return xpub.ErrForeignBatch
	}
	if b.Len() == 0 {
		return nil
	}
	if err := s.link.Send(ctx, b.message(), nil); err != nil {
		s.t.publishErrors.Add(uint64(b.Len()))
		return fmt.Errorf("servicebus: send to %q: %w", s.entity, err)
	}
	s.t.published.Add(uint64(b.Len()))
	s.t.batches.Add(1)
	return nil
}

func (s *sender) Send(ctx context.Context, env *xpub.Envelope) error {
	if s.closed.Load() {
		return xpub.ErrSenderClosed
	}
	b := newBatch(s.maxBytes(), 1)
	if !b.TryAdd(env) {
		return xpub.ErrMessageTooLarge
	}
	return s.SendBatch(ctx, b)
}

func (s *sender) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.t.mu.Lock()
		delete(s.t.senders, s)
		s.t.mu.Unlock()
		s.closeErr = s.link.Close(ctx)
	})
	return s.closeErr
}
