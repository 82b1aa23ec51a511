package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xpub"
)

const TransportName = "memory"

func init() {
	if err := xpub.RegisterTransport(TransportName, func(_ context.Context, cfg map[string]any) (xpub.Transport, error) {
		return NewTransport(ConfigFromMap(cfg)), nil
	}); err != nil {
		panic(fmt.Errorf("xpub/memory: failed to register transport: %w", err))
	}
}

// DefaultMaxBatchBytes matches the Service Bus standard tier message limit.
const DefaultMaxBatchBytes = 256 * 1024

// Config controls memory transport behavior.
type Config struct {
	// MaxBatchBytes bounds one batch (default: 256 KiB).
	MaxBatchBytes int
	// MaxBatchMessages bounds the envelope count of one batch (default: 0 = unbounded).
	MaxBatchMessages int
}

func ConfigFromMap(cfg map[string]any) Config {
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return d
		}
	}
	return Config{
		MaxBatchBytes:    getInt("max_batch_bytes", DefaultMaxBatchBytes),
		MaxBatchMessages: getInt("max_batch_messages", 0),
	}
}

// ToMap converts Config to the generic map expected by the transport factory.
func (c Config) ToMap() map[string]any {
	return map[string]any{
		"max_batch_bytes":    c.MaxBatchBytes,
		"max_batch_messages": c.MaxBatchMessages,
	}
}

// Transport implements xpub.Transport with in-process queues, one per
// destination. Sent envelopes stay queued until received or drained, which
// makes it the bus of choice for tests and local development.
type Transport struct {
	cfg Config

	mu     sync.RWMutex
	queues map[string]*queue

	sendErr atomic.Pointer[error]
	closed  atomic.Bool

	metrics *transportMetrics
}

type transportMetrics struct {
	batches       atomic.Uint64
	published     atomic.Uint64
	received      atomic.Uint64
	publishErrors atomic.Uint64
}

var _ xpub.Transport = (*Transport)(nil)

// NewTransport creates a new in-memory transport.
func NewTransport(cfg Config) *Transport {
	if cfg.MaxBatchBytes == 0 {
		cfg.MaxBatchBytes = DefaultMaxBatchBytes
	}
	return &Transport{
		cfg:     cfg,
		queues:  make(map[string]*queue),
		metrics: &transportMetrics{},
	}
}

func (t *Transport) NewSender(_ context.Context, destination string) (xpub.Sender, error) {
	if t.closed.Load() {
		return nil, xpub.ErrTransportClosed
	}
	if destination == "" {
		return nil, fmt.Errorf("xpub/memory: destination must not be empty")
	}
	t.ensureQueue(destination)
	return &sender{t: t, destination: destination}, nil
}

// Close drops every queue. Senders fail afterwards.
func (t *Transport) Close(_ context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}
	t.mu.Lock()
	t.queues = make(map[string]*queue)
	t.mu.Unlock()
	return nil
}

// FailSends makes every subsequent send return err; nil restores normal sends.
func (t *Transport) FailSends(err error) {
	if err == nil {
		t.sendErr.Store(nil)
		return
	}
	t.sendErr.Store(&err)
}

// Len reports how many envelopes wait at destination.
func (t *Transport) Len(destination string) int {
	q, ok := t.queue(destination)
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.envs)
}

// Drain removes and returns every envelope queued at destination, oldest first.
func (t *Transport) Drain(destination string) []*xpub.Envelope {
	q, ok := t.queue(destination)
	if !ok {
		return nil
	}
	q.mu.Lock()
	out := q.envs
	q.envs = nil
	q.mu.Unlock()
	t.metrics.received.Add(uint64(len(out)))
	return out
}

// Receive blocks until an envelope is available at destination or ctx is done.
func (t *Transport) Receive(ctx context.Context, destination string) (*xpub.Envelope, error) {
	if t.closed.Load() {
		return nil, xpub.ErrTransportClosed
	}
	q := t.ensureQueue(destination)
	for {
		q.mu.Lock()
		if len(q.envs) > 0 {
			env := q.envs[0]
			q.envs[0] = nil
			q.envs = q.envs[1:]
			more := len(q.envs) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			t.metrics.received.Add(1)
			return env, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.ready:
		}
	}
}

// Stats returns transport telemetry.
type Stats struct {
	Batches       uint64
	Published     uint64
	Received      uint64
	PublishErrors uint64
}

func (t *Transport) Stats() Stats {
	return Stats{
		Batches:       t.metrics.batches.Load(),
		Published:     t.metrics.published.Load(),
		Received:      t.metrics.received.Load(),
		PublishErrors: t.metrics.publishErrors.Load(),
	}
}

func (t *Transport) enqueue(ctx context.Context, destination string, envs []*xpub.Envelope) error {
	if t.closed.Load() {
		return xpub.ErrTransportClosed
	}
	if p := t.sendErr.Load(); p != nil {
		t.metrics.publishErrors.Add(uint64(len(envs)))
		return *p
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	q := t.ensureQueue(destination)
	q.mu.Lock()
	for _, e := range envs {
		q.envs = append(q.envs, e.Clone())
	}
	q.mu.Unlock()
	q.signal()
	t.metrics.published.Add(uint64(len(envs)))
	return nil
}

func (t *Transport) queue(name string) (*queue, bool) {
	t.mu.RLock()
	q, ok := t.queues[name]
	t.mu.RUnlock()
	return q, ok
}

func (t *Transport) ensureQueue(name string) *queue {
	t.mu.Lock()
	defer t.mu.Unlock()
	if q, ok := t.queues[name]; ok {
		return q
	}
	q := &queue{ready: make(chan struct{}, 1)}
	t.queues[name] = q
	return q
}

type queue struct {
	mu    sync.Mutex
	envs  []*xpub.Envelope
	ready chan struct{}
}

func (q *queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

type sender struct {
	t           *Transport
	destination string
	closed      atomic.Bool
}

func (s *sender) Destination() string { return s.destination }

func (s *sender) CreateBatch(_ context.Context) (xpub.Batch, error) {
	if s.closed.Load() {
		return nil, xpub.ErrSenderClosed
	}
	return xpub.NewSizedBatch(s.t.cfg.MaxBatchBytes, s.t.cfg.MaxBatchMessages), nil
}

// SendBatch enqueues the whole batch under one lock so concurrent batches
// never interleave.
func (s *sender) SendBatch(ctx context.Context, batch xpub.Batch) error {
	if s.closed.Load() {
		return xpub.ErrSenderClosed
	}
	if _, ok := batch.(*xpub.SizedBatch); !ok {
		return xpub.ErrForeignBatch
	}
	if err := s.t.enqueue(ctx, s.destination, batch.Envelopes()); err != nil {
		return err
	}
	s.t.metrics.batches.Add(1)
	return nil
}

func (s *sender) Send(ctx context.Context, env *xpub.Envelope) error {
	if s.closed.Load() {
		return xpub.ErrSenderClosed
	}
	if s.t.cfg.MaxBatchBytes > 0 && env.Size() > s.t.cfg.MaxBatchBytes {
		return xpub.ErrMessageTooLarge
	}
	return s.t.enqueue(ctx, s.destination, []*xpub.Envelope{env})
}

func (s *sender) Close(_ context.Context) error {
	s.closed.Store(true)
	return nil
}
