package redisstream

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xpub"
)

const TransportName = "redis-streams"

func init() {
	if err := xpub.RegisterTransport(TransportName, func(ctx context.Context, cfg map[string]any) (xpub.Transport, error) {
		return NewTransport(ctx, ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xpub/redisstream: failed to register transport: %w", err))
	}
}

// Transport publishes envelopes to Redis Streams.
type Transport struct {
	cfg    Config
	client *redis.Client

	closed atomic.Bool

	metrics *transportMetrics
}

type transportMetrics struct {
	batches       atomic.Uint64
	published     atomic.Uint64
	publishErrors atomic.Uint64
}

var _ xpub.Transport = (*Transport)(nil)

// NewTransport connects to Redis and verifies the connection with PING.
func NewTransport(ctx context.Context, cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", xpub.ErrInvalidConfig, err)
	}
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}

	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion:    tls.VersionTLS12,
			ServerName:    cfg.TLSServerName,
			Renegotiation: tls.RenegotiateNever,
		}
	}

	client := redis.NewClient(opts)
	if err := ping(ctx, client, cfg.DialTimeout); err != nil {
		_ = client.Close()
		return nil, err
	}

	return newTransport(cfg, client), nil
}

// NewTransportWithClient wraps an existing client. The transport takes
// ownership and closes it on Close.
func NewTransportWithClient(cfg Config, client *redis.Client) *Transport {
	return newTransport(cfg, client)
}

func newTransport(cfg Config, client *redis.Client) *Transport {
	return &Transport{cfg: cfg, client: client, metrics: &transportMetrics{}}
}

func (t *Transport) NewSender(_ context.Context, stream string) (xpub.Sender, error) {
	if t.closed.Load() {
		return nil, xpub.ErrTransportClosed
	}
	if stream == "" {
		return nil, fmt.Errorf("xpub/redisstream: stream must not be empty")
	}
	return &sender{t: t, stream: stream}, nil
}

// Read returns up to count entries of stream starting at start (inclusive,
// "-" for the beginning). It is the inspection side used by tools and tests.
func (t *Transport) Read(ctx context.Context, stream, start string, count int64) ([]Entry, error) {
	if t.closed.Load() {
		return nil, xpub.ErrTransportClosed
	}
	if start == "" {
		start = "-"
	}
	if count <= 0 {
		count = 100
	}
	msgs, err := t.client.XRangeN(ctx, stream, start, "+", count).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Entry{StreamID: m.ID, Envelope: decodeEnvelope(m.Values)})
	}
	return out, nil
}

// Stats returns transport telemetry.
type Stats struct {
	Batches       uint64
	Published     uint64
	PublishErrors uint64
}

func (t *Transport) Stats() Stats {
	return Stats{
		Batches:       t.metrics.batches.Load(),
		Published:     t.metrics.published.Load(),
		PublishErrors: t.metrics.publishErrors.Load(),
	}
}

// Close gracefully shuts down the transport.
func (t *Transport) Close(_ context.Context) error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.client.Close()
}

// xadd writes envs inside one MULTI/EXEC, so concurrent batches never
// interleave and a dropped connection leaves none of the batch behind.
func (t *Transport) xadd(ctx context.Context, stream string, envs []*xpub.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	if t.closed.Load() {
		return xpub.ErrTransportClosed
	}

	pipe := t.client.TxPipeline()
	for _, env := range envs {
		args := &redis.XAddArgs{
			Stream: stream,
			ID:     "*",
			Values: encodeEnvelope(env),
		}
		if t.cfg.MaxLenApprox > 0 {
			args.MaxLen = t.cfg.MaxLenApprox
			args.Approx = true
		}
		pipe.XAdd(ctx, args)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		t.metrics.publishErrors.Add(uint64(len(envs)))
		return err
	}
	t.metrics.published.Add(uint64(len(envs)))
	return nil
}

type sender struct {
	t      *Transport
	stream string
	closed atomic.Bool
}

func (s *sender) Destination() string { return s.stream }

func (s *sender) CreateBatch(_ context.Context) (xpub.Batch, error) {
	if s.closed.Load() {
		return nil, xpub.ErrSenderClosed
	}
	return xpub.NewSizedBatch(s.t.cfg.MaxBatchBytes, s.t.cfg.MaxBatchMessages), nil
}

func (s *sender) SendBatch(ctx context.Context, batch xpub.Batch) error {
	if s.closed.Load() {
		return xpub.ErrSenderClosed
	}
	if _, ok := batch.(*xpub.SizedBatch); !ok {
		return xpub.ErrForeignBatch
	}
	if err := s.t.xadd(ctx, s.stream, batch.Envelopes()); err != nil {
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
	return s.t.xadd(ctx, s.stream, []*xpub.Envelope{env})
}

func (s *sender) Close(_ context.Context) error {
	s.closed.Store(true)
	return nil
}

func ping(ctx context.Context, c *redis.Client, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := c.Ping(ctx).Result()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("redis ping timeout: %w", err)
		}
		return err
	}

	if strings.ToUpper(res) != "PONG" {
		return fmt.Errorf("unexpected redis ping result: %s", res)
	}

	return nil
}
