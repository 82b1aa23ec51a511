package xpub

import (
	"context"
	"errors"
	"sync"
)

// Transport is the Strategy interface for one broker connection (a bus).
type Transport interface {
	// NewSender opens a sender bound to a queue/topic/stream.
	NewSender(ctx context.Context, destination string) (Sender, error)
	// Close releases the connection.
	Close(ctx context.Context) error
}

// Sender is the narrow surface publishers depend on. Implementations must
// be safe for concurrent use.
type Sender interface {
	Destination() string
	// CreateBatch returns an empty batch bounded by the provider limits.
	CreateBatch(ctx context.Context) (Batch, error)
	// SendBatch sends every envelope of a batch produced by CreateBatch, in order.
	SendBatch(ctx context.Context, batch Batch) error
	// Send sends a single envelope.
	Send(ctx context.Context, env *Envelope) error
	Close(ctx context.Context) error
}

// Batch accumulates envelopes until the provider limit is reached.
type Batch interface {
	// TryAdd appends env and reports whether it fit. A false return leaves the batch unchanged.
	TryAdd(env *Envelope) bool
	Len() int
	Size() int
	Envelopes() []*Envelope
}

// TransportFactory constructs transports from a config blob.
type TransportFactory func(ctx context.Context, cfg map[string]any) (Transport, error)

var (
	transportRegistryMu sync.RWMutex
	transportRegistry   = map[string]TransportFactory{}
)

// RegisterTransport registers a backend adapter.
func RegisterTransport(name string, factory TransportFactory) error {
	if name == "" {
		return errors.New("xpub: transport name must not be empty")
	}
	if factory == nil {
		return errors.New("xpub: transport factory must not be nil")
	}
	transportRegistryMu.Lock()
	transportRegistry[name] = factory
	transportRegistryMu.Unlock()
	return nil
}

// NewTransport constructs a transport by name with config.
func NewTransport(ctx context.Context, name string, cfg map[string]any) (Transport, error) {
	transportRegistryMu.RLock()
	f, ok := transportRegistry[name]
	transportRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownTransport{name: name}
	}
	return f(ctx, cfg)
}

// SizedBatch is a Batch bounded by a byte budget and an optional count.
// Adapters embed their limits through NewSizedBatch.
type SizedBatch struct {
	maxBytes    int
	maxMessages int
	size        int
	envs        []*Envelope
}

// NewSizedBatch creates a batch; a limit <= 0 disables that bound.
func NewSizedBatch(maxBytes, maxMessages int) *SizedBatch {
	return &SizedBatch{maxBytes: maxBytes, maxMessages: maxMessages}
}

func (b *SizedBatch) TryAdd(env *Envelope) bool {
	if env == nil {
		return false
	}
	if b.maxMessages > 0 && len(b.envs)+1 > b.maxMessages {
		return false
	}
	n := env.Size()
	if b.maxBytes > 0 && b.size+n > b.maxBytes {
		return false
	}
	b.size += n
	b.envs = append(b.envs, env)
	return true
}

func (b *SizedBatch) Len() int               { return len(b.envs) }
func (b *SizedBatch) Size() int              { return b.size }
func (b *SizedBatch) Envelopes() []*Envelope { return b.envs }
func (b *SizedBatch) MaxBytes() int          { return b.maxBytes }
func (b *SizedBatch) MaxMessages() int       { return b.maxMessages }
