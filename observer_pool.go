package xpub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xlog"
)

// ObserverPool is an Observer that hands events to worker goroutines, so
// slow observers (metrics pushes, remote sinks) stay off the publish path.
// When the queue is full the event is dropped and counted.
type ObserverPool struct {
	targets []Observer
	logger  *xlog.Logger

	// mu guards queue against sends racing with Close.
	mu     sync.RWMutex
	queue  chan Event
	closed bool
	done   chan struct{}

	dropped   atomic.Uint64
	delivered atomic.Uint64
}

var _ Observer = (*ObserverPool)(nil)

// NewObserverPool starts workers fanning events out to observers. workers
// defaults to 4 and bufferSize to 1000. Cancelling ctx closes the pool.
func NewObserverPool(ctx context.Context, workers, bufferSize int, observers ...Observer) *ObserverPool {
	if workers < 1 {
		workers = 4
	}
	if bufferSize < 1 {
		bufferSize = 1000
	}
	p := &ObserverPool{
		logger: xlog.Default(),
		queue:  make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}
	for _, o := range observers {
		if o != nil {
			p.targets = append(p.targets, o)
		}
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for e := range p.queue {
				p.deliver(e)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(p.done)
	}()
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				p.shutdown()
			case <-p.done:
			}
		}()
	}
	return p
}

// WithLogger sets the logger used to report observer panics.
func (p *ObserverPool) WithLogger(l *xlog.Logger) *ObserverPool {
	if l != nil {
		p.logger = l
	}
	return p
}

// OnEvent queues e without blocking.
func (p *ObserverPool) OnEvent(e Event) {
	if len(p.targets) == 0 {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- e:
	default:
		p.dropped.Add(1)
	}
}

func (p *ObserverPool) deliver(e Event) {
	for _, o := range p.targets {
		p.safeCall(o, e)
	}
	p.delivered.Add(1)
}

func (p *ObserverPool) safeCall(o Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Err(fmt.Errorf("%v", r)).
				Str("event", string(e.Type)).
				Str("publisher", e.Publisher).
				Msg("xpub: observer panicked")
		}
	}()
	o.OnEvent(e)
}

// shutdown stops intake; workers exit once the queue is empty.
func (p *ObserverPool) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
}

// Close stops intake and waits up to timeout for queued events to be
// delivered. It is safe to call more than once.
func (p *ObserverPool) Close(timeout time.Duration) error {
	p.shutdown()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
		return ErrObserverPoolShutdownTimeout
	}
}

// PoolStats reports dispatch counters.
type PoolStats struct {
	Dropped   uint64
	Delivered uint64
}

func (p *ObserverPool) Stats() PoolStats {
	return PoolStats{Dropped: p.dropped.Load(), Delivered: p.delivered.Load()}
}
