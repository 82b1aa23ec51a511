package xpub

import (
	"context"
	"fmt"
	"time"
)

// SenderMiddleware decorates a Sender. Builders apply it to every sender
// they open, in the order given.
type SenderMiddleware func(next Sender) Sender

// ChainSenders composes middlewares around s so the first one is outermost.
func ChainSenders(s Sender, mws ...SenderMiddleware) Sender {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		s = mws[i](s)
	}
	return s
}

// SendTimeout bounds every SendBatch and Send call to d. A non-positive d
// disables the bound.
func SendTimeout(d time.Duration) SenderMiddleware {
	if d <= 0 {
		return func(next Sender) Sender { return next }
	}
	return func(next Sender) Sender {
		return &timeoutSender{Sender: next, d: d}
	}
}

type timeoutSender struct {
	Sender
	d time.Duration
}

func (s *timeoutSender) SendBatch(ctx context.Context, b Batch) error {
	tctx, cancel := context.WithTimeout(ctx, s.d)
	defer cancel()
	return s.Sender.SendBatch(tctx, b)
}

func (s *timeoutSender) Send(ctx context.Context, env *Envelope) error {
	tctx, cancel := context.WithTimeout(ctx, s.d)
	defer cancel()
	return s.Sender.Send(tctx, env)
}

// RecoverSends turns a panic inside the transport into a send error, which
// the publisher reports as MessagePublishError.
func RecoverSends() SenderMiddleware {
	return func(next Sender) Sender {
		return &recoverSender{Sender: next}
	}
}

type recoverSender struct {
	Sender
}

func (s *recoverSender) CreateBatch(ctx context.Context) (b Batch, err error) {
	defer recoverInto(&err)
	return s.Sender.CreateBatch(ctx)
}

func (s *recoverSender) SendBatch(ctx context.Context, b Batch) (err error) {
	defer recoverInto(&err)
	return s.Sender.SendBatch(ctx, b)
}

func (s *recoverSender) Send(ctx context.Context, env *Envelope) (err error) {
	defer recoverInto(&err)
	return s.Sender.Send(ctx, env)
}

func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("xpub: panic recovered in sender: %v", r)
	}
}
