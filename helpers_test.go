package xpub

import (
	"context"
	"sync"
)

type orderPlaced struct {
	ID         string   `json:"id"`
	OrderID    string   `json:"orderId"`
	CustomerID string   `json:"customerId"`
	Total      float64  `json:"total"`
	Note       *string  `json:"note"`
	Lines      []string `json:"lines"`
}

func (o orderPlaced) MessageID() string     { return o.ID }
func (o orderPlaced) CorrelationID() string { return o.OrderID }
func (o orderPlaced) MessageType() string   { return "OrderPlaced" }

// sessionOrder is keyed by customer.
type sessionOrder struct {
	ID         string `json:"id"`
	CustomerID string `json:"customerId"`
}

func (o sessionOrder) MessageID() string     { return o.ID }
func (o sessionOrder) CorrelationID() string { return o.ID }
func (o sessionOrder) MessageType() string   { return "SessionOrder" }
func (o sessionOrder) SessionKey() string    { return o.CustomerID }

type invoiceIssued struct {
	ID string `json:"id"`
}

func (i *invoiceIssued) MessageID() string     { return i.ID }
func (i *invoiceIssued) CorrelationID() string { return i.ID }
func (i *invoiceIssued) MessageType() string   { return "InvoiceIssued" }

// unencodable cannot be marshaled by encoding/json.
type unencodable struct {
	ID string
	Ch chan int
}

func (u unencodable) MessageID() string     { return u.ID }
func (u unencodable) CorrelationID() string { return u.ID }
func (u unencodable) MessageType() string   { return "Unencodable" }

// fakeSender records batches and injects failures.
type fakeSender struct {
	dest       string
	maxCount   int
	maxBytes   int
	createErr  error
	sendErr    error
	beforeSend func(ctx context.Context)

	mu      sync.Mutex
	created int
	batches [][]*Envelope
	closed  int
}

func newFakeSender(dest string) *fakeSender { return &fakeSender{dest: dest} }

func (s *fakeSender) Destination() string { return s.dest }

func (s *fakeSender) CreateBatch(context.Context) (Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created++
	if s.createErr != nil {
		return nil, s.createErr
	}
	return NewSizedBatch(s.maxBytes, s.maxCount), nil
}

func (s *fakeSender) SendBatch(ctx context.Context, b Batch) error {
	if s.beforeSend != nil {
		s.beforeSend(ctx)
	}
	if s.sendErr != nil {
		return s.sendErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.batches = append(s.batches, b.Envelopes())
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) Send(ctx context.Context, env *Envelope) error {
	b := NewSizedBatch(0, 0)
	b.TryAdd(env)
	return s.SendBatch(ctx, b)
}

func (s *fakeSender) Close(context.Context) error {
	s.mu.Lock()
	s.closed++
	s.mu.Unlock()
	return nil
}

func (s *fakeSender) sent() [][]*Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]*Envelope, len(s.batches))
	copy(out, s.batches)
	return out
}

// recorder collects observer events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) last() Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}
