package xpub

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrderPublisher(t *testing.T, s Sender, cfg PublisherConfig, opts ...PublisherOption) *Publisher[orderPlaced] {
	t.Helper()
	if cfg.PublishTo == "" {
		cfg.PublishTo = s.Destination()
	}
	p, err := NewPublisher[orderPlaced](s, cfg, opts...)
	require.NoError(t, err)
	return p
}

func TestPublish_SendsOneBatchInOrder(t *testing.T) {
	s := newFakeSender("orders")
	p := newOrderPublisher(t, s, PublisherConfig{})

	msgs := []orderPlaced{
		{ID: "m-1", OrderID: "o-1", Total: 10},
		{ID: "m-2", OrderID: "o-2", Total: 20},
		{ID: "m-3", OrderID: "o-3", Total: 30},
	}
	res := p.Publish(context.Background(), msgs)
	require.True(t, res.IsSuccess(), res.String())

	sent := s.sent()
	require.Len(t, sent, 1)
	require.Len(t, sent[0], 3)
	for i, env := range sent[0] {
		assert.Equal(t, msgs[i].ID, env.ID)
		assert.Equal(t, msgs[i].OrderID, env.CorrelationID)
		assert.Equal(t, "OrderPlaced", env.Subject)
		assert.Equal(t, "application/json", env.ContentType)
		assert.False(t, env.ProducedAt.IsZero())
	}
}

func TestPublish_DefaultsFromTypeTag(t *testing.T) {
	p := newOrderPublisher(t, newFakeSender("orders"), PublisherConfig{})
	assert.Equal(t, "OrderPlaced", p.Name())
	assert.Equal(t, DefaultBus, p.BusName())
	assert.Equal(t, "OrderPlaced", p.MessageType())
	assert.Equal(t, "orders", p.Destination())
	assert.Equal(t, "json", p.Codec().Name())
}

func TestPublish_DefaultSerializerOptions(t *testing.T) {
	s := newFakeSender("orders")
	p := newOrderPublisher(t, s, PublisherConfig{})

	require.True(t, p.PublishOne(context.Background(), orderPlaced{ID: "m-1", OrderID: "o-1"}).IsSuccess())
	body := string(s.sent()[0][0].Body)
	assert.Contains(t, body, `"orderId":"o-1"`)
	assert.NotContains(t, body, "note")
	assert.NotContains(t, body, "lines")
	assert.NotContains(t, body, "\n")
}

func TestPublish_PerPublisherSerializer(t *testing.T) {
	s := newFakeSender("orders")
	opts := SerializerOptions{NamingPolicy: NamingAsDeclared, OmitNullFields: false, Indent: true}
	p := newOrderPublisher(t, s, PublisherConfig{Serializer: &opts})

	require.True(t, p.PublishOne(context.Background(), orderPlaced{ID: "m-1"}).IsSuccess())
	body := string(s.sent()[0][0].Body)
	assert.Contains(t, body, `"note": null`)
	assert.Contains(t, body, "\n")
}

func TestPublish_AssignsUUIDWhenIDEmpty(t *testing.T) {
	s := newFakeSender("orders")
	p := newOrderPublisher(t, s, PublisherConfig{})

	require.True(t, p.PublishOne(context.Background(), orderPlaced{OrderID: "o-1"}).IsSuccess())
	_, err := uuid.Parse(s.sent()[0][0].ID)
	assert.NoError(t, err)
}

func TestPublish_EmptyInputSucceedsWithoutTransport(t *testing.T) {
	s := newFakeSender("orders")
	p := newOrderPublisher(t, s, PublisherConfig{})

	assert.True(t, p.Publish(context.Background(), nil).IsSuccess())
	assert.True(t, p.Publish(context.Background(), []orderPlaced{}).IsSuccess())
	assert.Zero(t, s.created)
	assert.Empty(t, s.sent())
}

func TestPublish_OverflowSendsNothing(t *testing.T) {
	s := newFakeSender("orders")
	s.maxCount = 2
	rec := &recorder{}
	p := newOrderPublisher(t, s, PublisherConfig{}, WithPublisherObserver(rec))

	res := p.Publish(context.Background(), []orderPlaced{{ID: "1"}, {ID: "2"}, {ID: "3"}})
	f, failed := res.Failure()
	require.True(t, failed)
	assert.Equal(t, CodeTooManyMessagesInBatch, f.Code)
	assert.Contains(t, f.Message, "message 3 of 3")
	assert.Empty(t, s.sent())
	assert.Equal(t, []EventType{BatchRejected}, rec.types())
}

func TestPublish_OverflowByBytes(t *testing.T) {
	s := newFakeSender("orders")
	s.maxBytes = 400
	p := newOrderPublisher(t, s, PublisherConfig{})

	big := orderPlaced{ID: "big", OrderID: strings.Repeat("x", 500)}
	res := p.Publish(context.Background(), []orderPlaced{big})
	f, failed := res.Failure()
	require.True(t, failed)
	assert.Equal(t, CodeTooManyMessagesInBatch, f.Code)
	assert.Empty(t, s.sent())
}

func TestPublish_TransportErrorIsPublishError(t *testing.T) {
	s := newFakeSender("orders")
	boom := errors.New("connection reset")
	s.sendErr = boom
	rec := &recorder{}
	p := newOrderPublisher(t, s, PublisherConfig{}, WithPublisherObserver(rec))

	res := p.Publish(context.Background(), []orderPlaced{{ID: "1"}})
	f, failed := res.Failure()
	require.True(t, failed)
	assert.Equal(t, CodeMessagePublishError, f.Code)
	assert.ErrorIs(t, res.Err(), boom)
	assert.Equal(t, []EventType{PublishStart, PublishDone}, rec.types())
	assert.Equal(t, CodeMessagePublishError, rec.last().Code)
}

func TestPublish_CreateBatchErrorIsPublishError(t *testing.T) {
	s := newFakeSender("orders")
	s.createErr = ErrSenderClosed
	p := newOrderPublisher(t, s, PublisherConfig{})

	res := p.Publish(context.Background(), []orderPlaced{{ID: "1"}})
	f, _ := res.Failure()
	assert.Equal(t, CodeMessagePublishError, f.Code)
	assert.ErrorIs(t, res.Err(), ErrSenderClosed)
}

func TestPublish_CanceledBeforeSend(t *testing.T) {
	s := newFakeSender("orders")
	p := newOrderPublisher(t, s, PublisherConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := p.Publish(ctx, []orderPlaced{{ID: "1"}})
	f, failed := res.Failure()
	require.True(t, failed)
	assert.Equal(t, CodePublishCanceled, f.Code)
	assert.ErrorIs(t, res.Err(), context.Canceled)
	assert.Zero(t, s.created)
}

func TestPublish_CanceledDuringSend(t *testing.T) {
	s := newFakeSender("orders")
	ctx, cancel := context.WithCancel(context.Background())
	s.beforeSend = func(context.Context) { cancel() }
	p := newOrderPublisher(t, s, PublisherConfig{})

	res := p.Publish(ctx, []orderPlaced{{ID: "1"}})
	f, _ := res.Failure()
	assert.Equal(t, CodeMessagePublishError, f.Code)
	assert.ErrorIs(t, res.Err(), context.Canceled)
}

func TestPublish_SerializationError(t *testing.T) {
	s := newFakeSender("bad")
	p, err := NewPublisher[unencodable](s, PublisherConfig{PublishTo: "bad"})
	require.NoError(t, err)

	res := p.PublishOne(context.Background(), unencodable{ID: "1", Ch: make(chan int)})
	f, failed := res.Failure()
	require.True(t, failed)
	assert.Equal(t, CodeMessageSerializationError, f.Code)
	assert.Empty(t, s.sent())
}

func TestPublish_NilPointerMessage(t *testing.T) {
	s := newFakeSender("invoices")
	p, err := NewPublisher[*invoiceIssued](s, PublisherConfig{PublishTo: "invoices"})
	require.NoError(t, err)
	assert.Equal(t, "InvoiceIssued", p.Name())

	res := p.Publish(context.Background(), []*invoiceIssued{{ID: "1"}, nil})
	f, failed := res.Failure()
	require.True(t, failed)
	assert.Equal(t, CodeMessageSerializationError, f.Code)
	assert.ErrorIs(t, res.Err(), ErrUnsupportedMessage)
}

func TestPublish_SessionKeyStampedByDefault(t *testing.T) {
	s := newFakeSender("sessions")
	p, err := NewPublisher[sessionOrder](s, PublisherConfig{PublishTo: "sessions"})
	require.NoError(t, err)

	require.True(t, p.PublishOne(context.Background(), sessionOrder{ID: "1", CustomerID: "cust-7"}).IsSuccess())
	env := s.sent()[0][0]
	assert.Equal(t, "cust-7", env.SessionKey)
	assert.Equal(t, "cust-7", env.PartitionKey)
}

func TestPublish_CustomMutatorReplacesDefault(t *testing.T) {
	s := newFakeSender("sessions")
	var seen []string
	p, err := NewPublisher[sessionOrder](s, PublisherConfig{
		PublishTo: "sessions",
		Mutate: func(msg Message, env *Envelope) {
			seen = append(seen, msg.MessageID())
			env.SetMetadata("tenant", "acme")
		},
	})
	require.NoError(t, err)

	require.True(t, p.Publish(context.Background(), []sessionOrder{{ID: "1", CustomerID: "c"}, {ID: "2", CustomerID: "c"}}).IsSuccess())
	env := s.sent()[0][0]
	assert.Empty(t, env.SessionKey)
	assert.Equal(t, "acme", env.Metadata["tenant"])
	assert.Equal(t, []string{"1", "2"}, seen)
}

func TestPublish_CorrelationFromContext(t *testing.T) {
	rec := &recorder{}
	p := newOrderPublisher(t, newFakeSender("orders"), PublisherConfig{}, WithPublisherObserver(rec))

	ctx := WithCorrelationID(context.Background(), "req-42")
	require.True(t, p.PublishOne(ctx, orderPlaced{ID: "1", OrderID: "o-1"}).IsSuccess())
	assert.Equal(t, "req-42", rec.last().CorrelationID)

	require.True(t, p.PublishOne(context.Background(), orderPlaced{ID: "2", OrderID: "o-2"}).IsSuccess())
	assert.Equal(t, "o-2", rec.last().CorrelationID)
}

func TestPublish_Events(t *testing.T) {
	rec := &recorder{}
	p := newOrderPublisher(t, newFakeSender("orders"), PublisherConfig{Name: "orders", Bus: "bus1"}, WithPublisherObserver(rec))

	require.True(t, p.Publish(context.Background(), []orderPlaced{{ID: "1"}, {ID: "2"}}).IsSuccess())
	assert.Equal(t, []EventType{PublishStart, PublishDone}, rec.types())
	done := rec.last()
	assert.Equal(t, "bus1", done.Bus)
	assert.Equal(t, "orders", done.Publisher)
	assert.Equal(t, 2, done.Count)
	assert.Positive(t, done.Bytes)
	assert.Empty(t, done.Code)
}

func TestNewPublisher_Validation(t *testing.T) {
	_, err := NewPublisher[orderPlaced](nil, PublisherConfig{PublishTo: "x"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewPublisher[orderPlaced](newFakeSender(""), PublisherConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	opts := DefaultSerializerOptions()
	_, err = NewPublisher[orderPlaced](newFakeSender("x"), PublisherConfig{PublishTo: "x", Codec: "msgpack", Serializer: &opts})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewPublisher[orderPlaced](newFakeSender("x"), PublisherConfig{PublishTo: "x", Codec: "avro"})
	var unknown ErrUnknownCodec
	assert.ErrorAs(t, err, &unknown)
}

func TestPublisher_CloseIsIdempotent(t *testing.T) {
	s := newFakeSender("orders")
	p := newOrderPublisher(t, s, PublisherConfig{})
	require.NoError(t, p.Close(context.Background()))
	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, 1, s.closed)
}

func TestPublish_ConcurrentCallsBuildOwnBatches(t *testing.T) {
	s := newFakeSender("orders")
	s.maxCount = 5
	p := newOrderPublisher(t, s, PublisherConfig{})

	const workers = 8
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		go func() {
			errs <- p.Publish(context.Background(), []orderPlaced{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}, {ID: "e"}}).Err()
		}()
	}
	for w := 0; w < workers; w++ {
		assert.NoError(t, <-errs)
	}
	for _, b := range s.sent() {
		assert.Len(t, b, 5)
	}
	assert.Len(t, s.sent(), workers)
}
