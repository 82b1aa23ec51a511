package metric

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xpub"
	"github.com/trickstertwo/xpub/adapter/memory"
)

type invoiceIssued struct {
	ID string `json:"id"`
}

func (i invoiceIssued) MessageID() string     { return i.ID }
func (i invoiceIssued) CorrelationID() string { return i.ID }
func (i invoiceIssued) MessageType() string   { return "InvoiceIssued" }

func TestObserver_PublishEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := NewObserver(reg, "test")
	require.NoError(t, err)

	obs.OnEvent(xpub.Event{Type: xpub.PublishStart, Bus: "b", Publisher: "p", Count: 3})
	obs.OnEvent(xpub.Event{Type: xpub.PublishDone, Bus: "b", Publisher: "p", Count: 3, Bytes: 900, Duration: 20 * time.Millisecond})
	obs.OnEvent(xpub.Event{Type: xpub.PublishDone, Bus: "b", Publisher: "p", Count: 2, Code: xpub.CodeMessagePublishError, Err: errors.New("down"), Duration: time.Millisecond})
	obs.OnEvent(xpub.Event{Type: xpub.BatchRejected, Bus: "b", Publisher: "p", Count: 9, Code: xpub.CodeTooManyMessagesInBatch})

	assert.Equal(t, 3.0, testutil.ToFloat64(obs.messagesPublished.WithLabelValues("b", "p")))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.batchesPublished.WithLabelValues("b", "p")))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.publishFailures.WithLabelValues("b", "p", string(xpub.CodeMessagePublishError))))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.publishFailures.WithLabelValues("b", "p", string(xpub.CodeTooManyMessagesInBatch))))
	assert.Equal(t, 1, testutil.CollectAndCount(obs.sendDuration))
}

func TestObserver_ReadAndRegistryEvents(t *testing.T) {
	obs, err := NewObserver(nil, "")
	require.NoError(t, err)

	obs.OnEvent(xpub.Event{Type: xpub.ReadDone, MessageType: "InvoiceIssued"})
	obs.OnEvent(xpub.Event{Type: xpub.ReadDone, MessageType: "InvoiceIssued"})
	obs.OnEvent(xpub.Event{Type: xpub.ReadFailed, MessageType: "InvoiceIssued", Code: xpub.CodeInvalidMessageSchema})
	obs.OnEvent(xpub.Event{Type: xpub.DuplicateIgnore})

	assert.Equal(t, 2.0, testutil.ToFloat64(obs.messagesRead.WithLabelValues("InvoiceIssued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.readFailures.WithLabelValues("InvoiceIssued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.duplicates))
}

func TestNewObserver_SharesCollectorsOnSameRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewObserver(reg, "shared")
	require.NoError(t, err)
	b, err := NewObserver(reg, "shared")
	require.NoError(t, err)

	a.OnEvent(xpub.Event{Type: xpub.DuplicateIgnore})
	b.OnEvent(xpub.Event{Type: xpub.DuplicateIgnore})
	assert.Equal(t, 2.0, testutil.ToFloat64(a.duplicates))
}

func TestObserver_WithRegistryBuilder(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	obs, err := NewObserver(reg, "")
	require.NoError(t, err)

	built, closeFn, err := xpub.New(ctx, func(rb *xpub.RegistryBuilder) {
		rb.WithObserver(obs).WithTransportInstance(xpub.DefaultBus, memory.NewTransport(memory.Config{}))
		xpub.AddPublisher[invoiceIssued](rb, xpub.PublisherConfig{PublishTo: "invoices"})
	})
	require.NoError(t, err)
	defer closeFn(ctx)

	p, err := xpub.GetPublisher[invoiceIssued](built)
	require.NoError(t, err)
	require.True(t, p.Publish(ctx, []invoiceIssued{{ID: "1"}, {ID: "2"}}).IsSuccess())

	assert.Equal(t, 2.0, testutil.ToFloat64(obs.messagesPublished.WithLabelValues(xpub.DefaultBus, "InvoiceIssued")))

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "xpub_publisher_messages_total")
}
