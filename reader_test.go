package xpub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publishAndCapture(t *testing.T, cfg PublisherConfig, msgs ...orderPlaced) []*Envelope {
	t.Helper()
	s := newFakeSender("orders")
	cfg.PublishTo = "orders"
	p, err := NewPublisher[orderPlaced](s, cfg)
	require.NoError(t, err)
	require.True(t, p.Publish(context.Background(), msgs).IsSuccess())
	return s.sent()[0]
}

func TestReader_RoundTrip(t *testing.T) {
	note := "leave at door"
	in := []orderPlaced{
		{ID: "1", OrderID: "o-1", CustomerID: "c-1", Total: 9.99, Note: &note},
		{ID: "2", OrderID: "o-2", Lines: []string{"sku-1"}},
	}
	envs := publishAndCapture(t, PublisherConfig{}, in...)

	rec := &recorder{}
	r := NewReader[orderPlaced](WithReaderObserver(rec))
	for i, res := range r.ReadAll(context.Background(), envs) {
		got, ok := res.Value()
		require.True(t, ok, res.Err())
		assert.Equal(t, in[i], got)
	}
	assert.Equal(t, []EventType{ReadDone, ReadDone}, rec.types())
}

func TestReader_InvalidBodies(t *testing.T) {
	cases := map[string]*Envelope{
		"nil envelope": nil,
		"empty body":   {ID: "1"},
		"json null":    {ID: "2", Body: []byte(" null ")},
		"malformed":    {ID: "3", Body: []byte(`{"id":`)},
		"wrong shape":  {ID: "4", Body: []byte(`[1,2,3]`)},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			rec := &recorder{}
			res := NewReader[orderPlaced](WithReaderObserver(rec)).Read(context.Background(), env)
			f, failed := res.Failure()
			require.True(t, failed)
			assert.Equal(t, CodeInvalidMessageSchema, f.Code)
			assert.Equal(t, []EventType{ReadFailed}, rec.types())
		})
	}
}

func TestReader_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &recorder{}
	res := NewReader[orderPlaced](WithReaderObserver(rec)).Read(ctx, &Envelope{ID: "1", CorrelationID: "c-1", Body: []byte(`{}`)})
	f, failed := res.Failure()
	require.True(t, failed)
	assert.Equal(t, CodeReadCanceled, f.Code)
	assert.ErrorIs(t, res.Err(), context.Canceled)

	require.Equal(t, []EventType{ReadFailed}, rec.types())
	assert.Equal(t, CodeReadCanceled, rec.last().Code)
	assert.Equal(t, "c-1", rec.last().CorrelationID)
}

func TestReader_PointerType(t *testing.T) {
	res := NewReader[*invoiceIssued]().Read(context.Background(), &Envelope{Body: []byte(`{"id":"inv-1"}`)})
	got, ok := res.Value()
	require.True(t, ok)
	require.NotNil(t, got)
	assert.Equal(t, "inv-1", got.ID)
}

func TestReader_ContentTypeNegotiation(t *testing.T) {
	in := orderPlaced{ID: "1", OrderID: "o-1", Total: 3}
	envs := publishAndCapture(t, PublisherConfig{Codec: "msgpack"}, in)
	require.Equal(t, "application/msgpack", envs[0].ContentType)

	fixed := NewReader[orderPlaced]().Read(context.Background(), envs[0])
	assert.False(t, fixed.IsSuccess())

	negotiated := NewReader[orderPlaced](WithContentTypeNegotiation()).Read(context.Background(), envs[0])
	got, ok := negotiated.Value()
	require.True(t, ok, negotiated.Err())
	assert.Equal(t, in, got)

	explicit := NewReader[orderPlaced](WithReaderCodec(MsgpackCodec{})).Read(context.Background(), envs[0])
	assert.True(t, explicit.IsSuccess())
}

func TestReader_SerializerOptionsMatchPublisher(t *testing.T) {
	opts := SerializerOptions{NamingPolicy: NamingAsDeclared, Indent: true}
	in := orderPlaced{ID: "1", OrderID: "o-1"}
	envs := publishAndCapture(t, PublisherConfig{Serializer: &opts}, in)

	got, ok := NewReader[orderPlaced](WithReaderSerializer(opts)).Read(context.Background(), envs[0]).Value()
	require.True(t, ok)
	assert.Equal(t, in, got)
}

func TestReader_CorrelationFromContext(t *testing.T) {
	rec := &recorder{}
	ctx := WithCorrelationID(context.Background(), "trace-1")
	NewReader[orderPlaced](WithReaderObserver(rec)).Read(ctx, &Envelope{CorrelationID: "env", Body: []byte(`{"id":"1"}`)})
	assert.Equal(t, "trace-1", rec.last().CorrelationID)

	NewReader[orderPlaced](WithReaderObserver(rec)).Read(context.Background(), &Envelope{CorrelationID: "env", Body: []byte(`{"id":"1"}`)})
	assert.Equal(t, "env", rec.last().CorrelationID)
}

func TestDecode(t *testing.T) {
	got, err := Decode[orderPlaced](nil, &Envelope{Body: []byte(`{"orderId":"o-7"}`)})
	require.NoError(t, err)
	assert.Equal(t, "o-7", got.OrderID)

	_, err = Decode[orderPlaced](MsgpackCodec{}, &Envelope{Body: []byte(`{"orderId":"o-7"}`)})
	assert.Error(t, err)
}

type catalogAudit struct {
	CreatedBy string
	Labels    map[string]string
}

type catalogVariant struct {
	SKU      string
	Stock    int
	Discount *int
}

type catalogItem struct {
	ID string `json:"id"`
	catalogAudit
	Attributes map[string]string
	Sections   map[string]map[string]catalogVariant
	Optional   map[string]*string
	ByRank     map[int]string
	Variants   []catalogVariant
	Extra      any
	Link       string `json:"url"`
	LinkUpper  string `json:"URL"`
}

func (c catalogItem) MessageID() string     { return c.ID }
func (c catalogItem) CorrelationID() string { return c.ID }
func (c catalogItem) MessageType() string   { return "CatalogItem" }

type clashingItem struct {
	ID  string `json:"id"`
	URL string
	Url string
}

func (c clashingItem) MessageID() string     { return c.ID }
func (c clashingItem) CorrelationID() string { return c.ID }
func (c clashingItem) MessageType() string   { return "ClashingItem" }

func TestReader_RoundTripShapes(t *testing.T) {
	opts := DefaultSerializerOptions()
	ten := 10
	cases := []struct {
		name string
		in   catalogItem
		wire []string
	}{
		{
			name: "map keys keep their case",
			in:   catalogItem{ID: "1", Attributes: map[string]string{"Region": "EU", "SKU": "A-1"}},
			wire: []string{`"attributes":{"Region":"EU","SKU":"A-1"}`},
		},
		{
			name: "nested map of structs",
			in: catalogItem{ID: "2", Sections: map[string]map[string]catalogVariant{
				"Summer": {"Red": {SKU: "R-1", Stock: 3, Discount: &ten}, "Blue": {SKU: "B-1"}},
			}},
			wire: []string{`"Summer":{`, `"Red":{`, `"sku":"R-1"`},
		},
		{
			name: "nil map value",
			in:   catalogItem{ID: "3", Optional: map[string]*string{"Gift": nil}},
			wire: []string{`"optional":{"Gift":null}`},
		},
		{
			name: "integer map keys",
			in:   catalogItem{ID: "4", ByRank: map[int]string{1: "gold", 2: "silver"}},
			wire: []string{`"byRank":{"1":"gold","2":"silver"}`},
		},
		{
			name: "embedded struct",
			in: catalogItem{ID: "5", catalogAudit: catalogAudit{
				CreatedBy: "ops", Labels: map[string]string{"Team": "Catalog"},
			}},
			wire: []string{`"createdBy":"ops"`, `"labels":{"Team":"Catalog"}`},
		},
		{
			name: "slice of structs",
			in:   catalogItem{ID: "6", Variants: []catalogVariant{{SKU: "A"}, {SKU: "B", Discount: &ten}}},
			wire: []string{`"variants":[{"sku":"A","stock":0},{"discount":10,"sku":"B","stock":0}]`},
		},
		{
			name: "untyped map",
			in:   catalogItem{ID: "7", Extra: map[string]any{"Region": "EU", "Gone": nil}},
			wire: []string{`"extra":{"Gone":null,"Region":"EU"}`},
		},
		{
			name: "tagged fields differing by case",
			in:   catalogItem{ID: "8", Link: "lower", LinkUpper: "upper"},
			wire: []string{`"url":"lower"`, `"URL":"upper"`},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newFakeSender("catalog")
			p, err := NewPublisher[catalogItem](s, PublisherConfig{PublishTo: "catalog", Serializer: &opts})
			require.NoError(t, err)
			res := p.PublishOne(context.Background(), tc.in)
			require.True(t, res.IsSuccess(), res.Err())

			env := s.sent()[0][0]
			for _, w := range tc.wire {
				assert.Contains(t, string(env.Body), w)
			}
			got, ok := NewReader[catalogItem](WithReaderSerializer(opts)).Read(context.Background(), env).Value()
			require.True(t, ok)
			assert.Equal(t, tc.in, got)
		})
	}

	t.Run("untagged fields colliding after renaming", func(t *testing.T) {
		s := newFakeSender("catalog")
		p, err := NewPublisher[clashingItem](s, PublisherConfig{PublishTo: "catalog", Serializer: &opts})
		require.NoError(t, err)

		res := p.PublishOne(context.Background(), clashingItem{ID: "9", URL: "a", Url: "b"})
		f, failed := res.Failure()
		require.True(t, failed)
		assert.Equal(t, CodeMessageSerializationError, f.Code)
		assert.ErrorIs(t, res.Err(), ErrJSONNameConflict)
		assert.Empty(t, s.sent())
	})
}
