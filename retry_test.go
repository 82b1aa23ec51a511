package xpub

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakySender fails the first n sends.
type flakySender struct {
	*fakeSender
	failures atomic.Int32
	attempts atomic.Int32
}

func (s *flakySender) SendBatch(ctx context.Context, b Batch) error {
	s.attempts.Add(1)
	if s.failures.Add(-1) >= 0 {
		return errors.New("transient")
	}
	return s.fakeSender.SendBatch(ctx, b)
}

func newFlaky(failures int32) *flakySender {
	s := &flakySender{fakeSender: newFakeSender("orders")}
	s.failures.Store(failures)
	return s
}

func TestPublishWithRetry_RecoversFromTransientErrors(t *testing.T) {
	s := newFlaky(2)
	p, err := NewPublisher[orderPlaced](s, PublisherConfig{PublishTo: "orders"})
	require.NoError(t, err)

	res := PublishWithRetry(context.Background(), p, []orderPlaced{{ID: "1"}}, RetryConfig{
		MaxAttempts: 5,
		Backoff:     ExponentialBackoff(time.Millisecond, 4*time.Millisecond),
	})
	assert.True(t, res.IsSuccess(), res.String())
	assert.EqualValues(t, 3, s.attempts.Load())
	assert.Len(t, s.sent(), 1)
}

func TestPublishWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	s := newFlaky(10)
	p, err := NewPublisher[orderPlaced](s, PublisherConfig{PublishTo: "orders"})
	require.NoError(t, err)

	res := PublishWithRetry(context.Background(), p, []orderPlaced{{ID: "1"}}, RetryConfig{MaxAttempts: 3})
	f, failed := res.Failure()
	require.True(t, failed)
	assert.Equal(t, CodeMessagePublishError, f.Code)
	assert.EqualValues(t, 3, s.attempts.Load())
}

func TestPublishWithRetry_DoesNotRetryCapacityFailures(t *testing.T) {
	s := newFlaky(0)
	s.maxCount = 1
	p, err := NewPublisher[orderPlaced](s, PublisherConfig{PublishTo: "orders"})
	require.NoError(t, err)

	res := PublishWithRetry(context.Background(), p, []orderPlaced{{ID: "1"}, {ID: "2"}}, RetryConfig{MaxAttempts: 5})
	f, _ := res.Failure()
	assert.Equal(t, CodeTooManyMessagesInBatch, f.Code)
	assert.Equal(t, 1, s.created)
}

func TestPublishWithRetry_CustomPredicate(t *testing.T) {
	s := newFlaky(10)
	p, err := NewPublisher[orderPlaced](s, PublisherConfig{PublishTo: "orders"})
	require.NoError(t, err)

	res := PublishWithRetry(context.Background(), p, []orderPlaced{{ID: "1"}}, RetryConfig{
		MaxAttempts: 5,
		RetryIf:     func(Failure) bool { return false },
	})
	assert.False(t, res.IsSuccess())
	assert.EqualValues(t, 1, s.attempts.Load())
}

func TestPublishWithRetry_StopsWhenContextDone(t *testing.T) {
	s := newFlaky(10)
	p, err := NewPublisher[orderPlaced](s, PublisherConfig{PublishTo: "orders"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := PublishWithRetry(ctx, p, []orderPlaced{{ID: "1"}}, RetryConfig{
		MaxAttempts: 100,
		Backoff:     func(int) time.Duration { return time.Hour },
	})
	assert.False(t, res.IsSuccess())
	assert.EqualValues(t, 1, s.attempts.Load())
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff(10*time.Millisecond, 50*time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, b(0))
	assert.Equal(t, 10*time.Millisecond, b(1))
	assert.Equal(t, 20*time.Millisecond, b(2))
	assert.Equal(t, 40*time.Millisecond, b(3))
	assert.Equal(t, 50*time.Millisecond, b(4))
	assert.Equal(t, 50*time.Millisecond, b(80))
}
