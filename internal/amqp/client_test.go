package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},  // capped at 30s
		{10, 30 * time.Second}, // capped at 30s
		{70, 30 * time.Second}, // no shift overflow
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.expected, exponentialBackoff(tt.attempt))
		})
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection refused", errors.New("connection refused"), true},
		{"closed connection", errors.New("connection closed"), true},
		{"EOF", errors.New("unexpected EOF"), true},
		{"broken pipe", errors.New("broken pipe"), true},
		{"closed network connection", errors.New("use of closed network connection"), true},
		{"amqp closed", fmt.Errorf("publish: %w", amqp091.ErrClosed), true},
		{"other error", errors.New("some other error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isConnectionError(tt.err))
		})
	}
}

func TestClient_CircuitBreaker(t *testing.T) {
	client := &Client{exchangeName: "test_exchange", queueName: "test_queue"}

	t.Run("initial state is closed", func(t *testing.T) {
		assert.False(t, client.isCircuitOpen())
	})

	t.Run("record success resets state", func(t *testing.T) {
		atomic.StoreInt64(&client.failureCount, 3)
		atomic.StoreInt32(&client.state, StateOpen)

		client.recordSuccess()

		assert.False(t, client.isCircuitOpen())
		assert.Zero(t, atomic.LoadInt64(&client.failureCount))
		assert.Equal(t, StateClosed, atomic.LoadInt32(&client.state))
	})

	t.Run("multiple failures open circuit", func(t *testing.T) {
		client.recordSuccess()
		for i := 0; i < maxFailures; i++ {
			client.recordFailure()
		}
		assert.True(t, client.isCircuitOpen())
		assert.Equal(t, StateOpen, atomic.LoadInt32(&client.state))
	})

	t.Run("circuit transitions to half-open after timeout", func(t *testing.T) {
		atomic.StoreInt32(&client.state, StateOpen)
		client.lastFailure = time.Now().Add(-openTimeout - time.Second)

		assert.False(t, client.isCircuitOpen())
		assert.Equal(t, StateHalfOpen, atomic.LoadInt32(&client.state))
	})

	t.Run("failure while half-open reopens", func(t *testing.T) {
		client.recordSuccess()
		atomic.StoreInt32(&client.state, StateHalfOpen)
		client.recordFailure()
		assert.Equal(t, StateOpen, atomic.LoadInt32(&client.state))
	})
}

func TestClient_PublishChange(t *testing.T) {
	ev := core.NewChangeEvent(core.EntityTransaction, core.OpInsert, "owner-1", "tx-1")

	t.Run("fails fast when circuit is open", func(t *testing.T) {
		client := &Client{exchangeName: "test_exchange", queueName: "test_queue"}
		atomic.StoreInt32(&client.state, StateOpen)
		client.lastFailure = time.Now()

		err := client.PublishChange(context.Background(), ev)
		assert.ErrorIs(t, err, ErrCircuitOpen)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		client := &Client{exchangeName: "test_exchange", queueName: "test_queue"}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := client.PublishChange(ctx, ev)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRoutingKey(t *testing.T) {
	ev := core.NewChangeEvent(core.EntityAllocation, core.OpDelete, "o", "a1")
	assert.Equal(t, "allocation.delete", RoutingKey(ev))
}

func TestDecodeEvent(t *testing.T) {
	ev := core.ChangeEvent{
		Entity:  core.EntityTransaction,
		Op:      core.OpUpdate,
		OwnerID: "owner-1",
		ID:      "tx-9",
		At:      time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	body, err := encodeEvent(ev)
	require.NoError(t, err)

	got, err := decodeEvent(body)
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	_, err = decodeEvent([]byte(`{"entity": 5}`))
	assert.Error(t, err)

	_, err = decodeEvent([]byte(`{"entity": "transaction", "op": "insert"}`))
	assert.Error(t, err, "events without an owner are rejected")
}

type fakeAck struct {
	acked, nacked, requeued int
}

func (f *fakeAck) Ack(uint64, bool) error { f.acked++; return nil }

func (f *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked++
	if requeue {
		f.requeued++
	}
	return nil
}

func (f *fakeAck) Reject(uint64, bool) error { return nil }

func delivery(t *testing.T, ack *fakeAck, ev core.ChangeEvent, redelivered bool) amqp091.Delivery {
	t.Helper()
	body, err := encodeEvent(ev)
	require.NoError(t, err)
	return amqp091.Delivery{Acknowledger: ack, Body: body, Redelivered: redelivered}
}

func TestHandleDelivery(t *testing.T) {
	ctx := context.Background()
	ev := core.NewChangeEvent(core.EntityTransaction, core.OpInsert, "owner-1", "tx-1")

	t.Run("acks on success", func(t *testing.T) {
		ack := &fakeAck{}
		var got core.ChangeEvent
		handleDelivery(ctx, delivery(t, ack, ev, false), func(_ context.Context, e core.ChangeEvent) error {
			got = e
			return nil
		})
		assert.Equal(t, 1, ack.acked)
		assert.Equal(t, ev.ID, got.ID)
	})

	t.Run("requeues first failure", func(t *testing.T) {
		ack := &fakeAck{}
		handleDelivery(ctx, delivery(t, ack, ev, false), func(context.Context, core.ChangeEvent) error {
			return errors.New("boom")
		})
		assert.Equal(t, 1, ack.requeued)
	})

	t.Run("drops redelivered failure", func(t *testing.T) {
		ack := &fakeAck{}
		handleDelivery(ctx, delivery(t, ack, ev, true), func(context.Context, core.ChangeEvent) error {
			return errors.New("boom")
		})
		assert.Equal(t, 1, ack.nacked)
		assert.Zero(t, ack.requeued)
	})

	t.Run("drops malformed body", func(t *testing.T) {
		ack := &fakeAck{}
		called := false
		handleDelivery(ctx, amqp091.Delivery{Acknowledger: ack, Body: []byte("not json")}, func(context.Context, core.ChangeEvent) error {
			called = true
			return nil
		})
		assert.False(t, called)
		assert.Equal(t, 1, ack.nacked)
		assert.Zero(t, ack.requeued)
	})
}

func TestConsume_StopsOnClosedChannelAndContext(t *testing.T) {
	msgs := make(chan amqp091.Delivery)
	close(msgs)
	assert.NoError(t, consume(context.Background(), msgs, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, consume(ctx, make(chan amqp091.Delivery), nil), context.Canceled)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.PublishChange(context.Background(), core.ChangeEvent{}))
	assert.NoError(t, p.Close())
}
