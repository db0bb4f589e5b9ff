package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAck struct {
	acked   int
	nacked  int
	requeue bool
}

func (a *fakeAck) Ack(bool) error {
	a.acked++
	return nil
}

func (a *fakeAck) Nack(_ bool, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}

func TestNewConsumer_Defaults(t *testing.T) {
	c := NewConsumer("amqp://localhost", "order_events", 0, 0, nil, zap.NewNop())
	require.Equal(t, 1, c.workers)
	require.Equal(t, 1, c.prefetch)

	c = NewConsumer("amqp://localhost", "order_events", 2, 4, nil, zap.NewNop())
	require.Equal(t, 4, c.workers)
	require.Equal(t, 4, c.prefetch)
}

func TestHandleDelivery_AcksOnSuccess(t *testing.T) {
	var got []byte
	c := NewConsumer("amqp://localhost", "order_events", 1, 1, func(_ context.Context, payload []byte) error {
		got = payload
		return nil
	}, zap.NewNop())

	ack := &fakeAck{}
	c.HandleDelivery(context.Background(), ack, amqp.Table{"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"}, []byte("body"))

	require.Equal(t, []byte("body"), got)
	require.Equal(t, 1, ack.acked)
	require.Zero(t, ack.nacked)
}

func TestHandleDelivery_RequeuesOnError(t *testing.T) {
	c := NewConsumer("amqp://localhost", "order_events", 1, 1, func(context.Context, []byte) error {
		return errors.New("database unavailable")
	}, zap.NewNop())

	ack := &fakeAck{}
	c.HandleDelivery(context.Background(), ack, nil, []byte("body"))

	require.Zero(t, ack.acked)
	require.Equal(t, 1, ack.nacked)
	require.True(t, ack.requeue)
}

type deliveryAcker struct {
	mu    sync.Mutex
	acked []uint64
}

func (a *deliveryAcker) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *deliveryAcker) Nack(uint64, bool, bool) error { return nil }

func (a *deliveryAcker) Reject(uint64, bool) error { return nil }

func serveAsync(c *Consumer, ctx context.Context, deliveries chan amqp.Delivery, chClosed, connClosed chan *amqp.Error) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- c.serve(ctx, deliveries, chClosed, connClosed, func() {})
	}()
	return done
}

func TestServe_ReturnsWhenBrokerCancelsConsumer(t *testing.T) {
	c := NewConsumer("amqp://localhost", "order_events", 2, 2, func(context.Context, []byte) error {
		return nil
	}, zap.NewNop())

	acker := &deliveryAcker{}
	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, Body: []byte("a")}
	deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 2, Body: []byte("b")}
	close(deliveries)

	done := serveAsync(c, context.Background(), deliveries, make(chan *amqp.Error), make(chan *amqp.Error))

	select {
	case err := <-done:
		require.ErrorIs(t, err, errConsumerCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after deliveries closed")
	}

	require.ElementsMatch(t, []uint64{1, 2}, acker.acked)
}

func TestServe_ReturnsOnChannelClose(t *testing.T) {
	c := NewConsumer("amqp://localhost", "order_events", 1, 1, func(context.Context, []byte) error {
		return nil
	}, zap.NewNop())

	deliveries := make(chan amqp.Delivery)
	chClosed := make(chan *amqp.Error, 1)

	done := serveAsync(c, context.Background(), deliveries, chClosed, make(chan *amqp.Error))

	chClosed <- &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue 'order_events'"}
	close(deliveries)

	select {
	case err := <-done:
		var amqpErr *amqp.Error
		require.ErrorAs(t, err, &amqpErr)
		require.Equal(t, amqp.NotFound, amqpErr.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after channel close")
	}
}

func TestServe_StopsOnContextCancel(t *testing.T) {
	c := NewConsumer("amqp://localhost", "order_events", 1, 1, func(context.Context, []byte) error {
		return nil
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	deliveries := make(chan amqp.Delivery)

	done := make(chan error, 1)
	go func() {
		done <- c.serve(ctx, deliveries, make(chan *amqp.Error), make(chan *amqp.Error), func() {
			close(deliveries)
		})
	}()

	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
