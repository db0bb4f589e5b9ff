package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sakashimaa/go-pet-project/stock/pkg/broker"
	"github.com/sakashimaa/go-pet-project/stock/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	errConnectionClosed  = errors.New("rabbitmq connection closed")
	errChannelClosed     = errors.New("rabbitmq channel closed")
	errConsumerCancelled = errors.New("rabbitmq consumer cancelled by broker")
)

// Acknowledger is the subset of amqp.Delivery used to settle a message.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

type Consumer struct {
	url      string
	queue    string
	prefetch int
	workers  int
	handler  broker.HandlerFunc
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewConsumer(
	url string,
	queue string,
	prefetch int,
	workers int,
	handler broker.HandlerFunc,
	logger *zap.Logger,
) *Consumer {
	if workers < 1 {
		workers = 1
	}
	if prefetch < workers {
		prefetch = workers
	}

	return &Consumer{
		url:      url,
		queue:    queue,
		prefetch: prefetch,
		workers:  workers,
		handler:  handler,
		logger:   logger,
		tracer:   otel.Tracer("pkg/rabbitmq/consumer"),
	}
}

// Run consumes until ctx is cancelled, reconnecting with backoff when the broker goes away.
func (c *Consumer) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			mylogger.Info(ctx, c.logger, "Context cancelled, shutting down consumer")
			return nil
		}

		wait := b.NextBackOff()
		mylogger.Error(
			ctx,
			c.logger,
			"RabbitMQ consumer stopped, reconnecting",
			zap.String("queue", c.queue),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.queue, err)
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	mylogger.Info(
		ctx,
		c.logger,
		"RabbitMQ consumer started",
		zap.String("queue", c.queue),
		zap.Int("workers", c.workers),
	)

	return c.serve(
		ctx,
		deliveries,
		ch.NotifyClose(make(chan *amqp.Error, 1)),
		conn.NotifyClose(make(chan *amqp.Error, 1)),
		func() { _ = ch.Close() },
	)
}

// serve fans deliveries out to the workers and returns once consumption can no longer make progress:
// ctx done, channel or connection closed, or the broker cancelled the consumer.
func (c *Consumer) serve(
	ctx context.Context,
	deliveries <-chan amqp.Delivery,
	chClosed <-chan *amqp.Error,
	connClosed <-chan *amqp.Error,
	closeChannel func(),
) error {
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				c.HandleDelivery(ctx, d, d.Headers, d.Body)
			}
		}()
	}

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-ctx.Done():
		closeChannel()
		<-drained
		return ctx.Err()
	case amqpErr := <-chClosed:
		<-drained
		return closeReason(amqpErr, errChannelClosed)
	case amqpErr := <-connClosed:
		<-drained
		return closeReason(amqpErr, errConnectionClosed)
	case <-drained:
		select {
		case amqpErr := <-chClosed:
			return closeReason(amqpErr, errChannelClosed)
		case amqpErr := <-connClosed:
			return closeReason(amqpErr, errConnectionClosed)
		default:
			return errConsumerCancelled
		}
	}
}

func closeReason(amqpErr *amqp.Error, fallback error) error {
	if amqpErr != nil {
		return amqpErr
	}
	return fallback
}

// HandleDelivery runs the handler and settles the delivery: ack on success, nack with requeue otherwise.
func (c *Consumer) HandleDelivery(ctx context.Context, ack Acknowledger, headers amqp.Table, body []byte) {
	ctx, span := c.extractTracing(ctx, headers)
	defer span.End()

	if err := c.handler(ctx, body); err != nil {
		span.RecordError(err)
		mylogger.Error(
			ctx,
			c.logger,
			"Failed to process message, requeueing",
			zap.String("queue", c.queue),
			zap.Error(err),
		)

		if nackErr := ack.Nack(false, true); nackErr != nil {
			mylogger.Error(ctx, c.logger, "Failed to nack message", zap.Error(nackErr))
		}
		return
	}

	if err := ack.Ack(false); err != nil {
		mylogger.Error(ctx, c.logger, "Failed to ack message", zap.Error(err))
	}
}

func (c *Consumer) extractTracing(ctx context.Context, headers amqp.Table) (context.Context, trace.Span) {
	carrier := propagation.MapCarrier{}
	for k, v := range headers {
		if s, ok := v.(string); ok {
			carrier[k] = s
		}
	}

	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)

	return c.tracer.Start(ctx, "rabbitmq_process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination", c.queue),
		),
	)
}
