package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sakashimaa/go-pet-project/stock/pkg/broker"
	"github.com/sakashimaa/go-pet-project/stock/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

var ErrPublishNotConfirmed = errors.New("publish was not confirmed by the broker")

// Publisher sends messages to durable queues through the default exchange with publisher confirms.
type Publisher struct {
	url    string
	logger *zap.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]struct{}
}

func NewPublisher(url string, logger *zap.Logger) (broker.Producer, error) {
	p := &Publisher{
		url:      url,
		logger:   logger,
		declared: make(map[string]struct{}),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connect(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("enable confirms: %w", err)
	}

	p.conn = conn
	p.ch = ch
	p.declared = make(map[string]struct{})
	return nil
}

func (p *Publisher) ProduceMessage(ctx context.Context, msg *broker.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() || p.ch.IsClosed() {
		if err := p.connect(); err != nil {
			return err
		}
	}

	if _, ok := p.declared[msg.Topic]; !ok {
		if _, err := p.ch.QueueDeclare(msg.Topic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", msg.Topic, err)
		}
		p.declared[msg.Topic] = struct{}{}
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	for k, v := range carrier {
		headers[k] = v
	}

	publishing := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     msg.Headers["message_id"],
		CorrelationId: msg.Key,
		Timestamp:     time.Now().UTC(),
		Headers:       headers,
		Body:          msg.Payload,
	}

	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, "", msg.Topic, false, false, publishing)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", msg.Topic, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait confirm: %w", err)
	}
	if !acked {
		return ErrPublishNotConfirmed
	}

	mylogger.Debug(ctx, p.logger, "Message sent", zap.String("queue", msg.Topic))
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}

	return p.conn.Close()
}
