package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/go-pet-project/stock/pkg/broker"
	"github.com/sakashimaa/go-pet-project/stock/pkg/mylogger"
	"github.com/sakashimaa/go-pet-project/stock/pkg/outbox/domain"
	"github.com/sakashimaa/go-pet-project/stock/pkg/utils"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	ResultPublished = "published"
	ResultFailed    = "failed"
)

type OutboxRepository interface {
	SaveOutboxEvent(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error
	GetUnpublishedEvents(ctx context.Context, tx pgx.Tx, batchSize int) ([]*domain.OutboxEvent, error)
	MarkEventPublished(ctx context.Context, tx pgx.Tx, eventID int64) error
	MarkEventFailed(ctx context.Context, tx pgx.Tx, eventID int64, error string) error
}

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Config struct {
	BatchSize   int
	Interval    time.Duration
	MaxAttempts int
}

type OutboxProcessor struct {
	pool        TxBeginner
	repo        OutboxRepository
	producer    broker.Producer
	logger      *zap.Logger
	batchSize   int
	interval    time.Duration
	maxAttempts int
	tracer      trace.Tracer
	cb          *gobreaker.CircuitBreaker
	newBackOff  func() backoff.BackOff
	onPublish   func(result string)
}

type Option func(*OutboxProcessor)

// WithPublishHook registers a callback invoked once per event with ResultPublished or ResultFailed.
func WithPublishHook(fn func(result string)) Option {
	return func(p *OutboxProcessor) {
		p.onPublish = fn
	}
}

func WithBackOff(fn func() backoff.BackOff) Option {
	return func(p *OutboxProcessor) {
		p.newBackOff = fn
	}
}

func NewOutboxProcessor(
	pool TxBeginner,
	repo OutboxRepository,
	producer broker.Producer,
	logger *zap.Logger,
	cfg Config,
	opts ...Option,
) *OutboxProcessor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}

	p := &OutboxProcessor{
		pool:        pool,
		repo:        repo,
		producer:    producer,
		logger:      logger,
		batchSize:   cfg.BatchSize,
		interval:    cfg.Interval,
		maxAttempts: cfg.MaxAttempts,
		tracer:      otel.Tracer("outbox-worker"),
		cb: utils.NewBreaker(utils.BreakerConfig{
			Name:        "outbox-publisher",
			MaxFailures: 5,
			OpenTimeout: 10 * time.Second,
		}, logger),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = time.Second
			return backoff.WithMaxRetries(b, 2)
		},
		onPublish: func(string) {},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	mylogger.Info(
		ctx,
		p.logger,
		"Starting outbox processor",
		zap.Int("batch_size", p.batchSize),
		zap.Duration("interval", p.interval),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(
				ctx,
				p.logger,
				"Outbox processor stopping",
			)

			return
		case <-ticker.C:
			if err := p.ProcessBatch(ctx); err != nil {
				mylogger.Error(
					ctx,
					p.logger,
					"Error processing outbox batch",
					zap.Error(err),
				)
			}
		}
	}
}

// ProcessBatch publishes one batch of pending events and records the result of each.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) error {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.ProcessBatch")
	defer span.End()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		mylogger.Error(
			ctx,
			p.logger,
			"outbox worker failed to begin transaction",
			zap.Error(err),
		)

		return fmt.Errorf("error beginning transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(cleanupCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Error(
				cleanupCtx,
				p.logger,
				"Outbox worker failed to rollback transaction",
				zap.Error(err),
				zap.String("method_name", "ProcessBatch"),
			)
		}
	}()

	events, err := p.repo.GetUnpublishedEvents(ctx, tx, p.batchSize)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		return nil
	}

	span.SetAttributes(attribute.Int("outbox.batch", len(events)))
	mylogger.Debug(
		ctx,
		p.logger,
		"Processing outbox events",
		zap.Int("count", len(events)),
	)

	for _, event := range events {
		err := p.publish(ctx, event)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			mylogger.Warn(
				ctx,
				p.logger,
				"outbox publisher circuit open, deferring rest of batch",
				zap.Int64("id", event.Id),
			)

			break
		}

		if err != nil {
			p.onPublish(ResultFailed)
			mylogger.Error(
				ctx,
				p.logger,
				"outbox worker produce message failed",
				zap.Int64("id", event.Id),
				zap.String("aggregate_id", event.AggregateID),
				zap.Error(err),
			)

			if dbErr := p.repo.MarkEventFailed(ctx, tx, event.Id, err.Error()); dbErr != nil {
				return fmt.Errorf("mark event %d failed: %w", event.Id, dbErr)
			}

			if event.Attempts+1 >= int64(p.maxAttempts) {
				mylogger.Warn(
					ctx,
					p.logger,
					"outbox event exhausted its attempts and will not be retried",
					zap.Int64("id", event.Id),
					zap.String("aggregate_id", event.AggregateID),
				)
			}
			continue
		}

		if dbErr := p.repo.MarkEventPublished(ctx, tx, event.Id); dbErr != nil {
			return fmt.Errorf("mark event %d published: %w", event.Id, dbErr)
		}

		p.onPublish(ResultPublished)
		mylogger.Debug(
			ctx,
			p.logger,
			"outbox worker event published successfully",
			zap.Int64("id", event.Id),
			zap.String("topic", event.Topic),
		)
	}

	return tx.Commit(ctx)
}

func (p *OutboxProcessor) publish(ctx context.Context, event *domain.OutboxEvent) error {
	headers := event.HeaderMap()
	headers["event_id"] = strconv.FormatInt(event.Id, 10)
	headers["event_type"] = event.EventType
	if headers["message_id"] == "" {
		headers["message_id"] = uuid.NewString()
	}

	msg := &broker.Message{
		Topic:   event.Topic,
		Key:     event.AggregateID,
		Payload: event.Payload,
		Headers: headers,
	}

	_, err := utils.ExecuteWithBreaker(p.cb, func() (struct{}, error) {
		op := func() error {
			return p.producer.ProduceMessage(ctx, msg)
		}

		return struct{}{}, backoff.Retry(op, backoff.WithContext(p.newBackOff(), ctx))
	})

	return err
}
