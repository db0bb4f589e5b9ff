package rabbitmq

import (
	"context"

	"github.com/sakashimaa/go-pet-project/stock/pkg/broker"
	"github.com/sakashimaa/go-pet-project/stock/pkg/config"
	"github.com/sakashimaa/go-pet-project/stock/pkg/rabbitmq"
	"go.uber.org/zap"
)

type Consumer struct {
	handler broker.HandlerFunc
	cfg     config.RabbitMQ
	logger  *zap.Logger
}

func NewConsumer(handler broker.HandlerFunc, cfg config.RabbitMQ, logger *zap.Logger) *Consumer {
	return &Consumer{
		handler: handler,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer := rabbitmq.NewConsumer(
		c.cfg.URL,
		c.cfg.OrderQueue,
		c.cfg.Prefetch,
		c.cfg.Workers,
		c.handler,
		c.logger,
	)

	return consumer.Run(ctx)
}
