package kafka

import (
	"context"

	"github.com/sakashimaa/go-pet-project/stock/pkg/broker"
	"github.com/sakashimaa/go-pet-project/stock/pkg/config"
	"github.com/sakashimaa/go-pet-project/stock/pkg/kafka"
	"go.uber.org/zap"
)

type Consumer struct {
	handler broker.HandlerFunc
	cfg     config.Kafka
	logger  *zap.Logger
}

func NewConsumer(handler broker.HandlerFunc, cfg config.Kafka, logger *zap.Logger) *Consumer {
	return &Consumer{
		handler: handler,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumerGroup := kafka.NewConsumerGroup(
		c.cfg.Brokers,
		c.cfg.GroupID,
		[]string{c.cfg.OrderTopic},
		c.handler,
		c.logger,
	)

	return consumerGroup.Run(ctx)
}
