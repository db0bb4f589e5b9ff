package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMustLoad_LocalConfig(t *testing.T) {
	t.Setenv("CONFIG_PATH", "../../config/local.yaml")
	t.Setenv("OUTBOX_MAX_ATTEMPTS", "3")

	cfg := MustLoad()

	require.Equal(t, BrokerKafka, cfg.Broker.Type)
	require.Equal(t, []string{"localhost:9092"}, cfg.Broker.Kafka.Brokers)
	require.Equal(t, "order_events", cfg.Broker.Kafka.OrderTopic)
	require.Equal(t, 5*time.Second, cfg.Reservation.TxTimeout)
	require.Equal(t, 500*time.Millisecond, cfg.Outbox.Interval)
	require.Equal(t, 3, cfg.Outbox.MaxAttempts)
	require.Equal(t, "stock_events", cfg.StockTopic())
}

func TestStockTopic_FollowsBroker(t *testing.T) {
	cfg := &Config{
		Broker: Broker{
			Type:     BrokerRabbitMQ,
			Kafka:    Kafka{StockTopic: "kafka_stock"},
			RabbitMQ: RabbitMQ{StockQueue: "rabbit_stock"},
		},
	}
	require.Equal(t, "rabbit_stock", cfg.StockTopic())

	cfg.Broker.Type = BrokerKafka
	require.Equal(t, "kafka_stock", cfg.StockTopic())
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LoggerConfig{Level: "debug", Env: "prod", Service: "stock-service"})
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = NewLogger(LoggerConfig{Level: "loud", Env: "local"})
	require.Error(t, err)
}
