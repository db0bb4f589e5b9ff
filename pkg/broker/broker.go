// Package broker holds the transport-neutral message types shared by the Kafka and RabbitMQ adapters.
package broker

import "context"

// Message is a single record published to a topic (Kafka) or queue (RabbitMQ).
type Message struct {
	Topic   string
	Key     string
	Payload []byte
	Headers map[string]string
}

type Producer interface {
	ProduceMessage(ctx context.Context, msg *Message) error
	Close() error
}

// HandlerFunc processes one delivery. A nil error acknowledges it; any error leaves it for redelivery.
type HandlerFunc func(ctx context.Context, payload []byte) error
