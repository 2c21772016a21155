package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer owns a queue bound to a topic exchange and hands out its
// delivery channel. Deliveries are manually acknowledged by the caller.
type Consumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	tag   string
}

// NewConsumer dials the broker, declares the exchange and a durable queue,
// and binds the queue to the given routing keys.
func NewConsumer(amqpURL, exchange, queue string, routingKeys []string) (*Consumer, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	for _, key := range routingKeys {
		if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	return &Consumer{conn: conn, ch: ch, queue: queue, tag: queue + "-consumer"}, nil
}

// Deliveries starts consuming and returns the delivery channel.
func (c *Consumer) Deliveries() (<-chan amqp.Delivery, error) {
	return c.ch.Consume(c.queue, c.tag, false, false, false, false, nil)
}

// Close cancels the consumer and tears down the connection.
func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Cancel(c.tag, false)
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
