package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/streadway/amqp"
)

// Publisher hands a message to the broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey, contentType string, body []byte) error
}

// RabbitClient publishes to a durable topic exchange.
type RabbitClient struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// DialRabbit connects to url and declares exchange.
func DialRabbit(url, exchange string) (*RabbitClient, error) {
	if url == "" {
		return nil, errors.New("notify: rabbitmq url is empty")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &RabbitClient{conn: conn, channel: ch, exchange: exchange}, nil
}

// Publish sends a persistent message. The channel has no context support, so
// ctx is only checked up front.
func (r *RabbitClient) Publish(ctx context.Context, routingKey, contentType string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.channel.Publish(r.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Close closes the channel and connection for graceful shutdown.
func (r *RabbitClient) Close() error {
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			return err
		}
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
