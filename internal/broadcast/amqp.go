package broadcast

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/noah-isme/juliana/internal/events"
)

// DefaultExchange is the fanout exchange price tickers bind their queues to.
const DefaultExchange = "juliana_prices_fanout"

// AMQPChannel is the subset of *amqp.Channel the publisher uses.
type AMQPChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events to a RabbitMQ fanout exchange with the topic as
// routing key.
type AMQPPublisher struct {
	Channel  AMQPChannel
	Exchange string
	conn     *amqp.Connection
}

// DialAMQP connects to RabbitMQ and declares the fanout exchange.
func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange, // name
		"fanout", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{Channel: ch, Exchange: exchange, conn: conn}, nil
}

// Notify implements events.Notifier.
func (p *AMQPPublisher) Notify(ctx context.Context, event events.Event) error {
	if p == nil || p.Channel == nil {
		return errors.New("broadcast: amqp channel not configured")
	}
	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    event.ID.String(),
		Timestamp:    event.OccurredAt,
		Type:         event.Topic,
		Body:         event.Payload,
	}
	if err := p.Channel.PublishWithContext(ctx, p.Exchange, event.Topic, false, false, publishing); err != nil {
		return fmt.Errorf("amqp publish %s: %w", event.Topic, err)
	}
	return nil
}

// Close releases the channel and the connection opened by DialAMQP.
func (p *AMQPPublisher) Close() error {
	if p == nil {
		return nil
	}
	var err error
	if p.Channel != nil {
		err = p.Channel.Close()
	}
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}
