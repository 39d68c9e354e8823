package notify

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"github.com/streadway/amqp"
)

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, []byte) error { return nil }
func (Nop) Close() error                                  { return nil }

// AMQP publishes events to a RabbitMQ fanout exchange so every connected
// staff screen gets its own copy.
type AMQP struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// DialAMQP connects to url and declares the durable fanout exchange.
func DialAMQP(url, exchange string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp")
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}

	if err := channel.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %q", exchange)
	}

	return &AMQP{conn: conn, channel: channel, exchange: exchange}, nil
}

// Publish sends body as a persistent JSON message.
func (a *AMQP) Publish(_ context.Context, key string, body []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.channel.Publish(a.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    key,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

// Close closes the channel and connection.
func (a *AMQP) Close() error {
	if err := a.channel.Close(); err != nil {
		_ = a.conn.Close()
		return err
	}
	return a.conn.Close()
}

// Ping reports whether the connection is still open.
func (a *AMQP) Ping(context.Context) error {
	if a.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	return nil
}

// Kafka publishes events to a topic, partitioned by order id.
type Kafka struct {
	w       *kafka.Writer
	brokers []string
}

// NewKafka creates a writer for topic on brokers.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}, brokers: brokers}
}

func (k *Kafka) Publish(ctx context.Context, key string, body []byte) error {
	return k.w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: body, Time: time.Now().UTC()})
}

func (k *Kafka) Close() error {
	return k.w.Close()
}

// Ping dials the first reachable broker.
func (k *Kafka) Ping(ctx context.Context) error {
	var lastErr error
	for _, addr := range k.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	if lastErr == nil {
		return errors.New("no kafka brokers configured")
	}
	return errors.Wrap(lastErr, "dial kafka")
}
