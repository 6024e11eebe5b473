package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	RoutingConnectionOpened = "gateway.connection.opened"
	RoutingConnectionClosed = "gateway.connection.closed"
	RoutingModeration       = "gateway.moderation"
)

// Publisher ships gateway lifecycle and audit envelopes to a message bus.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, env Envelope) error
	Close() error
}

type Envelope struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	OccurredAt    time.Time `json:"occurred_at"`
	Service       string    `json:"service"`
	UserId        string    `json:"user_id,omitempty"`
	TraceId       string    `json:"trace_id,omitempty"`
	Payload       any       `json:"payload,omitempty"`
}

func NewEnvelope(eventType, userId string, payload any) Envelope {
	return Envelope{
		SchemaVersion: 1,
		EventType:     eventType,
		OccurredAt:    time.Now().UTC(),
		Service:       "gochat-gateway",
		UserId:        userId,
		Payload:       payload,
	}
}

// NewPublisher dials amqpURL and declares a durable topic exchange. Any
// failure, including an empty URL, yields a publisher that only logs.
func NewPublisher(logger *log.Logger, amqpURL, exchange string) Publisher {
	if amqpURL == "" {
		logger.Println("event bus disabled: empty amqp url")
		return NoopPublisher{log: logger}
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		logger.Printf("event bus disabled: %v", err)
		return NoopPublisher{log: logger}
	}

	ch, err := conn.Channel()
	if err != nil {
		logger.Printf("event bus disabled: %v", err)
		_ = conn.Close()
		return NoopPublisher{log: logger}
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		logger.Printf("event bus disabled: %v", err)
		_ = ch.Close()
		_ = conn.Close()
		return NoopPublisher{log: logger}
	}

	logger.Printf("event bus connected exchange=%s", exchange)
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, log: logger}
}

type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *log.Logger
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	headers := amqp.Table{}
	for k, v := range BuildHeaders(env) {
		headers[k] = v
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    env.OccurredAt,
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		p.log.Printf("event publish failed routing_key=%s: %v", routingKey, err)
	}
	return err
}

func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type NoopPublisher struct {
	log *log.Logger
}

func (p NoopPublisher) Publish(ctx context.Context, routingKey string, env Envelope) error {
	if p.log != nil {
		p.log.Printf("event noop publish routing_key=%s event_type=%s user_id=%s", routingKey, env.EventType, env.UserId)
	}
	return nil
}

func (NoopPublisher) Close() error {
	return nil
}

func BuildHeaders(env Envelope) map[string]string {
	headers := map[string]string{"event_type": env.EventType}
	if env.UserId != "" {
		headers["user_id"] = env.UserId
	}
	if env.TraceId != "" {
		headers["trace_id"] = env.TraceId
	}
	return headers
}
