// Package publish announces computed evidence to downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Notification announces one stored evidence record.
type Notification struct {
	EvidenceID    string    `json:"evidence_id"`
	DeviceID      string    `json:"device_id"`
	CorrelationID string    `json:"correlation_id"`
	CaptureKey    string    `json:"capture_key,omitempty"`
	MediaDigest   string    `json:"media_digest"`
	ManifestID    string    `json:"manifest_id"`
	Confidence    string    `json:"confidence"`
	CreatedAt     time.Time `json:"created_at"`
}

// Publisher delivers notifications.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
	Close() error
}

// NopPublisher drops every notification. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Notification) error { return nil }
func (NopPublisher) Close() error                                { return nil }

// AMQPConfig describes the broker connection.
type AMQPConfig struct {
	URL        string
	Exchange   string // empty publishes through the default exchange
	RoutingKey string // defaults to Queue
	Queue      string
	Durable    bool
}

// AMQPPublisher publishes notifications as persistent JSON messages.
type AMQPPublisher struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

// NewAMQPPublisher dials the broker and declares the queue.
func NewAMQPPublisher(cfg AMQPConfig) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "realitycam.evidence"
	}
	routingKey := cfg.RoutingKey
	if routingKey == "" {
		routingKey = queue
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to amqp broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if cfg.Exchange != "" {
		if err := ch.QueueBind(queue, routingKey, cfg.Exchange, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("bind queue %s to %s: %w", queue, cfg.Exchange, err)
		}
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: cfg.Exchange, routingKey: routingKey}, nil
}

// Publish sends n. The channel is shared, so publishes are serialized.
func (p *AMQPPublisher) Publish(ctx context.Context, n Notification) error {
	if p == nil || p.ch == nil {
		return errors.New("amqp publisher not initialized")
	}
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, Message(n, body))
}

// Message builds the AMQP message for n with the given encoded body.
func Message(n Notification, body []byte) amqp.Publishing {
	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     n.EvidenceID,
		CorrelationId: n.CorrelationID,
		Timestamp:     n.CreatedAt,
		Type:          "evidence.computed",
		Body:          body,
	}
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	if p == nil {
		return nil
	}
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
