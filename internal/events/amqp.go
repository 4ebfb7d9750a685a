package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultAMQPQueue = "bagurumba.video_events"

// AMQPConfig configures the RabbitMQ publisher.
type AMQPConfig struct {
	URL string
	// Exchange is optional; the default exchange routes by queue name.
	Exchange   string
	Queue      string
	RoutingKey string
	Logger     *slog.Logger
	// Dial is overridden in tests.
	Dial func(url string) (*amqp.Connection, error)
}

// AMQPPublisher publishes persistent JSON messages to a durable queue. The
// connection is re-dialled on the next Publish after it drops.
type AMQPPublisher struct {
	cfg    AMQPConfig
	logger *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// NewAMQPPublisher dials the broker and declares the queue.
func NewAMQPPublisher(cfg AMQPConfig) (*AMQPPublisher, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("amqp url is required")
	}
	if strings.TrimSpace(cfg.Queue) == "" {
		cfg.Queue = defaultAMQPQueue
	}
	if strings.TrimSpace(cfg.RoutingKey) == "" {
		cfg.RoutingKey = cfg.Queue
	}
	if cfg.Dial == nil {
		cfg.Dial = amqp.Dial
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &AMQPPublisher{cfg: cfg, logger: logger}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connectLocked() error {
	conn, err := p.cfg.Dial(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.cfg.Queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare amqp queue %s: %w", p.cfg.Queue, err)
	}
	if p.cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(p.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("declare amqp exchange %s: %w", p.cfg.Exchange, err)
		}
		if err := ch.QueueBind(p.cfg.Queue, p.cfg.RoutingKey, p.cfg.Exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return fmt.Errorf("bind amqp queue %s: %w", p.cfg.Queue, err)
		}
	}
	p.conn = conn
	p.channel = ch
	return nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := event.marshal()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("amqp publisher closed")
	}
	if p.conn == nil || p.conn.IsClosed() || p.channel == nil || p.channel.IsClosed() {
		p.logger.Warn("amqp connection lost, reconnecting", "queue", p.cfg.Queue)
		if err := p.connectLocked(); err != nil {
			return err
		}
	}
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	err = p.channel.PublishWithContext(ctx, p.cfg.Exchange, p.cfg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         event.Type,
		Timestamp:    occurred,
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("publish amqp message: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var errs []error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
