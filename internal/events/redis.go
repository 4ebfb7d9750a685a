package events

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	redis "github.com/redis/go-redis/v9"

	"bagurumba/internal/redisclient"
)

const (
	defaultRedisStream = "bagurumba:video-events"
	defaultRedisMaxLen = 10000
)

// RedisConfig configures the Redis Streams publisher.
type RedisConfig struct {
	Client redisclient.Config
	Stream string
	// MaxLen caps the stream with approximate trimming.
	MaxLen int64
	Logger *slog.Logger
}

// RedisPublisher appends events to a capped Redis stream with XADD.
type RedisPublisher struct {
	client redis.UniversalClient
	stream string
	maxLen int64
	logger *slog.Logger
}

// NewRedisPublisher connects lazily; the first Publish dials the server.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	client, err := redisclient.New(cfg.Client)
	if err != nil {
		return nil, err
	}
	return newRedisPublisherWithClient(client, cfg), nil
}

func newRedisPublisherWithClient(client redis.UniversalClient, cfg RedisConfig) *RedisPublisher {
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = defaultRedisStream
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = defaultRedisMaxLen
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen, logger: logger}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := event.marshal()
	if err != nil {
		return err
	}
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":    event.Type,
			"payload": string(payload),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	p.logger.Debug("event published", "stream", p.stream, "entry_id", id, "type", event.Type, "correlation_id", event.CorrelationID)
	return nil
}

// Ping checks connectivity for health reporting.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
