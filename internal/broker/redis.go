package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nimbuswire/notify-service/internal/config"
	"github.com/nimbuswire/notify-service/internal/domain"
	"github.com/nimbuswire/notify-service/pkg/log"
)

// RedisBridge implements Bridge on a Redis Pub/Sub channel. Redis delivers
// every published message to every subscriber, which is exactly the fanout
// contract; it trades Kafka's replay and partition ordering for simpler
// operations.
type RedisBridge struct {
	client  *redis.Client
	channel string
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
}

// NewRedisBridge connects to Redis and verifies the connection.
func NewRedisBridge(cfg config.RedisConfig) (*RedisBridge, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBridge{
		client:  client,
		channel: cfg.Channel,
	}, nil
}

func (rb *RedisBridge) Publish(ctx context.Context, event *domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := rb.client.Publish(ctx, rb.channel, data).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return nil
}

func (rb *RedisBridge) Subscribe(handler Handler) error {
	ctx, cancel := context.WithCancel(context.Background())
	rb.cancel = cancel
	rb.pubsub = rb.client.Subscribe(ctx, rb.channel)

	go rb.consumeLoop(ctx, handler)

	l := log.L()
	l.Info().Str("channel", rb.channel).Msg("redis bridge subscribed")
	return nil
}

func (rb *RedisBridge) consumeLoop(ctx context.Context, handler Handler) {
	ch := rb.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				l := log.L()
				l.Warn().Err(err).Msg("redis bridge: failed to unmarshal event")
				continue
			}
			handler(ctx, &event)
		}
	}
}

func (rb *RedisBridge) Close() error {
	if rb.cancel != nil {
		rb.cancel()
	}
	if rb.pubsub != nil {
		rb.pubsub.Close()
	}
	return rb.client.Close()
}
