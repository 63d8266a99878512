package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/nimbuswire/notify-service/internal/config"
	"github.com/nimbuswire/notify-service/internal/domain"
	"github.com/nimbuswire/notify-service/pkg/log"
)

// KafkaBridge implements Bridge on a shared Kafka topic. Events are keyed by
// the event's routing key, so events for the same room or recipient land on
// one partition and keep publish order for any single subscribing instance.
type KafkaBridge struct {
	producer *kafka.Producer
	consumer *kafka.Consumer
	topic    string
	cancel   context.CancelFunc
	doneCh   chan struct{}
}

// NewKafkaBridge connects a producer and a consumer. The consumer group is
// suffixed with the instance ID: fanout means every instance observes every
// event, so instances must not compete within one group.
func NewKafkaBridge(cfg config.KafkaConfig, instanceID string) (*KafkaBridge, error) {
	if err := ensureTopic(cfg.Brokers, cfg.Topic, cfg.Partitions); err != nil {
		l := log.L()
		l.Warn().Err(err).Str("topic", cfg.Topic).Msg("failed to ensure kafka topic (may already exist)")
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       cfg.Brokers,
		"group.id":                fmt.Sprintf("%s-%s", cfg.GroupID, instanceID),
		"auto.offset.reset":       "latest",
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
	})
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	kb := &KafkaBridge{
		producer: p,
		consumer: c,
		topic:    cfg.Topic,
		doneCh:   make(chan struct{}),
	}

	go kb.deliveryReportHandler()

	return kb, nil
}

func ensureTopic(brokers, topic string, partitions int) error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	if partitions <= 0 {
		partitions = 4
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{
		{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		},
	})
	if err != nil {
		return err
	}

	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %v", r.Topic, r.Error)
		}
	}

	return nil
}

func (kb *KafkaBridge) deliveryReportHandler() {
	for e := range kb.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				l := log.L()
				l.Error().Err(ev.TopicPartition.Error).Msg("kafka delivery failed")
			}
		}
	}
	close(kb.doneCh)
}

// Publish sends one event and waits for the broker's acknowledgment, so the
// caller sees an atomic succeed-or-fail.
func (kb *KafkaBridge) Publish(ctx context.Context, event *domain.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	deliveryChan := make(chan kafka.Event, 1)
	err = kb.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &kb.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(event.RoutingKey()),
		Value: value,
	}, deliveryChan)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	select {
	case e := <-deliveryChan:
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			return fmt.Errorf("%w: %v", ErrBrokerUnavailable, m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, ctx.Err())
	}
}

// Subscribe starts the poll loop, invoking the handler once per observed
// message.
func (kb *KafkaBridge) Subscribe(handler Handler) error {
	if err := kb.consumer.Subscribe(kb.topic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", kb.topic, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	kb.cancel = cancel

	go kb.consumeLoop(ctx, handler)

	l := log.L()
	l.Info().Str("topic", kb.topic).Msg("kafka bridge subscribed")
	return nil
}

func (kb *KafkaBridge) consumeLoop(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev := kb.consumer.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			var event domain.Event
			if err := json.Unmarshal(e.Value, &event); err != nil {
				l := log.L()
				l.Warn().Err(err).Msg("kafka bridge: failed to unmarshal event")
				continue
			}
			handler(ctx, &event)

		case kafka.Error:
			l := log.L()
			l.Error().Int("code", int(e.Code())).Bool("fatal", e.IsFatal()).Msgf("kafka bridge error: %v", e)
			if e.IsFatal() {
				return
			}

		case kafka.OffsetsCommitted:
			// Normal auto-commit
		default:
			// Ignore other events (rebalance, etc.)
		}
	}
}

func (kb *KafkaBridge) Close() error {
	if kb.cancel != nil {
		kb.cancel()
	}
	if err := kb.consumer.Close(); err != nil {
		l := log.L()
		l.Warn().Err(err).Msg("failed to close kafka consumer")
	}
	kb.producer.Flush(5000)
	kb.producer.Close()
	<-kb.doneCh
	return nil
}
