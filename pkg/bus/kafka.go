package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/domain"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/kafka"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/mylogger"
	"go.uber.org/zap"
)

type subscription struct {
	group   string
	topics  []string
	handler Handler
}

// Kafka publishes envelopes as JSON records keyed by order id (or event id
// for event-level messages) and consumes them through sarama consumer groups.
type Kafka struct {
	producer kafka.Producer
	brokers  []string
	logger   *zap.Logger

	mu   sync.Mutex
	subs []subscription
	wg   sync.WaitGroup
}

func NewKafka(producer kafka.Producer, brokers []string, logger *zap.Logger) *Kafka {
	return &Kafka{
		producer: producer,
		brokers:  brokers,
		logger:   logger,
	}
}

func (k *Kafka) Publish(ctx context.Context, topic string, env domain.Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope %s: %w", env.ID, err)
	}

	key := env.OrderID
	if key == "" {
		key = env.EventID
	}

	return k.producer.Produce(ctx, topic, key, value)
}

func (k *Kafka) Subscribe(group string, topics []string, h Handler) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.subs = append(k.subs, subscription{group: group, topics: topics, handler: h})
	return nil
}

func (k *Kafka) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, sub := range k.subs {
		cg := kafka.NewConsumerGroup(k.brokers, sub.group, sub.topics, k.adapt(sub), k.logger)

		k.wg.Add(1)
		go func() {
			defer k.wg.Done()

			if err := cg.Run(ctx); err != nil {
				mylogger.Error(ctx, k.logger, "Consumer group stopped", zap.String("group", sub.group), zap.Error(err))
			}
		}()
	}

	return nil
}

// Wait blocks until every consumer group has stopped.
func (k *Kafka) Wait() {
	k.wg.Wait()
}

func (k *Kafka) Close() error {
	return k.producer.Close()
}

func (k *Kafka) adapt(sub subscription) kafka.HandlerFunc {
	return func(ctx context.Context, msg *sarama.ConsumerMessage) error {
		var env domain.Envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			mylogger.Error(
				ctx,
				k.logger,
				"Dropping undecodable message",
				zap.String("group", sub.group),
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)

			return nil
		}

		return sub.handler(ctx, env)
	}
}
