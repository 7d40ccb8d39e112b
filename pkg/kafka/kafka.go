package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

const (
	maxRetries = 10
	retryDelay = 3 * time.Second
)

// NewClientFunc lets tests replace the broker probe.
var NewClientFunc = sarama.NewClient

func waitForKafka(ctx context.Context, brokers []string, logger zerolog.Logger) error {
	for i := 0; i < maxRetries; i++ {
		config := sarama.NewConfig()
		config.Net.DialTimeout = 1 * time.Second
		client, err := NewClientFunc(brokers, config)
		if err == nil {
			client.Close()
			return nil
		}
		logger.Info().Int("attempt", i+1).Msg("Waiting for Kafka to be ready...")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return fmt.Errorf("kafka not available after %d attempts", maxRetries)
}

// ProducerConfig builds the sarama config for payment event publishing.
// Events are keyed by user id so one user's payments stay ordered.
func ProducerConfig(retryMax int, retryBackoff time.Duration) *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Retry.Max = retryMax
	config.Producer.Retry.Backoff = retryBackoff
	return config
}

func ConsumerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	return config
}

func NewProducer(ctx context.Context, broker string, retryMax int, retryBackoff time.Duration, logger zerolog.Logger) (sarama.SyncProducer, error) {
	brokers := []string{broker}
	if err := waitForKafka(ctx, brokers, logger); err != nil {
		return nil, err
	}
	return sarama.NewSyncProducer(brokers, ProducerConfig(retryMax, retryBackoff))
}

func NewConsumer(ctx context.Context, broker, group string, logger zerolog.Logger) (sarama.ConsumerGroup, error) {
	brokers := []string{broker}
	if err := waitForKafka(ctx, brokers, logger); err != nil {
		return nil, err
	}
	return sarama.NewConsumerGroup(brokers, group, ConsumerConfig())
}
