package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

func InitConsumer(logger *zap.Logger) (sarama.Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true
	config.Consumer.Retry.Backoff = 1 * time.Second

	brokers := []string{getEnv("KAFKA_BROKER", "localhost:9092")}

	consumer, err := sarama.NewConsumer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	logger.Info("Kafka consumer initialized")
	return consumer, nil
}

// MessageHandler processes one consumed record. ctx carries the trace
// context extracted from the record headers.
type MessageHandler func(ctx context.Context, value []byte) error

// StartConsumer reads a topic and hands each record to handler with a small
// bounded retry. It returns when ctx is cancelled.
func StartConsumer(ctx context.Context, consumer sarama.Consumer, topic string, handler MessageHandler, logger *zap.Logger) error {
	partitionConsumer, err := consumer.ConsumePartition(topic, 0, sarama.OffsetNewest)
	if err != nil {
		return fmt.Errorf("failed to consume partition: %w", err)
	}
	defer partitionConsumer.Close()

	logger.Info("Kafka consumer started", zap.String("topic", topic))

	for {
		select {
		case <-ctx.Done():
			return nil
		case message := <-partitionConsumer.Messages():
			msgCtx := extractTraceContext(message)
			if err := handleWithRetry(msgCtx, message.Value, handler, logger, 3); err != nil {
				logger.Error("Failed to handle message after retries",
					zap.String("topic", topic),
					zap.Error(err),
				)
			}
		case err := <-partitionConsumer.Errors():
			logger.Error("Kafka consumer error", zap.Error(err))
		}
	}
}

func extractTraceContext(message *sarama.ConsumerMessage) context.Context {
	var propagator propagation.TextMapPropagator = otel.GetTextMapPropagator()
	carrier := consumerHeaderCarrier(message.Headers)
	return propagator.Extract(context.Background(), carrier)
}

func handleWithRetry(ctx context.Context, value []byte, handler MessageHandler, logger *zap.Logger, maxRetries int) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = handler(ctx, value)
		if lastErr == nil {
			return nil
		}
		if attempt < maxRetries {
			backoff := time.Duration(attempt) * time.Second
			logger.Warn("Retrying message handling",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			time.Sleep(backoff)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}
