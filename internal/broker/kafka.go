package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"printshop/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}

	return &Producer{writer: writer, logger: util.GetLogger()}
}

// PublishEvent publishes an event to Kafka. Events for the same key land on
// the same partition so consumers see an order's history in sequence.
func (p *Producer) PublishEvent(ctx context.Context, key string, event interface{}) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: eventBytes,
		Time:  time.Now(),
	}

	err = p.writer.WriteMessages(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	p.logger.Debug("Published event", zap.String("key", key), zap.String("type", fmt.Sprintf("%T", event)))
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer represents a Kafka consumer
type Consumer struct {
	reader *kafka.Reader
	logger *zap.Logger
}

// NewConsumer creates a new Kafka consumer. An empty groupID reads the
// partition without committing offsets.
func NewConsumer(brokers []string, topic, groupID string, fromStart bool) *Consumer {
	start := kafka.LastOffset
	if fromStart {
		start = kafka.FirstOffset
	}
	cfg := kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: start,
	}
	if groupID != "" {
		cfg.CommitInterval = time.Second
	}

	c := &Consumer{reader: kafka.NewReader(cfg), logger: util.GetLogger()}
	if groupID == "" && !fromStart {
		// StartOffset only applies to consumer groups
		seekToLatest(c.reader, topic, c.logger)
	}
	return c
}

type offsetSetter interface {
	SetOffset(offset int64) error
}

func seekToLatest(r offsetSetter, topic string, logger *zap.Logger) {
	if err := r.SetOffset(kafka.LastOffset); err != nil {
		logger.Warn("Failed to seek consumer to latest offset, reading from the first retained message",
			zap.String("topic", topic),
			zap.Error(err))
	}
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// MessageHandler is a function type for handling messages
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// StartConsuming reads messages until ctx is cancelled. Handler errors are
// logged and the message is still acknowledged.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting Kafka consumer", zap.String("topic", c.reader.Config().Topic))

	grouped := c.reader.Config().GroupID != ""
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			c.logger.Warn("Error fetching message", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		if err := handler(ctx, msg); err != nil {
			c.logger.Error("Error handling message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}

		if grouped {
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.logger.Warn("Error committing message", zap.Error(err))
			}
		}
	}
}
