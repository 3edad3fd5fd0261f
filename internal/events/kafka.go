package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	publishAttempts  = 3
	publishBaseDelay = 100 * time.Millisecond
)

type KafkaConfig struct {
	Brokers        []string
	ClientID       string
	Acks           string
	Retries        int
	TopicSales     string
	TopicInventory string
}

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topics   map[string]string
	logger   *zap.Logger
}

func NewKafkaPublisher(cfg KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_1_0_0
	sc.ClientID = cfg.ClientID
	sc.Producer.Return.Successes = true
	sc.Producer.Retry.Max = cfg.Retries
	sc.Producer.Timeout = 5 * time.Second

	switch cfg.Acks {
	case "0":
		sc.Producer.RequiredAcks = sarama.NoResponse
	case "1":
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	default:
		sc.Producer.RequiredAcks = sarama.WaitForAll
		sc.Producer.Idempotent = true
		sc.Net.MaxOpenRequests = 1
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, cfg, logger), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer. Only the topic
// fields of cfg are read.
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, cfg KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{
		producer: producer,
		topics: map[string]string{
			TypeSaleCommitted:       cfg.TopicSales,
			TypeInventoryReconciled: cfg.TopicInventory,
		},
		logger: logger,
	}
}

func (p *KafkaPublisher) buildMessage(event Event) (*sarama.ProducerMessage, error) {
	topic, ok := p.topics[event.EventType()]
	if !ok || topic == "" {
		return nil, fmt.Errorf("no topic for event type %s", event.EventType())
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(event.EventType())},
			{Key: []byte("event-id"), Value: []byte(uuid.NewString())},
			{Key: []byte("timestamp"), Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}
	if key := event.PartitionKey(); key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	return msg, nil
}

// Publish sends the event, retrying with exponential backoff.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	msg, err := p.buildMessage(event)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < publishAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled: %w", err)
		}

		partition, offset, sendErr := p.producer.SendMessage(msg)
		if sendErr == nil {
			p.logger.Debug("event published",
				zap.String("topic", msg.Topic),
				zap.Int32("partition", partition),
				zap.Int64("offset", offset),
				zap.String("event_type", event.EventType()),
				zap.Int("attempt", attempt+1),
			)
			return nil
		}
		err = sendErr
		p.logger.Warn("failed to publish event, retrying",
			zap.String("topic", msg.Topic),
			zap.Error(sendErr),
			zap.Int("attempt", attempt+1),
		)

		if attempt < publishAttempts-1 {
			delay := publishBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during backoff: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("failed to publish event after %d attempts: %w", publishAttempts, err)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
