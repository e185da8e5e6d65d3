package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/hanko-field/checkout/internal/domain"
)

// NewKafkaSyncProducer builds a synchronous producer for the order event topic.
func NewKafkaSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_6_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Net.MaxOpenRequests = 1
	cfg.Net.DialTimeout = 5 * time.Second
	return sarama.NewSyncProducer(brokers, cfg)
}

// KafkaOrderEventPublisher publishes order status events to Kafka, keyed by order ID so
// that events for one order land on one partition in commit order.
type KafkaOrderEventPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaOrderEventPublisher wraps producer for topic.
func NewKafkaOrderEventPublisher(producer sarama.SyncProducer, topic string) (*KafkaOrderEventPublisher, error) {
	if producer == nil {
		return nil, errors.New("kafka order event publisher: producer is required")
	}
	if topic == "" {
		return nil, errors.New("kafka order event publisher: topic is required")
	}
	return &KafkaOrderEventPublisher{producer: producer, topic: topic}, nil
}

// PublishOrderEvent sends the event and blocks until the broker acknowledges it.
func (p *KafkaOrderEventPublisher) PublishOrderEvent(_ context.Context, event domain.OrderEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.OrderID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(event.Type)},
			{Key: []byte("status"), Value: []byte(event.Status)},
		},
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// Close shuts the underlying producer down.
func (p *KafkaOrderEventPublisher) Close() error {
	return p.producer.Close()
}
