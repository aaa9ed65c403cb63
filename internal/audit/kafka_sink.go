package audit

import (
	"context"

	"github.com/google/uuid"

	"watchtower/internal/adapters/kafka"
)

// KafkaSink appends audit entries to the durable Kafka audit topic
type KafkaSink struct {
	producer *kafka.Producer
	topic    string
}

// NewKafkaSink creates a sink publishing to topic
func NewKafkaSink(producer *kafka.Producer, topic string) *KafkaSink {
	return &KafkaSink{
		producer: producer,
		topic:    topic,
	}
}

// Name identifies the sink in logs and metrics
func (s *KafkaSink) Name() string {
	return "kafka"
}

// Append publishes one entry keyed by a fresh id
func (s *KafkaSink) Append(ctx context.Context, tag string, payload []byte) (string, error) {
	id := uuid.NewString()
	if err := s.producer.PublishBinary(ctx, s.topic, id, payload); err != nil {
		return "", err
	}
	return id, nil
}
