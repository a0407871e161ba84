package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSink publishes compliance-category events to a Kafka topic for
// long-term retention outside the service database. Operations events are
// skipped; they stay local.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// NewKafkaSink connects a franz-go producer. Returns nil when no brokers are
// configured so callers can treat the sink as optional.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchMaxBytes(1<<20),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &KafkaSink{client: client, topic: topic}, nil
}

type kafkaPayload struct {
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
	Subject   string `json:"subject"`
	Action    string `json:"action"`
	Operator  string `json:"operator,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *KafkaSink) Append(ctx context.Context, event Event) error {
	if event.Category != CategoryCompliance {
		return nil
	}
	value, err := json.Marshal(kafkaPayload{
		Category:  string(event.Category),
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
		Subject:   event.Subject,
		Action:    string(event.Action),
		Operator:  event.Operator,
		Reason:    event.Reason,
		RequestID: event.RequestID,
	})
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.Subject),
		Value: value,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// Close flushes and shuts down the producer.
func (s *KafkaSink) Close() {
	if s != nil && s.client != nil {
		s.client.Close()
	}
}
